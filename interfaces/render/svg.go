package render

import (
	"fmt"
	"html"
	"io"
	"strings"
)

// SVGOptions controls the exported drawing
type SVGOptions struct {
	Background string
	Labels     bool
	// MaxLabel truncates labels longer than this many runes
	MaxLabel int
}

// DefaultSVGOptions draws labels on a dark background
func DefaultSVGOptions() SVGOptions {
	return SVGOptions{Background: "#111827", Labels: true, MaxLabel: 24}
}

// WriteSVG draws the current glyphs. Hidden glyphs are left out.
func WriteSVG(w io.Writer, s *Scene, opts SVGOptions) error {
	if s.Dirty() {
		s.Frame()
	}
	vp := s.Viewport()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="%.0f" height="%.0f" viewBox="0 0 %.0f %.0f">`,
		vp.Width, vp.Height, vp.Width, vp.Height))
	sb.WriteString("\n")
	if opts.Background != "" {
		sb.WriteString(fmt.Sprintf(`<rect width="100%%" height="100%%" fill="%s"/>`, html.EscapeString(opts.Background)))
		sb.WriteString("\n")
	}

	sb.WriteString(`<g class="edges" stroke="#6b7280" stroke-opacity="0.6">`)
	sb.WriteString("\n")
	for _, e := range s.Edges() {
		if e.Hidden {
			continue
		}
		sb.WriteString(fmt.Sprintf(`<line x1="%.2f" y1="%.2f" x2="%.2f" y2="%.2f" stroke-width="%.2f" data-type="%s"/>`,
			e.X1, e.Y1, e.X2, e.Y2, e.Width, html.EscapeString(e.Type)))
		sb.WriteString("\n")
	}
	sb.WriteString("</g>\n")

	sb.WriteString(`<g class="nodes">`)
	sb.WriteString("\n")
	for _, n := range s.Nodes() {
		if n.Hidden {
			continue
		}
		stroke := "none"
		switch {
		case n.Selected:
			stroke = "#ffffff"
		case n.Pinned:
			stroke = "#fbbf24"
		}
		sb.WriteString(fmt.Sprintf(`<circle id="%s" cx="%.2f" cy="%.2f" r="%.2f" fill="%s" stroke="%s"/>`,
			html.EscapeString(n.ID), n.X, n.Y, n.Radius, n.Color, stroke))
		sb.WriteString("\n")
		if opts.Labels {
			sb.WriteString(fmt.Sprintf(`<text x="%.2f" y="%.2f" font-size="10" fill="#e5e7eb" text-anchor="middle">%s</text>`,
				n.X, n.Y+n.Radius+11, html.EscapeString(truncateLabel(n.Label, opts.MaxLabel))))
			sb.WriteString("\n")
		}
	}
	sb.WriteString("</g>\n</svg>\n")

	_, err := io.WriteString(w, sb.String())
	return err
}

func truncateLabel(s string, max int) string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
