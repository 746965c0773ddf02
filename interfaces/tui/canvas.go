package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Steake/GodelOS-sub005/interfaces/render"
)

// A terminal cell covers this many viewport pixels
const (
	cellWidth  = 8.0
	cellHeight = 16.0
)

const (
	runeNode     = '●'
	runePinned   = '◆'
	runeSelected = '◉'
	runeEdge     = '·'
)

const edgeColor = "#4b5563"

type cell struct {
	r     rune
	color string
	bold  bool
}

// Canvas is a character raster of the scene
type Canvas struct {
	cols, rows int
	cells      []cell
}

// NewCanvas creates an empty canvas
func NewCanvas(cols, rows int) *Canvas {
	cols, rows = max(cols, 0), max(rows, 0)
	c := &Canvas{cols: cols, rows: rows, cells: make([]cell, cols*rows)}
	for i := range c.cells {
		c.cells[i].r = ' '
	}
	return c
}

// CellAt converts a terminal cell to the viewport point at its center
func CellAt(col, row int) render.Point {
	return render.Point{X: (float64(col) + 0.5) * cellWidth, Y: (float64(row) + 0.5) * cellHeight}
}

func toCell(x, y float64) (int, int) {
	return int(x / cellWidth), int(y / cellHeight)
}

func (c *Canvas) at(col, row int) *cell {
	if col < 0 || row < 0 || col >= c.cols || row >= c.rows {
		return nil
	}
	return &c.cells[row*c.cols+col]
}

// Draw rasterizes edges first and nodes on top. Labels are written for
// selected and pinned nodes.
func (c *Canvas) Draw(nodes []render.NodeGlyph, edges []render.EdgeGlyph) {
	for _, e := range edges {
		if e.Hidden {
			continue
		}
		x0, y0 := toCell(e.X1, e.Y1)
		x1, y1 := toCell(e.X2, e.Y2)
		c.line(x0, y0, x1, y1)
	}

	// Nodes arrive back to front
	for _, n := range nodes {
		if n.Hidden {
			continue
		}
		col, row := toCell(n.X, n.Y)
		target := c.at(col, row)
		if target == nil {
			continue
		}
		target.r = runeNode
		target.color = n.Color
		target.bold = false
		switch {
		case n.Selected:
			target.r = runeSelected
			target.bold = true
		case n.Pinned:
			target.r = runePinned
		}
		if n.Selected || n.Pinned {
			c.label(col+2, row, n.Label, n.Selected)
		}
	}
}

// line draws a Bresenham segment without covering its endpoints
func (c *Canvas) line(x0, y0, x1, y1 int) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	x, y := x0, y0
	errTerm := dx + dy
	for {
		if (x != x0 || y != y0) && (x != x1 || y != y1) {
			if target := c.at(x, y); target != nil && target.r == ' ' {
				target.r = runeEdge
				target.color = edgeColor
			}
		}
		if x == x1 && y == y1 {
			return
		}
		e2 := 2 * errTerm
		if e2 >= dy {
			errTerm += dy
			x += sx
		}
		if e2 <= dx {
			errTerm += dx
			y += sy
		}
	}
}

func (c *Canvas) label(col, row int, text string, bold bool) {
	for i, r := range []rune(text) {
		target := c.at(col+i, row)
		if target == nil {
			return
		}
		if target.r == runeNode || target.r == runePinned || target.r == runeSelected {
			return
		}
		target.r = r
		target.color = "#e5e7eb"
		target.bold = bold
	}
}

// Plain returns the raster without styling
func (c *Canvas) Plain() string {
	var sb strings.Builder
	for row := 0; row < c.rows; row++ {
		if row > 0 {
			sb.WriteByte('\n')
		}
		for col := 0; col < c.cols; col++ {
			sb.WriteRune(c.cells[row*c.cols+col].r)
		}
	}
	return sb.String()
}

// Render returns the raster with colors, styling each run of equal cells once
func (c *Canvas) Render() string {
	var sb strings.Builder
	var run strings.Builder
	for row := 0; row < c.rows; row++ {
		if row > 0 {
			sb.WriteByte('\n')
		}
		start := 0
		for start < c.cols {
			first := c.cells[row*c.cols+start]
			end := start
			run.Reset()
			for end < c.cols {
				cur := c.cells[row*c.cols+end]
				if cur.color != first.color || cur.bold != first.bold {
					break
				}
				run.WriteRune(cur.r)
				end++
			}
			if first.color == "" {
				sb.WriteString(run.String())
			} else {
				style := lipgloss.NewStyle().Foreground(lipgloss.Color(first.color)).Bold(first.bold)
				sb.WriteString(style.Render(run.String()))
			}
			start = end
		}
	}
	return sb.String()
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
