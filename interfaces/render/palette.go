// Package render projects the graph model and layout positions into glyphs
// and turns pointer input back into layout and selection changes.
package render

import (
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/Steake/GodelOS-sub005/domain/core/entities"
	"github.com/Steake/GodelOS-sub005/domain/layout"
)

// Color is an sRGB color
type Color struct {
	R, G, B uint8
}

// Hex renders the color as #rrggbb
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Ramp endpoints for the scalar color modes
var (
	lowImportance  = Color{R: 0x4a, G: 0x55, B: 0x68}
	highImportance = Color{R: 0xf5, G: 0x9e, B: 0x0b}
	lowConfidence  = Color{R: 0xef, G: 0x44, B: 0x44}
	highConfidence = Color{R: 0x22, G: 0xc5, B: 0x5e}
	staleColor     = Color{R: 0x37, G: 0x41, B: 0x51}
	freshColor     = Color{R: 0x38, G: 0xbd, B: 0xf8}
)

// Palette maps a node to a color according to the active color mode
type Palette struct {
	mu       sync.RWMutex
	mode     layout.ColorMode
	halfLife time.Duration
	now      func() time.Time
}

// NewPalette creates a palette. A nil clock uses time.Now.
func NewPalette(mode layout.ColorMode, halfLife time.Duration, now func() time.Time) *Palette {
	if now == nil {
		now = time.Now
	}
	if halfLife <= 0 {
		halfLife = time.Minute
	}
	return &Palette{mode: mode, halfLife: halfLife, now: now}
}

// Mode returns the active color mode
func (p *Palette) Mode() layout.ColorMode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mode
}

// SetMode switches the color mode and reports whether it changed
func (p *Palette) SetMode(mode layout.ColorMode) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode == mode {
		return false
	}
	p.mode = mode
	return true
}

// Color returns the fill color of n
func (p *Palette) Color(n entities.Node) Color {
	switch p.Mode() {
	case layout.ColorByImportance:
		return mix(lowImportance, highImportance, n.Importance)
	case layout.ColorByConfidence:
		return mix(lowConfidence, highConfidence, n.Confidence)
	case layout.ColorByRecency:
		return mix(staleColor, freshColor, p.freshness(n.Recency))
	default:
		return CategoryColor(n.Category)
	}
}

// freshness halves every half-life, starting at 1 for a node seen now
func (p *Palette) freshness(seen time.Time) float64 {
	if seen.IsZero() {
		return 0
	}
	age := p.now().Sub(seen)
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(p.halfLife))
}

// CategoryColor derives a stable hue from the category name
func CategoryColor(category string) Color {
	h := fnv.New32a()
	h.Write([]byte(category))
	hue := float64(h.Sum32() % 360)
	return hsl(hue, 0.65, 0.55)
}

func mix(a, b Color, t float64) Color {
	if math.IsNaN(t) {
		t = 0
	}
	t = math.Max(0, math.Min(1, t))
	lerp := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + (float64(y)-float64(x))*t))
	}
	return Color{R: lerp(a.R, b.R), G: lerp(a.G, b.G), B: lerp(a.B, b.B)}
}

func hsl(h, s, l float64) Color {
	c := (1 - math.Abs(2*l-1)) * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := l - c/2

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	to := func(v float64) uint8 { return uint8(math.Round((v + m) * 255)) }
	return Color{R: to(r), G: to(g), B: to(b)}
}
