package render

import (
	"math"

	"github.com/Steake/GodelOS-sub005/domain/core/valueobjects"
)

const (
	minZoom = 0.05
	maxZoom = 20.0
)

// Point is a screen position in pixels
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the distance between two screen points
func (p Point) Distance(o Point) float64 {
	return math.Hypot(p.X-o.X, p.Y-o.Y)
}

// Viewport maps layout space to the screen. The layout origin sits at the
// screen center shifted by Pan. With Depth set, points further along z shrink
// towards the center with a pinhole perspective.
type Viewport struct {
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Zoom        float64 `json:"zoom"`
	Pan         Point   `json:"pan"`
	Perspective float64 `json:"perspective"`
	Depth       bool    `json:"depth"`
}

// NewViewport creates a viewport with no pan and unit zoom
func NewViewport(width, height, perspective float64) Viewport {
	return Viewport{Width: width, Height: height, Zoom: 1, Perspective: perspective}
}

// scaleAt is the pixels per layout unit at depth z. ok is false behind the camera.
func (v Viewport) scaleAt(z float64) (float64, bool) {
	if !v.Depth || v.Perspective <= 0 {
		return v.Zoom, true
	}
	d := v.Perspective + z
	if d <= 1e-6 {
		return 0, false
	}
	return v.Zoom * v.Perspective / d, true
}

// Project returns the screen point and pixel scale of a layout position
func (v Viewport) Project(p valueobjects.Vector) (Point, float64, bool) {
	scale, ok := v.scaleAt(p.Z)
	if !ok {
		return Point{}, 0, false
	}
	return Point{
		X: v.Width/2 + v.Pan.X + p.X*scale,
		Y: v.Height/2 + v.Pan.Y + p.Y*scale,
	}, scale, true
}

// Unproject returns the layout position at depth z under a screen point
func (v Viewport) Unproject(pt Point, z float64) valueobjects.Vector {
	scale, ok := v.scaleAt(z)
	if !ok || scale == 0 {
		scale = v.Zoom
	}
	return valueobjects.Vector{
		X: (pt.X - v.Width/2 - v.Pan.X) / scale,
		Y: (pt.Y - v.Height/2 - v.Pan.Y) / scale,
		Z: z,
	}
}

// PanBy shifts the view by a screen delta
func (v *Viewport) PanBy(dx, dy float64) {
	v.Pan.X += dx
	v.Pan.Y += dy
}

// ZoomAt scales the view by factor keeping the layout point under at fixed
func (v *Viewport) ZoomAt(factor float64, at Point) {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return
	}
	world := v.Unproject(at, 0)
	v.Zoom = math.Max(minZoom, math.Min(maxZoom, v.Zoom*factor))
	v.Pan.X = at.X - v.Width/2 - world.X*v.Zoom
	v.Pan.Y = at.Y - v.Height/2 - world.Y*v.Zoom
}
