package valueobjects

import (
	"math"

	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
)

// Vector is a value object representing node coordinates or velocity in 2D/3D space.
// Z is 0 for 2D layouts.
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// NewVector2D creates a 2D vector with validation
func NewVector2D(x, y float64) (Vector, error) {
	return NewVector3D(x, y, 0)
}

// NewVector3D creates a 3D vector with validation
func NewVector3D(x, y, z float64) (Vector, error) {
	v := Vector{X: x, Y: y, Z: z}
	if !v.IsFinite() {
		return Vector{}, pkgerrors.NewValidationError("invalid coordinates: must be finite numbers")
	}
	return v, nil
}

// Add returns v + o
func (v Vector) Add(o Vector) Vector {
	return Vector{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Sub returns v - o
func (v Vector) Sub(o Vector) Vector {
	return Vector{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Scale returns v * k
func (v Vector) Scale(k float64) Vector {
	return Vector{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}

// LengthSq returns the squared Euclidean length
func (v Vector) LengthSq() float64 {
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z
}

// Length returns the Euclidean length
func (v Vector) Length() float64 {
	return math.Sqrt(v.LengthSq())
}

// DistanceTo calculates the Euclidean distance to another vector
func (v Vector) DistanceTo(o Vector) float64 {
	return v.Sub(o).Length()
}

// Equals checks if two vectors are equal within epsilon
func (v Vector) Equals(o Vector) bool {
	const epsilon = 1e-9
	return math.Abs(v.X-o.X) < epsilon &&
		math.Abs(v.Y-o.Y) < epsilon &&
		math.Abs(v.Z-o.Z) < epsilon
}

// Midpoint calculates the midpoint between two vectors
func (v Vector) Midpoint(o Vector) Vector {
	return v.Add(o).Scale(0.5)
}

// Flatten drops the Z component
func (v Vector) Flatten() Vector {
	return Vector{X: v.X, Y: v.Y}
}

// IsFinite reports whether every component is a finite number
func (v Vector) IsFinite() bool {
	return isValidCoordinate(v.X) && isValidCoordinate(v.Y) && isValidCoordinate(v.Z)
}

// Is3D checks if this vector uses the Z axis
func (v Vector) Is3D() bool {
	return v.Z != 0
}

// isValidCoordinate checks if a coordinate is a valid finite number
func isValidCoordinate(c float64) bool {
	return !math.IsNaN(c) && !math.IsInf(c, 0)
}
