// Package layout implements an incremental force-directed simulation over
// plain ids and vectors. It has no rendering dependency.
package layout

import (
	"math"
	"time"

	"github.com/Steake/GodelOS-sub005/domain/core/valueobjects"
	pkgerrors "github.com/Steake/GodelOS-sub005/pkg/errors"
	"github.com/Steake/GodelOS-sub005/pkg/validation"
)

// Mode selects how positions are computed
type Mode string

const (
	ModeForce2D      Mode = "force2d"
	ModeForce3D      Mode = "force3d"
	ModeHierarchical Mode = "hierarchical"
	ModeCircular     Mode = "circular"
)

// Planar reports whether the mode keeps every body on z = 0
func (m Mode) Planar() bool {
	return m != ModeForce3D
}

// ColorMode selects the node attribute mapped to color
type ColorMode string

const (
	ColorByCategory   ColorMode = "category"
	ColorByImportance ColorMode = "importance"
	ColorByRecency    ColorMode = "recency"
	ColorByConfidence ColorMode = "confidence"
)

// Options are the user-facing layout settings
type Options struct {
	LinkStrength   float64   `json:"linkStrength" yaml:"linkStrength" toml:"linkStrength" validate:"gte=0,lte=2"`
	ChargeStrength float64   `json:"chargeStrength" yaml:"chargeStrength" toml:"chargeStrength"`
	Mode           Mode      `json:"layoutMode" yaml:"layoutMode" toml:"layoutMode" validate:"required,oneof=force2d force3d hierarchical circular"`
	ColorMode      ColorMode `json:"colorMode" yaml:"colorMode" toml:"colorMode" validate:"required,oneof=category importance recency confidence"`
}

// DefaultOptions returns the default layout settings
func DefaultOptions() Options {
	return Options{
		LinkStrength:   1,
		ChargeStrength: -30,
		Mode:           ModeForce2D,
		ColorMode:      ColorByCategory,
	}
}

// Validate checks the option ranges
func (o Options) Validate() error {
	if err := validation.Struct(o); err != nil {
		return pkgerrors.NewValidationError("invalid layout options: " + err.Error())
	}
	if math.IsNaN(o.ChargeStrength) || math.IsInf(o.ChargeStrength, 0) {
		return pkgerrors.NewValidationError("invalid layout options: chargeStrength must be finite")
	}
	return nil
}

// Params are the numeric constants of the simulation
type Params struct {
	AlphaMin      float64
	AlphaDecay    float64
	ReheatAlpha   float64
	VelocityDecay float64

	LinkDistance   float64
	DistanceMin    float64
	CenterStrength float64
	Center         valueobjects.Vector

	BarnesHutThreshold int
	Theta              float64

	LevelGap          float64
	HierarchyStrength float64
	CircleSpacing     float64
	CircleStrength    float64

	InitialRadius float64
	ResetJitter   float64

	// ChunkSize is the number of bodies processed between budget checks.
	ChunkSize int
	TickRate  time.Duration
}

// DefaultParams returns constants tuned so heat falls from 1 to AlphaMin in 300 ticks
func DefaultParams() Params {
	alphaMin := 0.001
	return Params{
		AlphaMin:           alphaMin,
		AlphaDecay:         1 - math.Pow(alphaMin, 1.0/300),
		ReheatAlpha:        0.5,
		VelocityDecay:      0.4,
		LinkDistance:       30,
		DistanceMin:        1,
		CenterStrength:     0.05,
		BarnesHutThreshold: 500,
		Theta:              0.9,
		LevelGap:           80,
		HierarchyStrength:  0.2,
		CircleSpacing:      40,
		CircleStrength:     0.3,
		InitialRadius:      10,
		ResetJitter:        10,
		ChunkSize:          64,
		TickRate:           time.Second / 60,
	}
}
