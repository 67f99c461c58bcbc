package domain

import (
	"fmt"
	"math"
)

// TileAddress identifies a tile by reduced-resolution level, column and row.
// Level 0 is full resolution; each level halves the resolution.
type TileAddress struct {
	Level  int `json:"level"`
	Column int `json:"column"`
	Row    int `json:"row"`
}

// String returns "level/column/row".
func (t TileAddress) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Level, t.Column, t.Row)
}

// AutoLevel requests automatic level selection.
const AutoLevel = -1

// Capture resolution multiplier range.
const (
	MinCaptureResolution = 1
	MaxCaptureResolution = 5
)

// Limits on fit-to-quad output geometry.
const (
	MaxImageSize = 1 << 15 // pixels along the shorter output side
	MaxFitAspect = 100
)

// TileCaptureParams describes a region capture request.
type TileCaptureParams struct {
	Points            []GeoPoint `json:"points"`
	Closed            bool       `json:"closed"`
	Level             int        `json:"level"`              // AutoLevel selects from MapResolution
	MapResolution     float64    `json:"map_resolution"`     // meters/pixel
	CaptureResolution int        `json:"capture_resolution"` // 1..5
	FitToQuad         bool       `json:"fit_to_quad"`
	FitAspect         float64    `json:"fit_aspect"`
	MinImageSize      int        `json:"min_image_size"`
}

// NewTileCaptureParams returns parameters with automatic level selection.
func NewTileCaptureParams(points []GeoPoint, closed bool) TileCaptureParams {
	return TileCaptureParams{
		Points:            points,
		Closed:            closed,
		Level:             AutoLevel,
		CaptureResolution: MinCaptureResolution,
		FitAspect:         1,
	}
}

// Validate checks the parameters.
func (p TileCaptureParams) Validate() error {
	if p.CaptureResolution < MinCaptureResolution || p.CaptureResolution > MaxCaptureResolution {
		return &ValidationError{
			Field:      "capture_resolution",
			Value:      p.CaptureResolution,
			Constraint: "[1, 5]",
			Message:    "capture resolution must be between 1 and 5",
		}
	}
	if p.Level < AutoLevel {
		return &ValidationError{
			Field:      "level",
			Value:      p.Level,
			Constraint: ">= -1",
			Message:    "level must be -1 (auto) or a valid level",
		}
	}
	if p.Level == AutoLevel && p.MapResolution <= 0 && len(p.Points) > 0 {
		return &ValidationError{
			Field:      "map_resolution",
			Value:      p.MapResolution,
			Constraint: "> 0",
			Message:    "map resolution is required for automatic level selection",
		}
	}
	if p.MinImageSize < 0 || p.MinImageSize > MaxImageSize {
		return &ValidationError{
			Field:      "min_image_size",
			Value:      p.MinImageSize,
			Constraint: fmt.Sprintf("[0, %d]", MaxImageSize),
			Message:    "minimum image size out of range",
		}
	}
	if math.IsNaN(p.FitAspect) || p.FitAspect < 0 || p.FitAspect > MaxFitAspect ||
		(p.FitAspect > 0 && p.FitAspect < 1.0/MaxFitAspect) {
		return &ValidationError{
			Field:      "fit_aspect",
			Value:      p.FitAspect,
			Constraint: fmt.Sprintf("0 or [1/%d, %d]", MaxFitAspect, MaxFitAspect),
			Message:    "fit aspect out of range",
		}
	}
	for _, pt := range p.Points {
		if err := pt.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// EffectiveAspect returns FitAspect, or 1 when unset.
func (p TileCaptureParams) EffectiveAspect() float64 {
	if p.FitAspect <= 0 {
		return 1
	}
	return p.FitAspect
}
