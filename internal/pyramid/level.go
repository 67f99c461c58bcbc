package pyramid

import (
	"math"

	"github.com/jobrunner/tessera/internal/domain"
)

// DefaultTransitionBias is the level transition adjustment with no
// configured relative scale bias.
const DefaultTransitionBias = 0.5

// LevelSelector chooses a pyramid level for a requested display resolution.
type LevelSelector struct {
	GSD            float64 // native ground sample distance of the source, meters/pixel
	TransitionBias float64 // added to log2(1/scale) before rounding up
}

// NewLevelSelector creates a selector for a source with the given native GSD.
// relativeScaleBias shifts the transition between levels: positive values
// select finer levels earlier.
func NewLevelSelector(gsd, relativeScaleBias float64) LevelSelector {
	return LevelSelector{
		GSD:            gsd,
		TransitionBias: DefaultTransitionBias - relativeScaleBias,
	}
}

// Level returns the explicit level of params, or the level matching its map
// and capture resolution.
func (s LevelSelector) Level(params domain.TileCaptureParams) int {
	if params.Level != domain.AutoLevel {
		return params.Level
	}
	captureRes := params.CaptureResolution
	if captureRes < 1 {
		captureRes = 1
	}
	return s.levelFor(params.MapResolution / float64(captureRes))
}

// CalculateLevel returns the level for a geographic quad (clockwise from the
// upper-left) rendered into a square image of minDim pixels.
func (s LevelSelector) CalculateLevel(quad []domain.GeoPoint, minDim, captureRes int) int {
	if len(quad) != 4 || minDim <= 0 {
		return 0
	}
	if captureRes < 1 {
		captureRes = 1
	}
	gsd := domain.ComputeGSD(minDim, minDim, quad[0], quad[1], quad[2], quad[3])
	return s.levelFor(gsd / float64(captureRes))
}

func (s LevelSelector) levelFor(targetRes float64) int {
	if s.GSD <= 0 || targetRes <= 0 {
		return 0
	}
	scale := s.GSD / targetRes
	return int(math.Ceil(math.Max(math.Log2(1/scale)+s.TransitionBias, 0)))
}
