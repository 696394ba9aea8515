package overflow

import (
	"errors"
	"fmt"
)

const (
	// ShortestLevelCeiling is the saturation count at the shortest integration
	// level; its counter does not reach full 16-bit range inside the window.
	ShortestLevelCeiling = 0x9400
	// FullScaleCeiling applies to every other integration level.
	FullScaleCeiling = 0xFFFF
)

var ErrNoCeilings = errors.New("at least one overflow ceiling is required")

// Predictor decides whether a projected raw value would saturate the ADC.
type Predictor struct {
	ceilings []float64
}

// New builds a predictor with one ceiling per integration level.
func New(ceilings []float64) (*Predictor, error) {
	if len(ceilings) == 0 {
		return nil, ErrNoCeilings
	}
	out := make([]float64, len(ceilings))
	for i, c := range ceilings {
		if c <= 0 {
			return nil, fmt.Errorf("overflow ceiling for integration level %d must be positive, got %v", i, c)
		}
		out[i] = c
	}
	return &Predictor{ceilings: out}, nil
}

// DefaultCeilings returns the TSL2591 ceiling table for the given level count.
func DefaultCeilings(levels int) []float64 {
	if levels < 1 {
		return nil
	}
	out := make([]float64, levels)
	out[0] = ShortestLevelCeiling
	for i := 1; i < levels; i++ {
		out[i] = FullScaleCeiling
	}
	return out
}

func (p *Predictor) Levels() int { return len(p.ceilings) }

// Ceiling returns the saturation count for an integration level. Out-of-range
// levels use the nearest configured level.
func (p *Predictor) Ceiling(level int) float64 {
	if level < 0 {
		level = 0
	}
	if level >= len(p.ceilings) {
		level = len(p.ceilings) - 1
	}
	return p.ceilings[level]
}

// WouldOverflow reports value >= ceiling(level).
func (p *Predictor) WouldOverflow(value float64, level int) bool {
	return value >= p.Ceiling(level)
}
