package lattice

import (
	"errors"
	"fmt"
)

// Direction is a single lattice move.
type Direction int

const (
	Down Direction = -1
	Hold Direction = 0
	Up   Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Down:
		return "down"
	case Up:
		return "up"
	default:
		return "hold"
	}
}

var ErrInvalidDimensions = errors.New("lattice dimensions must be positive")

// Lattice enumerates every (gain, integration) combination as one ordinal index.
// gain = index / T and integration = index % T, so stepping by one walks the
// integration levels first and then moves to the next gain level.
type Lattice struct {
	gainLevels        int
	integrationLevels int
	products          []float64
}

// New builds a lattice from an explicit gain×integration product table with one
// entry per index.
func New(gainLevels, integrationLevels int, products []float64) (*Lattice, error) {
	if gainLevels < 1 || integrationLevels < 1 {
		return nil, fmt.Errorf("%w: gain=%d integration=%d", ErrInvalidDimensions, gainLevels, integrationLevels)
	}
	size := gainLevels * integrationLevels
	if len(products) != size {
		return nil, fmt.Errorf("product table has %d entries, want %d", len(products), size)
	}
	for i, p := range products {
		if p <= 0 {
			return nil, fmt.Errorf("product table entry %d must be positive, got %v", i, p)
		}
		if i > 0 && p < products[i-1] {
			return nil, fmt.Errorf("product table must be non-decreasing: entry %d (%v) < entry %d (%v)", i, p, i-1, products[i-1])
		}
	}

	table := make([]float64, size)
	copy(table, products)
	return &Lattice{
		gainLevels:        gainLevels,
		integrationLevels: integrationLevels,
		products:          table,
	}, nil
}

// FromMultipliers builds the product table as gainMultipliers[g] × integrationMillis[t].
func FromMultipliers(gainMultipliers, integrationMillis []float64) (*Lattice, error) {
	return New(len(gainMultipliers), len(integrationMillis), Products(gainMultipliers, integrationMillis))
}

// Products returns the row-major gain×integration product table.
func Products(gainMultipliers, integrationMillis []float64) []float64 {
	out := make([]float64, 0, len(gainMultipliers)*len(integrationMillis))
	for _, g := range gainMultipliers {
		for _, t := range integrationMillis {
			out = append(out, g*t)
		}
	}
	return out
}

func (l *Lattice) GainLevels() int        { return l.gainLevels }
func (l *Lattice) IntegrationLevels() int { return l.integrationLevels }

// Size returns G×T.
func (l *Lattice) Size() int { return l.gainLevels * l.integrationLevels }

// Max returns the highest valid index.
func (l *Lattice) Max() int { return l.Size() - 1 }

// Clamp pins index into [0, Max].
func (l *Lattice) Clamp(index int) int {
	if index < 0 {
		return 0
	}
	if index > l.Max() {
		return l.Max()
	}
	return index
}

// Step moves one index in the given direction and saturates at both ends.
func (l *Lattice) Step(index int, dir Direction) int {
	switch {
	case dir > 0:
		return l.Clamp(index + 1)
	case dir < 0:
		return l.Clamp(index - 1)
	default:
		return l.Clamp(index)
	}
}

// Decompose splits an index into its gain and integration levels.
func (l *Lattice) Decompose(index int) (gain, integration int) {
	return index / l.integrationLevels, index % l.integrationLevels
}

// Compose is the inverse of Decompose. Out-of-range levels are clamped.
func (l *Lattice) Compose(gain, integration int) int {
	gain = clampInt(gain, 0, l.gainLevels-1)
	integration = clampInt(integration, 0, l.integrationLevels-1)
	return gain*l.integrationLevels + integration
}

// IntegrationLevel returns index % T.
func (l *Lattice) IntegrationLevel(index int) int {
	_, integration := l.Decompose(index)
	return integration
}

// Product returns the gain×integration product for index.
func (l *Lattice) Product(index int) float64 {
	return l.products[l.Clamp(index)]
}

// Multiplier estimates how a raw signal scales when moving from one index to another.
func (l *Lattice) Multiplier(from, to int) float64 {
	return l.Product(to) / l.Product(from)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
