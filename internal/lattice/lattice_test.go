package lattice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tslGains        = []float64{1, 25, 428, 9876}
	tslIntegrations = []float64{100, 200, 300, 400, 500, 600}
)

func TestStep_NeverLeavesRange(t *testing.T) {
	for g := 1; g <= 5; g++ {
		for tl := 1; tl <= 7; tl++ {
			products := make([]float64, g*tl)
			for i := range products {
				products[i] = float64(i + 1)
			}
			l, err := New(g, tl, products)
			require.NoError(t, err)

			for idx := -2; idx <= l.Size()+1; idx++ {
				for _, dir := range []Direction{Down, Hold, Up} {
					next := l.Step(idx, dir)
					assert.GreaterOrEqual(t, next, 0)
					assert.LessOrEqual(t, next, g*tl-1)
				}
			}
		}
	}
}

func TestStep_SaturatesAtEdges(t *testing.T) {
	l, err := FromMultipliers(tslGains, tslIntegrations)
	require.NoError(t, err)

	assert.Equal(t, 24, l.Size())
	assert.Equal(t, 0, l.Step(0, Down))
	assert.Equal(t, 23, l.Step(23, Up))
	assert.Equal(t, 8, l.Step(7, Up))
	assert.Equal(t, 6, l.Step(7, Down))
	assert.Equal(t, 7, l.Step(7, Hold))
}

func TestDecompose(t *testing.T) {
	l, err := FromMultipliers(tslGains, tslIntegrations)
	require.NoError(t, err)

	testCases := []struct {
		index       int
		gain        int
		integration int
	}{
		{0, 0, 0},
		{5, 0, 5},
		{6, 1, 0},
		{18, 3, 0},
		{23, 3, 5},
	}
	for _, tc := range testCases {
		gain, integration := l.Decompose(tc.index)
		assert.Equal(t, tc.gain, gain, "index %d", tc.index)
		assert.Equal(t, tc.integration, integration, "index %d", tc.index)
		assert.Equal(t, tc.index, l.Compose(gain, integration))
	}
}

func TestMultiplier(t *testing.T) {
	l, err := FromMultipliers(tslGains, tslIntegrations)
	require.NoError(t, err)

	assert.InDelta(t, 2.0, l.Multiplier(0, 1), 1e-9)
	// 1x/600ms -> 25x/100ms
	assert.InDelta(t, 2500.0/600.0, l.Multiplier(5, 6), 1e-9)
	assert.InDelta(t, 1.0, l.Multiplier(23, l.Step(23, Up)), 1e-9)
	assert.Equal(t, float64(9876*600), l.Product(23))
}

func TestNew_RejectsInvalidTables(t *testing.T) {
	_, err := New(0, 6, nil)
	assert.ErrorIs(t, err, ErrInvalidDimensions)

	_, err = New(2, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidDimensions)

	_, err = New(2, 2, []float64{1, 2, 3})
	assert.Error(t, err)

	_, err = New(2, 2, []float64{1, 2, 0, 4})
	assert.Error(t, err)

	_, err = New(2, 2, []float64{1, 3, 2, 4})
	assert.Error(t, err)
}

func TestNew_CopiesTable(t *testing.T) {
	products := []float64{1, 2, 3, 4}
	l, err := New(2, 2, products)
	require.NoError(t, err)

	products[3] = 100
	assert.Equal(t, 4.0, l.Product(3))
}
