package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emperorhan/exposure-controller/internal/lattice"
	"github.com/emperorhan/exposure-controller/internal/overflow"
	"github.com/emperorhan/exposure-controller/internal/photodetector"
)

func newDetector(t *testing.T, light float64) *Detector {
	t.Helper()
	l, err := lattice.FromMultipliers([]float64{1, 25, 428, 9876}, []float64{100, 200, 300, 400, 500, 600})
	require.NoError(t, err)
	p, err := overflow.New(overflow.DefaultCeilings(6))
	require.NoError(t, err)
	d, err := New(l, p, []photodetector.SensorID{0, 1}, light)
	require.NoError(t, err)
	return d
}

func capture(t *testing.T, d *Detector, sensor photodetector.SensorID, gain, integration int) (photodetector.Reading, error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, d.SelectChannel(ctx, sensor))
	require.NoError(t, d.ApplySetting(ctx, gain, integration))
	require.NoError(t, d.Enable(ctx))
	require.NoError(t, d.Disable(ctx))
	return d.ReadRawChannels(ctx)
}

func TestDetector_CountsScaleWithProduct(t *testing.T) {
	d := newDetector(t, 10)

	r, err := capture(t, d, 0, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, uint16(2000), r.FullSpectrum)
	assert.Equal(t, uint16(500), r.Secondary)

	r, err = capture(t, d, 0, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, uint16(50000), r.FullSpectrum)
}

func TestDetector_ClipsAtLevelCeiling(t *testing.T) {
	d := newDetector(t, 10000)

	r, err := capture(t, d, 1, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x9400), r.FullSpectrum)

	r, err = capture(t, d, 1, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xFFFF), r.FullSpectrum)
}

func TestDetector_ConditionLight(t *testing.T) {
	d := newDetector(t, 1)
	d.SetLight(0, "red", 20)
	ctx := context.Background()

	require.NoError(t, d.Illuminate(ctx, "red"))
	r, err := capture(t, d, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint16(2000), r.FullSpectrum)

	require.NoError(t, d.Illuminate(ctx, "ambient"))
	r, err = capture(t, d, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint16(100), r.FullSpectrum)
}

func TestDetector_FailureInjection(t *testing.T) {
	d := newDetector(t, 1)
	d.FailReads(1, 1)

	_, err := capture(t, d, 1, 0, 0)
	assert.ErrorIs(t, err, photodetector.ErrShortRead)

	_, err = capture(t, d, 1, 0, 0)
	assert.NoError(t, err)
	assert.Equal(t, 2, d.Calls("ReadRawChannels"))
}

func TestDetector_UnknownSensor(t *testing.T) {
	d := newDetector(t, 1)
	ctx := context.Background()

	err := d.SelectChannel(ctx, 5)
	assert.ErrorIs(t, err, photodetector.ErrUnknownSensor)
	assert.Error(t, d.Enable(ctx))
}
