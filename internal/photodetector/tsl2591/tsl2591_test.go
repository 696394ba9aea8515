package tsl2591

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"

	"github.com/emperorhan/exposure-controller/internal/photodetector"
)

func TestArray_RoundSequence(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x70, W: []byte{0x04}},
			{Addr: 0x29, W: []byte{0xA1, 0x32}},
			{Addr: 0x29, W: []byte{0xA0, 0x13}},
			{Addr: 0x29, W: []byte{0xA0, 0x00}},
			{Addr: 0x29, W: []byte{0xB4}, R: []byte{0x34, 0x12, 0x78, 0x56}},
		},
	}
	a := New(bus)
	ctx := context.Background()

	require.NoError(t, a.SelectChannel(ctx, 2))
	require.NoError(t, a.ApplySetting(ctx, 3, 2))
	require.NoError(t, a.Enable(ctx))
	require.NoError(t, a.Disable(ctx))
	r, err := a.ReadRawChannels(ctx)
	require.NoError(t, err)

	assert.Equal(t, photodetector.Reading{FullSpectrum: 0x1234, Secondary: 0x5678}, r)
	require.NoError(t, bus.Close())
}

func TestArray_CustomAddresses(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x71, W: []byte{0x01}},
			{Addr: 0x30, W: []byte{0xA1, 0x00}},
		},
	}
	a := New(bus, WithMuxAddr(0x71), WithAddr(0x30))
	ctx := context.Background()

	require.NoError(t, a.SelectChannel(ctx, 0))
	require.NoError(t, a.ApplySetting(ctx, 0, 0))
	require.NoError(t, bus.Close())
}

func TestArray_Validation(t *testing.T) {
	a := New(&i2ctest.Playback{DontPanic: true})
	ctx := context.Background()

	err := a.SelectChannel(ctx, 8)
	assert.ErrorIs(t, err, photodetector.ErrUnknownSensor)

	assert.Error(t, a.ApplySetting(ctx, 4, 0))
	assert.Error(t, a.ApplySetting(ctx, 0, 6))
	assert.Error(t, a.Enable(ctx), "writes require a selected sensor")
}

func TestArray_CanceledContext(t *testing.T) {
	a := New(&i2ctest.Playback{DontPanic: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.SelectChannel(ctx, 0)
	assert.True(t, errors.Is(err, context.Canceled))
	_, err = a.ReadRawChannels(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestArray_BusErrorIsReturned(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x70, W: []byte{0x01}},
		},
		DontPanic: true,
	}
	a := New(bus)
	ctx := context.Background()

	require.NoError(t, a.SelectChannel(ctx, 0))
	_, err := a.ReadRawChannels(ctx)
	assert.Error(t, err)
}

func TestArray_Scan(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x70, W: []byte{0x01}},
			{Addr: 0x29, W: []byte{0xB2}, R: []byte{0x50}},
			{Addr: 0x70, W: []byte{0x02}},
			{Addr: 0x29, W: []byte{0xB2}, R: []byte{0x00}},
			{Addr: 0x70, W: []byte{0x04}},
			{Addr: 0x29, W: []byte{0xB2}, R: []byte{0x50}},
		},
	}
	a := New(bus)

	found, err := a.Scan(context.Background(), []photodetector.SensorID{0, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, []photodetector.SensorID{0, 2}, found)
	require.NoError(t, bus.Close())
}

func TestArray_Close(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{{Addr: 0x70, W: []byte{0x00}}},
	}
	a := New(bus)
	require.NoError(t, a.Close())
	require.NoError(t, bus.Close())
}
