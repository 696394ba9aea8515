// Package tsl2591 drives an array of TSL2591 light sensors sharing one I²C
// address behind a PCA9548 multiplexer.
package tsl2591

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/emperorhan/exposure-controller/internal/photodetector"
)

const (
	DefaultAddr    uint16 = 0x29
	DefaultMuxAddr uint16 = 0x70

	// MaxPorts is the PCA9548 port count.
	MaxPorts = 8

	// DeviceID is what the ID register returns on a TSL2591.
	DeviceID byte = 0x50

	GainLevels        = 4
	IntegrationLevels = 6
)

const (
	cmdBit byte = 0xA0

	regEnable   byte = 0x00
	regControl  byte = 0x01
	regDeviceID byte = 0x12
	regChan0Low byte = 0x14

	enablePowerOff byte = 0x00
	enablePowerOn  byte = 0x01
	enableAEN      byte = 0x02
	enableAIEN     byte = 0x10
)

// GainMultipliers are the nominal analog gains for gain levels 0..3.
var GainMultipliers = []float64{1, 25, 428, 9876}

// IntegrationMillis are the ADC integration times for levels 0..5.
var IntegrationMillis = []float64{100, 200, 300, 400, 500, 600}

// Option configures an Array.
type Option func(*Array)

func WithAddr(addr uint16) Option {
	return func(a *Array) { a.dev.Addr = addr }
}

func WithMuxAddr(addr uint16) Option {
	return func(a *Array) { a.mux.Addr = addr }
}

// Array implements photodetector.Photodetector over an I²C bus.
type Array struct {
	mu       sync.Mutex
	mux      i2c.Dev
	dev      i2c.Dev
	selected int
}

var _ photodetector.Photodetector = (*Array)(nil)

func New(bus i2c.Bus, opts ...Option) *Array {
	a := &Array{
		mux:      i2c.Dev{Addr: DefaultMuxAddr, Bus: bus},
		dev:      i2c.Dev{Addr: DefaultAddr, Bus: bus},
		selected: -1,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Open initializes the host drivers and opens the named bus; an empty name
// picks the first available bus.
func Open(name string) (i2c.BusCloser, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init periph host: %w", err)
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", name, err)
	}
	return bus, nil
}

func (a *Array) SelectChannel(ctx context.Context, sensor photodetector.SensorID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if int(sensor) >= MaxPorts {
		return fmt.Errorf("%w: %d", photodetector.ErrUnknownSensor, sensor)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.mux.Tx([]byte{1 << sensor}, nil); err != nil {
		a.selected = -1
		return fmt.Errorf("select mux port %d: %w", sensor, err)
	}
	a.selected = int(sensor)
	return nil
}

func (a *Array) ApplySetting(ctx context.Context, gain, integration int) error {
	if gain < 0 || gain >= GainLevels {
		return fmt.Errorf("gain level %d out of range", gain)
	}
	if integration < 0 || integration >= IntegrationLevels {
		return fmt.Errorf("integration level %d out of range", integration)
	}
	return a.write(ctx, regControl, byte(gain)<<4|byte(integration))
}

func (a *Array) Enable(ctx context.Context) error {
	return a.write(ctx, regEnable, enablePowerOn|enableAEN|enableAIEN)
}

func (a *Array) Disable(ctx context.Context) error {
	return a.write(ctx, regEnable, enablePowerOff)
}

// ReadRawChannels block-reads CH0 (full spectrum) and CH1 (infrared).
func (a *Array) ReadRawChannels(ctx context.Context) (photodetector.Reading, error) {
	buf, err := a.read(ctx, regChan0Low, 4)
	if err != nil {
		return photodetector.Reading{}, fmt.Errorf("read channel data: %w", err)
	}
	return photodetector.Reading{
		FullSpectrum: binary.LittleEndian.Uint16(buf[0:2]),
		Secondary:    binary.LittleEndian.Uint16(buf[2:4]),
	}, nil
}

// Scan probes each candidate port and returns the ones answering with the
// TSL2591 device id. A port that does not respond is treated as empty.
func (a *Array) Scan(ctx context.Context, candidates []photodetector.SensorID) ([]photodetector.SensorID, error) {
	found := make([]photodetector.SensorID, 0, len(candidates))
	for _, id := range candidates {
		if err := a.SelectChannel(ctx, id); err != nil {
			return found, err
		}
		buf, err := a.read(ctx, regDeviceID, 1)
		if err != nil {
			if ctx.Err() != nil {
				return found, ctx.Err()
			}
			continue
		}
		if buf[0] == DeviceID {
			found = append(found, id)
		}
	}
	return found, nil
}

// Close deselects every mux port.
func (a *Array) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.selected = -1
	return a.mux.Tx([]byte{0x00}, nil)
}

func (a *Array) write(ctx context.Context, reg, value byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.selected < 0 {
		return fmt.Errorf("write register 0x%02x: no sensor selected", reg)
	}
	if err := a.dev.Tx([]byte{cmdBit | reg, value}, nil); err != nil {
		return fmt.Errorf("sensor %d write register 0x%02x: %w", a.selected, reg, err)
	}
	return nil
}

func (a *Array) read(ctx context.Context, reg byte, n int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.selected < 0 {
		return nil, fmt.Errorf("read register 0x%02x: no sensor selected", reg)
	}
	buf := make([]byte, n)
	if err := a.dev.Tx([]byte{cmdBit | reg}, buf); err != nil {
		return nil, fmt.Errorf("sensor %d read register 0x%02x: %w", a.selected, reg, err)
	}
	return buf, nil
}
