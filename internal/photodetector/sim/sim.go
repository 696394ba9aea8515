// Package sim provides an in-memory photodetector array whose counts scale
// with the gain-integration product and clip at the per-level ceiling.
package sim

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/emperorhan/exposure-controller/internal/lattice"
	"github.com/emperorhan/exposure-controller/internal/overflow"
	"github.com/emperorhan/exposure-controller/internal/photodetector"
)

const secondaryFraction = 0.25

type setting struct {
	gain        int
	integration int
}

type channelKey struct {
	sensor    photodetector.SensorID
	condition photodetector.Condition
}

// Detector simulates a sensor array and the illuminator in front of it.
type Detector struct {
	mu sync.Mutex

	lattice   *lattice.Lattice
	predictor *overflow.Predictor

	sensors      map[photodetector.SensorID]bool
	defaultLight float64
	light        map[channelKey]float64
	condition    photodetector.Condition

	selected  photodetector.SensorID
	hasSelect bool
	settings  map[photodetector.SensorID]setting
	enabled   map[photodetector.SensorID]bool
	latched   map[photodetector.SensorID]photodetector.Reading
	failures  map[photodetector.SensorID]int
	calls     map[string]int
}

var (
	_ photodetector.Photodetector = (*Detector)(nil)
	_ photodetector.Illuminator   = (*Detector)(nil)
)

// New creates a detector with the given sensors. light is the default count
// per unit of gain-integration product.
func New(l *lattice.Lattice, p *overflow.Predictor, sensors []photodetector.SensorID, light float64) (*Detector, error) {
	if l == nil || p == nil {
		return nil, fmt.Errorf("sim: lattice and predictor are required")
	}
	if light < 0 {
		return nil, fmt.Errorf("sim: light level must not be negative, got %v", light)
	}
	present := make(map[photodetector.SensorID]bool, len(sensors))
	for _, s := range sensors {
		present[s] = true
	}
	return &Detector{
		lattice:      l,
		predictor:    p,
		sensors:      present,
		defaultLight: light,
		light:        make(map[channelKey]float64),
		settings:     make(map[photodetector.SensorID]setting),
		enabled:      make(map[photodetector.SensorID]bool),
		latched:      make(map[photodetector.SensorID]photodetector.Reading),
		failures:     make(map[photodetector.SensorID]int),
		calls:        make(map[string]int),
	}, nil
}

// SetLight overrides the light level one sensor sees under one condition.
func (d *Detector) SetLight(sensor photodetector.SensorID, condition photodetector.Condition, light float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.light[channelKey{sensor: sensor, condition: condition}] = light
}

// FailReads makes the next n reads of sensor fail with ErrShortRead.
func (d *Detector) FailReads(sensor photodetector.SensorID, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[sensor] += n
}

// Calls returns how many times a method was invoked.
func (d *Detector) Calls(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[method]
}

// Setting returns the gain and integration levels last applied to sensor.
func (d *Detector) Setting(sensor photodetector.SensorID) (gain, integration int, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.settings[sensor]
	return s.gain, s.integration, ok
}

func (d *Detector) Illuminate(ctx context.Context, condition photodetector.Condition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.condition = condition
	return nil
}

func (d *Detector) SelectChannel(ctx context.Context, sensor photodetector.SensorID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls["SelectChannel"]++
	if !d.sensors[sensor] {
		d.hasSelect = false
		return fmt.Errorf("%w: %d", photodetector.ErrUnknownSensor, sensor)
	}
	d.selected = sensor
	d.hasSelect = true
	return nil
}

func (d *Detector) ApplySetting(ctx context.Context, gain, integration int) error {
	return d.withSelected(ctx, "ApplySetting", func(sensor photodetector.SensorID) error {
		if gain < 0 || gain >= d.lattice.GainLevels() || integration < 0 || integration >= d.lattice.IntegrationLevels() {
			return fmt.Errorf("sim: setting gain=%d integration=%d out of range", gain, integration)
		}
		d.settings[sensor] = setting{gain: gain, integration: integration}
		return nil
	})
}

func (d *Detector) Enable(ctx context.Context) error {
	return d.withSelected(ctx, "Enable", func(sensor photodetector.SensorID) error {
		d.enabled[sensor] = true
		return nil
	})
}

// Disable latches the counts accumulated under the current setting and light.
func (d *Detector) Disable(ctx context.Context) error {
	return d.withSelected(ctx, "Disable", func(sensor photodetector.SensorID) error {
		if d.enabled[sensor] {
			d.latched[sensor] = d.capture(sensor)
		}
		d.enabled[sensor] = false
		return nil
	})
}

func (d *Detector) ReadRawChannels(ctx context.Context) (photodetector.Reading, error) {
	var out photodetector.Reading
	err := d.withSelected(ctx, "ReadRawChannels", func(sensor photodetector.SensorID) error {
		if d.failures[sensor] > 0 {
			d.failures[sensor]--
			return fmt.Errorf("sensor %d: %w", sensor, photodetector.ErrShortRead)
		}
		out = d.latched[sensor]
		return nil
	})
	return out, err
}

func (d *Detector) withSelected(ctx context.Context, method string, fn func(photodetector.SensorID) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[method]++
	if !d.hasSelect {
		return fmt.Errorf("sim: %s without a selected sensor", method)
	}
	return fn(d.selected)
}

func (d *Detector) capture(sensor photodetector.SensorID) photodetector.Reading {
	s := d.settings[sensor]
	light, ok := d.light[channelKey{sensor: sensor, condition: d.condition}]
	if !ok {
		light = d.defaultLight
	}
	index := d.lattice.Compose(s.gain, s.integration)
	counts := light * d.lattice.Product(index)
	full := clip(counts, d.predictor.Ceiling(s.integration))
	return photodetector.Reading{
		FullSpectrum: full,
		Secondary:    clip(counts*secondaryFraction, d.predictor.Ceiling(s.integration)),
	}
}

func clip(v, ceiling float64) uint16 {
	limit := math.Min(ceiling, math.MaxUint16)
	if v >= limit {
		return uint16(limit)
	}
	if v < 0 {
		return 0
	}
	return uint16(v)
}
