package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelTrace "go.opentelemetry.io/otel/trace"

	"github.com/emperorhan/exposure-controller/internal/acquisition/autotune"
	"github.com/emperorhan/exposure-controller/internal/lattice"
	"github.com/emperorhan/exposure-controller/internal/metrics"
	"github.com/emperorhan/exposure-controller/internal/overflow"
	"github.com/emperorhan/exposure-controller/internal/photodetector"
	"github.com/emperorhan/exposure-controller/internal/retry"
	"github.com/emperorhan/exposure-controller/internal/tracing"
)

var (
	ErrUnknownCondition = errors.New("acquisition: unknown illumination condition")
	ErrNilController    = errors.New("acquisition: controller is nil")
)

// Round phases a channel can fail in.
const (
	PhaseConfigure = "configure"
	PhaseEnable    = "enable"
	PhaseRead      = "read"
)

// Config fixes the controller for its lifetime.
type Config struct {
	Sensors    []photodetector.SensorID
	Conditions []photodetector.Condition

	Lattice   *lattice.Lattice
	Predictor *overflow.Predictor
	AutoTune  autotune.Config

	// IntegrationMillis holds one integration time per lattice integration level.
	IntegrationMillis []float64
	// WaitPaddingPercent is added on top of the slowest integration time.
	WaitPaddingPercent float64

	HistoryCapacity int
	DefaultIndex    int
	StaleThreshold  int
}

func (c Config) validate() error {
	if len(c.Sensors) == 0 {
		return fmt.Errorf("at least one sensor is required")
	}
	seenSensors := make(map[photodetector.SensorID]struct{}, len(c.Sensors))
	for _, s := range c.Sensors {
		if _, dup := seenSensors[s]; dup {
			return fmt.Errorf("duplicate sensor id %d", s)
		}
		seenSensors[s] = struct{}{}
	}
	if len(c.Conditions) == 0 {
		return fmt.Errorf("at least one illumination condition is required")
	}
	seenConditions := make(map[photodetector.Condition]struct{}, len(c.Conditions))
	for _, cond := range c.Conditions {
		if cond == "" {
			return fmt.Errorf("illumination condition must not be empty")
		}
		if _, dup := seenConditions[cond]; dup {
			return fmt.Errorf("duplicate illumination condition %q", cond)
		}
		seenConditions[cond] = struct{}{}
	}
	if c.Lattice == nil {
		return fmt.Errorf("lattice is required")
	}
	if len(c.IntegrationMillis) != c.Lattice.IntegrationLevels() {
		return fmt.Errorf("%d integration times for %d integration levels", len(c.IntegrationMillis), c.Lattice.IntegrationLevels())
	}
	for i, ms := range c.IntegrationMillis {
		if ms <= 0 {
			return fmt.Errorf("integration time for level %d must be positive, got %v", i, ms)
		}
	}
	if c.WaitPaddingPercent < 0 {
		return fmt.Errorf("wait padding must not be negative, got %v", c.WaitPaddingPercent)
	}
	if c.HistoryCapacity < 1 {
		return fmt.Errorf("history capacity must be >= 1, got %d", c.HistoryCapacity)
	}
	if c.DefaultIndex < 0 || c.DefaultIndex > c.Lattice.Max() {
		return fmt.Errorf("default index %d outside [0, %d]", c.DefaultIndex, c.Lattice.Max())
	}
	return nil
}

// Controller sequences acquisition rounds across the sensor array and keeps
// per-channel exposure state. A round holds the controller lock from the
// first bus write until its decisions are committed.
type Controller struct {
	mu sync.Mutex

	cfg       Config
	detector  photodetector.Photodetector
	engine    *autotune.Engine
	channels  map[ChannelKey]*channel
	logger    *slog.Logger
	sleep     func(time.Duration)
	nowFunc   func() time.Time
	rounds    int64
	lastRound *RoundResult
}

func New(cfg Config, detector photodetector.Photodetector, logger *slog.Logger) (*Controller, error) {
	if detector == nil {
		return nil, fmt.Errorf("acquisition: photodetector is nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("acquisition: %w", err)
	}
	engine, err := autotune.New(cfg.Lattice, cfg.Predictor, cfg.AutoTune)
	if err != nil {
		return nil, err
	}

	cfg.Sensors = append([]photodetector.SensorID(nil), cfg.Sensors...)
	cfg.Conditions = append([]photodetector.Condition(nil), cfg.Conditions...)
	cfg.IntegrationMillis = append([]float64(nil), cfg.IntegrationMillis...)

	c := &Controller{
		cfg:      cfg,
		detector: detector,
		engine:   engine,
		channels: make(map[ChannelKey]*channel, len(cfg.Sensors)*len(cfg.Conditions)),
		logger:   logger.With("component", "acquisition"),
		sleep:    time.Sleep,
		nowFunc:  time.Now,
	}
	for _, s := range cfg.Sensors {
		for _, cond := range cfg.Conditions {
			key := ChannelKey{Sensor: s, Condition: cond}
			c.channels[key] = newChannel(key, cfg.DefaultIndex, cfg.HistoryCapacity, cfg.StaleThreshold)
		}
	}
	return c, nil
}

// WithSleep replaces the integration wait. The wait is never cancelled.
func (c *Controller) WithSleep(sleep func(time.Duration)) *Controller {
	c.sleep = sleep
	return c
}

func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.nowFunc = now
	for _, ch := range c.channels {
		ch.health.nowFunc = now
	}
	return c
}

// WithSeed restores setting indices from a previous run. Histories stay empty
// so every seeded channel settles again before its first decision.
func (c *Controller) WithSeed(seed map[ChannelKey]int) *Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	applied := 0
	for key, index := range seed {
		ch, ok := c.channels[key]
		if !ok {
			continue
		}
		ch.index = c.cfg.Lattice.Clamp(index)
		applied++
	}
	c.logger.Info("seeded channel settings", "applied", applied, "offered", len(seed))
	return c
}

// ChannelOutcome is what one round did to one channel.
type ChannelOutcome struct {
	Key                ChannelKey
	Reading            *photodetector.Reading
	FailedPhase        string
	Err                error
	Decision           *autotune.Diagnostics
	RoundsSinceSuccess int
	BecameStale        bool
	Recovered          bool
}

// Fresh reports whether the round produced a reading for this channel.
func (o ChannelOutcome) Fresh() bool { return o.Reading != nil }

// Switched reports whether the decision engine changed the setting.
func (o ChannelOutcome) Switched() bool { return o.Decision != nil && o.Decision.Switched() }

// RoundResult summarizes one committed acquisition round.
type RoundResult struct {
	ID        string
	Sequence  int64
	Condition photodetector.Condition
	StartedAt time.Time
	Duration  time.Duration
	Wait      time.Duration
	Outcomes  []ChannelOutcome
}

func (r RoundResult) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.Fresh() {
			n++
		}
	}
	return n
}

func (r RoundResult) Switches() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Switched() {
			n++
		}
	}
	return n
}

// RunRound captures one reading from every sensor under condition, then runs
// the decision engine for every channel that received a fresh reading.
// Per-sensor bus failures never fail the round; the affected channel keeps
// its state and its staleness counter grows.
func (c *Controller) RunRound(ctx context.Context, condition photodetector.Condition) (RoundResult, error) {
	if c == nil {
		return RoundResult{}, ErrNilController
	}
	if !c.knownCondition(condition) {
		return RoundResult{}, fmt.Errorf("%w: %q", ErrUnknownCondition, condition)
	}
	if err := ctx.Err(); err != nil {
		return RoundResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.rounds++
	result := RoundResult{
		ID:        uuid.NewString(),
		Sequence:  c.rounds,
		Condition: condition,
		StartedAt: c.nowFunc(),
	}
	conditionLabel := condition.String()

	ctx, span := tracing.Tracer("acquisition").Start(ctx, "acquisition.round",
		otelTrace.WithAttributes(tracing.RoundAttributes(result.ID, conditionLabel, len(c.cfg.Sensors))...),
	)
	defer span.End()

	// Once the first bus write is issued the round runs to completion.
	busCtx := context.WithoutCancel(ctx)
	failures := make(map[photodetector.SensorID]ChannelOutcome, len(c.cfg.Sensors))
	fail := func(sensor photodetector.SensorID, phase string, err error) {
		key := ChannelKey{Sensor: sensor, Condition: condition}
		decision := retry.Classify(err)
		metrics.ReadErrors.WithLabelValues(sensor.String(), conditionLabel, decision.Reason).Inc()
		c.logger.Warn("channel skipped this round",
			"sensor", sensor,
			"condition", condition,
			"phase", phase,
			"class", decision.Class,
			"reason", decision.Reason,
			"error", err,
		)
		span.AddEvent("channel_skipped", otelTrace.WithAttributes(tracing.SkipAttributes(sensor.String(), phase, decision.Reason)...))
		failures[sensor] = ChannelOutcome{Key: key, FailedPhase: phase, Err: err}
	}

	configured := make([]photodetector.SensorID, 0, len(c.cfg.Sensors))
	for _, sensor := range c.cfg.Sensors {
		ch := c.channels[ChannelKey{Sensor: sensor, Condition: condition}]
		gain, integration := c.cfg.Lattice.Decompose(ch.index)
		if err := c.detector.SelectChannel(busCtx, sensor); err != nil {
			fail(sensor, PhaseConfigure, err)
			continue
		}
		if err := c.detector.ApplySetting(busCtx, gain, integration); err != nil {
			fail(sensor, PhaseConfigure, err)
			continue
		}
		configured = append(configured, sensor)
	}
	span.AddEvent("configured", otelTrace.WithAttributes(attribute.Int("sensors", len(configured))))

	enabled := make([]photodetector.SensorID, 0, len(configured))
	slowest := -1
	for _, sensor := range configured {
		if err := c.detector.SelectChannel(busCtx, sensor); err != nil {
			fail(sensor, PhaseEnable, err)
			continue
		}
		if err := c.detector.Enable(busCtx); err != nil {
			fail(sensor, PhaseEnable, err)
			continue
		}
		enabled = append(enabled, sensor)
		level := c.cfg.Lattice.IntegrationLevel(c.channels[ChannelKey{Sensor: sensor, Condition: condition}].index)
		if level > slowest {
			slowest = level
		}
	}

	if slowest >= 0 {
		result.Wait = c.integrationWait(slowest)
		span.AddEvent("integrating", otelTrace.WithAttributes(attribute.Int64("wait_ms", result.Wait.Milliseconds())))
		c.sleep(result.Wait)
		metrics.IntegrationWait.WithLabelValues(conditionLabel).Observe(result.Wait.Seconds())
	}

	readings := make(map[photodetector.SensorID]photodetector.Reading, len(enabled))
	for _, sensor := range enabled {
		if err := c.detector.SelectChannel(busCtx, sensor); err != nil {
			fail(sensor, PhaseRead, err)
			continue
		}
		if err := c.detector.Disable(busCtx); err != nil {
			fail(sensor, PhaseRead, err)
			continue
		}
		reading, err := c.detector.ReadRawChannels(busCtx)
		if err != nil {
			fail(sensor, PhaseRead, err)
			continue
		}
		readings[sensor] = reading
	}
	span.AddEvent("read", otelTrace.WithAttributes(attribute.Int("readings", len(readings))))

	result.Outcomes = c.commit(condition, readings, failures)
	result.Duration = c.nowFunc().Sub(result.StartedAt)
	c.lastRound = &result

	metrics.RoundsTotal.WithLabelValues(conditionLabel).Inc()
	metrics.RoundLatency.WithLabelValues(conditionLabel).Observe(result.Duration.Seconds())
	span.SetAttributes(
		attribute.Int("exposure.failed", result.Failed()),
		attribute.Int("exposure.switches", result.Switches()),
	)
	if len(readings) == 0 {
		span.SetStatus(codes.Error, "no channel produced a reading")
	}
	c.logger.Debug("round committed",
		"round_id", result.ID,
		"condition", condition,
		"fresh", len(readings),
		"failed", result.Failed(),
		"switches", result.Switches(),
		"wait", result.Wait,
	)
	return result, nil
}

// commit pushes fresh readings, updates staleness and evaluates decisions.
// Must be called with mu held.
func (c *Controller) commit(
	condition photodetector.Condition,
	readings map[photodetector.SensorID]photodetector.Reading,
	failures map[photodetector.SensorID]ChannelOutcome,
) []ChannelOutcome {
	now := c.nowFunc()
	conditionLabel := condition.String()
	outcomes := make([]ChannelOutcome, 0, len(c.cfg.Sensors))
	for _, sensor := range c.cfg.Sensors {
		key := ChannelKey{Sensor: sensor, Condition: condition}
		ch := c.channels[key]
		sensorLabel := sensor.String()

		reading, ok := readings[sensor]
		if !ok {
			outcome, failed := failures[sensor]
			if !failed {
				outcome = ChannelOutcome{Key: key}
			}
			outcome.BecameStale = ch.health.RecordFailure(outcome.Err)
			outcome.RoundsSinceSuccess = ch.health.RoundsSinceSuccess()
			metrics.RoundsSinceSuccess.WithLabelValues(sensorLabel, conditionLabel).Set(float64(outcome.RoundsSinceSuccess))
			if outcome.BecameStale {
				c.logger.Warn("channel stale", "sensor", sensor, "condition", condition, "rounds_since_success", outcome.RoundsSinceSuccess)
			}
			outcomes = append(outcomes, outcome)
			continue
		}

		captured := reading
		ch.history.Push(reading.FullSpectrum)
		ch.lastReading = &captured
		ch.lastReadAt = now
		outcome := ChannelOutcome{Key: key, Reading: &captured}
		outcome.Recovered = ch.health.RecordSuccess()
		metrics.ReadingsTotal.WithLabelValues(sensorLabel, conditionLabel).Inc()
		metrics.RawSignal.WithLabelValues(sensorLabel, conditionLabel).Set(float64(reading.FullSpectrum))
		metrics.RoundsSinceSuccess.WithLabelValues(sensorLabel, conditionLabel).Set(0)
		if outcome.Recovered {
			c.logger.Info("channel recovered", "sensor", sensor, "condition", condition)
		}

		next, diag := c.engine.Resolve(ch.index, ch.history)
		ch.lastDecision = diag.Decision
		metrics.DecisionsTotal.WithLabelValues(conditionLabel, diag.Decision).Inc()
		if diag.Switched() {
			ch.index = next
			ch.switches++
			direction := lattice.Up
			if diag.IndexAfter < diag.IndexBefore {
				direction = lattice.Down
			}
			metrics.SwitchesTotal.WithLabelValues(sensorLabel, conditionLabel, direction.String()).Inc()
			c.logger.Info("exposure switched",
				"sensor", sensor,
				"condition", condition,
				"direction", direction.String(),
				"average", diag.Average,
				"index_before", diag.IndexBefore,
				"index_after", diag.IndexAfter,
				"gain", diag.GainAfter,
				"integration", diag.IntegrationAfter,
			)
		} else {
			c.logger.Debug("exposure evaluated",
				"sensor", sensor,
				"condition", condition,
				"decision", diag.Decision,
				"history", ch.history.Values(),
				"valid_count", ch.history.ValidCount(),
			)
		}
		outcome.Decision = &diag
		outcome.RoundsSinceSuccess = 0
		metrics.SettingIndex.WithLabelValues(sensorLabel, conditionLabel).Set(float64(ch.index))
		metrics.HistoryValidCount.WithLabelValues(sensorLabel, conditionLabel).Set(float64(ch.history.ValidCount()))
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// integrationWait pads the integration time of level by the configured percentage.
func (c *Controller) integrationWait(level int) time.Duration {
	ms := c.cfg.IntegrationMillis[level] * (100 + c.cfg.WaitPaddingPercent) / 100
	return time.Duration(math.Round(ms * float64(time.Millisecond)))
}

func (c *Controller) knownCondition(condition photodetector.Condition) bool {
	for _, cond := range c.cfg.Conditions {
		if cond == condition {
			return true
		}
	}
	return false
}

// Conditions returns the configured illumination conditions in schedule order.
func (c *Controller) Conditions() []photodetector.Condition {
	return append([]photodetector.Condition(nil), c.cfg.Conditions...)
}

func (c *Controller) Sensors() []photodetector.SensorID {
	return append([]photodetector.SensorID(nil), c.cfg.Sensors...)
}

func (c *Controller) Lattice() *lattice.Lattice { return c.cfg.Lattice }

func (c *Controller) Predictor() *overflow.Predictor { return c.cfg.Predictor }

// IntegrationMillis returns the integration time of every level.
func (c *Controller) IntegrationMillis() []float64 {
	return append([]float64(nil), c.cfg.IntegrationMillis...)
}

// Snapshot returns every channel in sensor then condition order. It blocks
// while a round is in flight.
func (c *Controller) Snapshot() []ChannelSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChannelSnapshot, 0, len(c.channels))
	for _, sensor := range c.cfg.Sensors {
		for _, cond := range c.cfg.Conditions {
			ch := c.channels[ChannelKey{Sensor: sensor, Condition: cond}]
			out = append(out, c.snapshotLocked(ch))
		}
	}
	return out
}

// Channel returns one channel snapshot.
func (c *Controller) Channel(key ChannelKey) (ChannelSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[key]
	if !ok {
		return ChannelSnapshot{}, false
	}
	return c.snapshotLocked(ch), true
}

// Settings returns the committed setting index of every channel.
func (c *Controller) Settings() map[ChannelKey]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[ChannelKey]int, len(c.channels))
	for key, ch := range c.channels {
		out[key] = ch.index
	}
	return out
}

// LastRound returns the most recently committed round, if any.
func (c *Controller) LastRound() (RoundResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastRound == nil {
		return RoundResult{}, false
	}
	return *c.lastRound, true
}

func (c *Controller) snapshotLocked(ch *channel) ChannelSnapshot {
	gain, integration := c.cfg.Lattice.Decompose(ch.index)
	snap := ChannelSnapshot{
		Sensor:            uint8(ch.key.Sensor),
		Condition:         string(ch.key.Condition),
		Index:             ch.index,
		Gain:              gain,
		Integration:       integration,
		IntegrationMillis: c.cfg.IntegrationMillis[integration],
		History:           ch.history.Values(),
		ValidCount:        ch.history.ValidCount(),
		Settled:           ch.history.Settled(),
		LastDecision:      ch.lastDecision,
		Switches:          ch.switches,
		Health:            ch.health.Snapshot(),
	}
	if ch.lastReading != nil {
		snap.LastReading = &ReadingSnapshot{
			FullSpectrum: ch.lastReading.FullSpectrum,
			Secondary:    ch.lastReading.Secondary,
			At:           ch.lastReadAt,
		}
	}
	return snap
}

// ParseChannelKey parses the "sensor/condition" form produced by ChannelKey.String.
func ParseChannelKey(s string) (ChannelKey, error) {
	sensor, condition, ok := strings.Cut(s, "/")
	if !ok || condition == "" {
		return ChannelKey{}, fmt.Errorf("parse channel key %q: want sensor/condition", s)
	}
	id, err := strconv.ParseUint(sensor, 10, 8)
	if err != nil {
		return ChannelKey{}, fmt.Errorf("parse channel key %q: %w", s, err)
	}
	return ChannelKey{Sensor: photodetector.SensorID(id), Condition: photodetector.Condition(condition)}, nil
}
