package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DetectorBackendTSL2591 = "tsl2591"
	DetectorBackendSim     = "sim"

	PayloadFormatJSON    = "json"
	PayloadFormatMsgpack = "msgpack"
)

type Config struct {
	Log        LogConfig
	Server     ServerConfig
	Detector   DetectorConfig
	Exposure   ExposureConfig
	Runner     RunnerConfig
	Alert      AlertConfig
	Tracing    TracingConfig
	MQTT       MQTTConfig
	Checkpoint CheckpointConfig
}

type LogConfig struct {
	Level string
}

type ServerConfig struct {
	HealthPort int
}

type DetectorConfig struct {
	Backend    string
	I2CBus     string
	MuxAddr    uint16
	SensorAddr uint16
	SensorIDs  []int
	Conditions []string
	// SimLightLevel is the counts per unit of gain x integration product the
	// simulated backend produces.
	SimLightLevel float64
}

// ExposureConfig describes the setting lattice and the decision thresholds.
// EXPOSURE_LATTICE_FILE names an optional YAML overlay.
type ExposureConfig struct {
	GainMultipliers    []float64
	IntegrationMillis  []float64
	Products           []float64
	OverflowCeilings   []float64
	HistoryCapacity    int
	GuardBand          float64
	DefaultIndex       int
	WaitPaddingPercent float64
	LatticeFile        string
}

// GainLevels is the number of gain levels the lattice spans.
func (e ExposureConfig) GainLevels() int { return len(e.GainMultipliers) }

// IntegrationLevels is the number of integration levels the lattice spans.
func (e ExposureConfig) IntegrationLevels() int { return len(e.IntegrationMillis) }

// ProductTable returns the explicit product table when one is configured,
// otherwise gain multiplier x integration time for every index.
func (e ExposureConfig) ProductTable() []float64 {
	if len(e.Products) > 0 {
		return append([]float64(nil), e.Products...)
	}
	out := make([]float64, 0, e.GainLevels()*e.IntegrationLevels())
	for _, g := range e.GainMultipliers {
		for _, t := range e.IntegrationMillis {
			out = append(out, g*t)
		}
	}
	return out
}

type RunnerConfig struct {
	RoundInterval  time.Duration
	StaleThreshold int
}

type AlertConfig struct {
	SlackWebhookURL string
	WebhookURL      string
	Cooldown        time.Duration
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

type MQTTConfig struct {
	Broker        string
	ClientID      string
	TopicPrefix   string
	PayloadFormat string
	QoS           int
}

type CheckpointConfig struct {
	Path string
}

func Load() (*Config, error) {
	cfg := &Config{
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Server: ServerConfig{
			HealthPort: getEnvInt("HEALTH_PORT", 8080),
		},
		Detector: DetectorConfig{
			Backend:       strings.ToLower(getEnv("DETECTOR_BACKEND", DetectorBackendTSL2591)),
			I2CBus:        getEnv("I2C_BUS", ""),
			MuxAddr:       getEnvAddr("I2C_MUX_ADDR", 0x70),
			SensorAddr:    getEnvAddr("TSL2591_ADDR", 0x29),
			Conditions:    getEnvList("ILLUMINATION_CONDITIONS", "ambient"),
			SimLightLevel: getEnvFloat("SIM_LIGHT_LEVEL", 50),
		},
		Runner: RunnerConfig{
			RoundInterval:  time.Duration(getEnvInt("ROUND_INTERVAL_MS", 1000)) * time.Millisecond,
			StaleThreshold: getEnvInt("STALE_ALERT_ROUNDS", 5),
		},
		Alert: AlertConfig{
			SlackWebhookURL: getEnv("ALERT_SLACK_WEBHOOK_URL", ""),
			WebhookURL:      getEnv("ALERT_WEBHOOK_URL", ""),
			Cooldown:        time.Duration(getEnvInt("ALERT_COOLDOWN_SEC", 300)) * time.Second,
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			Endpoint:    getEnv("TRACING_ENDPOINT", "localhost:4317"),
			Insecure:    getEnvBool("TRACING_INSECURE", true),
			SampleRatio: getEnvFloat("TRACING_SAMPLE_RATIO", 1),
		},
		MQTT: MQTTConfig{
			Broker:        getEnv("MQTT_BROKER", ""),
			ClientID:      getEnv("MQTT_CLIENT_ID", "exposured"),
			TopicPrefix:   getEnv("MQTT_TOPIC_PREFIX", "exposure"),
			PayloadFormat: strings.ToLower(getEnv("MQTT_PAYLOAD_FORMAT", PayloadFormatJSON)),
			QoS:           getEnvInt("MQTT_QOS", 0),
		},
		Checkpoint: CheckpointConfig{
			Path: getEnv("CHECKPOINT_PATH", ""),
		},
	}

	var err error
	if cfg.Detector.SensorIDs, err = parseInts(getEnv("SENSOR_IDS", "0,1,2,3")); err != nil {
		return nil, fmt.Errorf("SENSOR_IDS: %w", err)
	}

	exposure := ExposureConfig{
		HistoryCapacity:    getEnvInt("EXPOSURE_HISTORY_CAPACITY", 3),
		GuardBand:          getEnvFloat("EXPOSURE_GUARD_BAND", 5000),
		DefaultIndex:       getEnvInt("EXPOSURE_DEFAULT_INDEX", 18),
		WaitPaddingPercent: getEnvFloat("EXPOSURE_WAIT_PADDING_PCT", 10),
		LatticeFile:        getEnv("EXPOSURE_LATTICE_FILE", ""),
	}
	lists := []struct {
		key      string
		fallback string
		dst      *[]float64
	}{
		{"EXPOSURE_GAIN_MULTIPLIERS", "1,25,428,9876", &exposure.GainMultipliers},
		{"EXPOSURE_INTEGRATION_MS", "100,200,300,400,500,600", &exposure.IntegrationMillis},
		{"EXPOSURE_OVERFLOW_CEILINGS", "37888,65535,65535,65535,65535,65535", &exposure.OverflowCeilings},
	}
	for _, l := range lists {
		if *l.dst, err = parseFloats(getEnv(l.key, l.fallback)); err != nil {
			return nil, fmt.Errorf("%s: %w", l.key, err)
		}
	}
	if exposure.LatticeFile != "" {
		if err := exposure.loadFile(exposure.LatticeFile); err != nil {
			return nil, err
		}
	}
	cfg.Exposure = exposure

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// latticeFile is the YAML overlay; absent scalars keep the env values.
type latticeFile struct {
	GainMultipliers    []float64 `yaml:"gain_multipliers"`
	IntegrationMillis  []float64 `yaml:"integration_ms"`
	Products           []float64 `yaml:"products"`
	OverflowCeilings   []float64 `yaml:"overflow_ceilings"`
	HistoryCapacity    *int      `yaml:"history_capacity"`
	GuardBand          *float64  `yaml:"guard_band"`
	DefaultIndex       *int      `yaml:"default_index"`
	WaitPaddingPercent *float64  `yaml:"wait_padding_pct"`
}

func (e *ExposureConfig) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read lattice file: %w", err)
	}
	var file latticeFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse lattice file %s: %w", path, err)
	}
	if len(file.GainMultipliers) > 0 {
		e.GainMultipliers = file.GainMultipliers
	}
	if len(file.IntegrationMillis) > 0 {
		e.IntegrationMillis = file.IntegrationMillis
	}
	if len(file.Products) > 0 {
		e.Products = file.Products
	}
	if len(file.OverflowCeilings) > 0 {
		e.OverflowCeilings = file.OverflowCeilings
	}
	if file.HistoryCapacity != nil {
		e.HistoryCapacity = *file.HistoryCapacity
	}
	if file.GuardBand != nil {
		e.GuardBand = *file.GuardBand
	}
	if file.DefaultIndex != nil {
		e.DefaultIndex = *file.DefaultIndex
	}
	if file.WaitPaddingPercent != nil {
		e.WaitPaddingPercent = *file.WaitPaddingPercent
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Detector.Backend {
	case DetectorBackendTSL2591, DetectorBackendSim:
	default:
		return fmt.Errorf("DETECTOR_BACKEND must be %s or %s, got %q", DetectorBackendTSL2591, DetectorBackendSim, c.Detector.Backend)
	}
	if len(c.Detector.SensorIDs) == 0 {
		return fmt.Errorf("SENSOR_IDS must name at least one sensor")
	}
	seenSensors := make(map[int]struct{}, len(c.Detector.SensorIDs))
	for _, id := range c.Detector.SensorIDs {
		if id < 0 || id > 255 {
			return fmt.Errorf("SENSOR_IDS: sensor %d out of range", id)
		}
		if _, dup := seenSensors[id]; dup {
			return fmt.Errorf("SENSOR_IDS: duplicate sensor %d", id)
		}
		seenSensors[id] = struct{}{}
	}
	if len(c.Detector.Conditions) == 0 {
		return fmt.Errorf("ILLUMINATION_CONDITIONS must name at least one condition")
	}
	seenConditions := make(map[string]struct{}, len(c.Detector.Conditions))
	for _, cond := range c.Detector.Conditions {
		if _, dup := seenConditions[cond]; dup {
			return fmt.Errorf("ILLUMINATION_CONDITIONS: duplicate condition %q", cond)
		}
		seenConditions[cond] = struct{}{}
	}
	if c.Runner.RoundInterval <= 0 {
		return fmt.Errorf("ROUND_INTERVAL_MS must be positive")
	}
	switch c.MQTT.PayloadFormat {
	case PayloadFormatJSON, PayloadFormatMsgpack:
	default:
		return fmt.Errorf("MQTT_PAYLOAD_FORMAT must be %s or %s, got %q", PayloadFormatJSON, PayloadFormatMsgpack, c.MQTT.PayloadFormat)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATIO must be within [0,1]")
	}
	return c.Exposure.validate()
}

func (e ExposureConfig) validate() error {
	g, t := e.GainLevels(), e.IntegrationLevels()
	if g < 1 || t < 1 {
		return fmt.Errorf("exposure lattice needs at least one gain and one integration level")
	}
	for _, v := range append(append([]float64(nil), e.GainMultipliers...), e.IntegrationMillis...) {
		if v <= 0 {
			return fmt.Errorf("gain multipliers and integration times must be positive")
		}
	}
	if len(e.Products) > 0 && len(e.Products) != g*t {
		return fmt.Errorf("product table has %d entries, want %d", len(e.Products), g*t)
	}
	products := e.ProductTable()
	for i, p := range products {
		if p <= 0 {
			return fmt.Errorf("product at index %d must be positive", i)
		}
		if i > 0 && p < products[i-1] {
			return fmt.Errorf("product table must be non-decreasing (index %d)", i)
		}
	}
	if len(e.OverflowCeilings) != t {
		return fmt.Errorf("EXPOSURE_OVERFLOW_CEILINGS has %d entries, want %d", len(e.OverflowCeilings), t)
	}
	if e.HistoryCapacity < 1 {
		return fmt.Errorf("EXPOSURE_HISTORY_CAPACITY must be at least 1")
	}
	if e.GuardBand < 0 {
		return fmt.Errorf("EXPOSURE_GUARD_BAND must not be negative")
	}
	if e.DefaultIndex < 0 || e.DefaultIndex >= g*t {
		return fmt.Errorf("EXPOSURE_DEFAULT_INDEX %d outside [0,%d]", e.DefaultIndex, g*t-1)
	}
	if e.WaitPaddingPercent < 0 {
		return fmt.Errorf("EXPOSURE_WAIT_PADDING_PCT must not be negative")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvAddr accepts decimal or 0x-prefixed 7-bit bus addresses.
func getEnvAddr(key string, fallback uint16) uint16 {
	if v := os.Getenv(key); v != "" {
		if a, err := strconv.ParseUint(v, 0, 7); err == nil {
			return uint16(a)
		}
	}
	return fallback
}

func getEnvList(key, fallback string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, fallback), ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseInts(raw string) ([]int, error) {
	var out []int
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		i, err := strconv.Atoi(item)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", item)
		}
		out = append(out, i)
	}
	return out, nil
}

func parseFloats(raw string) ([]float64, error) {
	var out []float64
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		f, err := strconv.ParseFloat(item, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", item)
		}
		out = append(out, f)
	}
	return out, nil
}
