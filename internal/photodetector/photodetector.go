package photodetector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
)

//go:generate mockgen -destination=mocks/mock_photodetector.go -package=mocks github.com/emperorhan/exposure-controller/internal/photodetector Photodetector,Illuminator

var (
	// ErrShortRead is returned when the device answers with fewer bytes than requested.
	ErrShortRead = errors.New("photodetector: short read")
	// ErrUnknownSensor is returned when a sensor id has no multiplexer port.
	ErrUnknownSensor = errors.New("photodetector: unknown sensor")
)

// SensorID addresses one physical detector behind the multiplexer.
type SensorID uint8

func (s SensorID) String() string { return strconv.Itoa(int(s)) }

// Condition tags a reading with the illumination state active during capture.
type Condition string

func (c Condition) String() string { return string(c) }

// Reading is one raw capture. FullSpectrum is the signal the controller regulates.
type Reading struct {
	FullSpectrum uint16
	Secondary    uint16
}

// Photodetector drives a multiplexed array of detectors. Every call after
// SelectChannel targets the selected detector until the next SelectChannel.
type Photodetector interface {
	SelectChannel(ctx context.Context, sensor SensorID) error
	// ApplySetting writes gain and integration level indices.
	ApplySetting(ctx context.Context, gain, integration int) error
	// Enable starts an integration cycle.
	Enable(ctx context.Context) error
	// Disable stops the cycle and latches the counters.
	Disable(ctx context.Context) error
	ReadRawChannels(ctx context.Context) (Reading, error)
}

// Illuminator switches the light source that defines a Condition.
type Illuminator interface {
	Illuminate(ctx context.Context, condition Condition) error
}

// NoopIlluminator records the requested condition without driving hardware.
type NoopIlluminator struct {
	Logger *slog.Logger
}

func (n NoopIlluminator) Illuminate(_ context.Context, condition Condition) error {
	if n.Logger != nil {
		n.Logger.Debug("illumination condition set", "condition", condition)
	}
	return nil
}

// ParseSensorIDs converts decimal strings into sensor ids.
func ParseSensorIDs(raw []string) ([]SensorID, error) {
	out := make([]SensorID, 0, len(raw))
	for _, s := range raw {
		v, err := strconv.ParseUint(s, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("parse sensor id %q: %w", s, err)
		}
		out = append(out, SensorID(v))
	}
	return out, nil
}
