package acquisition

import (
	"fmt"
	"time"

	"github.com/emperorhan/exposure-controller/internal/history"
	"github.com/emperorhan/exposure-controller/internal/photodetector"
)

// ChannelKey identifies the state the controller keeps per sensor and
// illumination condition.
type ChannelKey struct {
	Sensor    photodetector.SensorID
	Condition photodetector.Condition
}

func (k ChannelKey) String() string {
	return fmt.Sprintf("%d/%s", k.Sensor, k.Condition)
}

type channel struct {
	key          ChannelKey
	index        int
	history      *history.Buffer
	health       *ChannelHealth
	lastReading  *photodetector.Reading
	lastReadAt   time.Time
	lastDecision string
	switches     int
}

func newChannel(key ChannelKey, index, capacity, staleThreshold int) *channel {
	return &channel{
		key:     key,
		index:   index,
		history: history.New(capacity),
		health:  NewChannelHealth(staleThreshold),
	}
}

// ReadingSnapshot is the last committed raw capture of a channel.
type ReadingSnapshot struct {
	FullSpectrum uint16    `json:"full_spectrum"`
	Secondary    uint16    `json:"secondary"`
	At           time.Time `json:"at"`
}

// ChannelSnapshot is a point-in-time view of one channel (JSON-safe).
type ChannelSnapshot struct {
	Sensor            uint8            `json:"sensor"`
	Condition         string           `json:"condition"`
	Index             int              `json:"index"`
	Gain              int              `json:"gain"`
	Integration       int              `json:"integration"`
	IntegrationMillis float64          `json:"integration_ms"`
	History           []uint16         `json:"history"`
	ValidCount        int              `json:"valid_count"`
	Settled           bool             `json:"settled"`
	LastReading       *ReadingSnapshot `json:"last_reading,omitempty"`
	LastDecision      string           `json:"last_decision,omitempty"`
	Switches          int              `json:"switches"`
	Health            HealthSnapshot   `json:"health"`
}

// Key returns the channel key the snapshot was taken from.
func (s ChannelSnapshot) Key() ChannelKey {
	return ChannelKey{Sensor: photodetector.SensorID(s.Sensor), Condition: photodetector.Condition(s.Condition)}
}
