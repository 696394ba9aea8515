package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/emperorhan/exposure-controller/internal/acquisition"
	"github.com/emperorhan/exposure-controller/internal/metrics"
)

const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"

	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

var ErrPublishTimeout = errors.New("telemetry: publish timeout")

// Client is the subset of mqtt.Client the publisher needs.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// ChannelSource resolves the committed state of a channel.
type ChannelSource interface {
	Channel(key acquisition.ChannelKey) (acquisition.ChannelSnapshot, bool)
}

// RoundPayload is the per-round message published to
// <prefix>/<condition>/round.
type RoundPayload struct {
	RoundID    string           `json:"round_id" msgpack:"round_id"`
	Sequence   int64            `json:"sequence" msgpack:"sequence"`
	Condition  string           `json:"condition" msgpack:"condition"`
	StartedAt  time.Time        `json:"started_at" msgpack:"started_at"`
	DurationMs int64            `json:"duration_ms" msgpack:"duration_ms"`
	WaitMs     int64            `json:"wait_ms" msgpack:"wait_ms"`
	Channels   []ChannelPayload `json:"channels" msgpack:"channels"`
}

type ChannelPayload struct {
	Sensor       uint8   `json:"sensor" msgpack:"sensor"`
	Fresh        bool    `json:"fresh" msgpack:"fresh"`
	FullSpectrum uint16  `json:"full_spectrum" msgpack:"full_spectrum"`
	Secondary    uint16  `json:"secondary" msgpack:"secondary"`
	Index        int     `json:"index" msgpack:"index"`
	Gain         int     `json:"gain" msgpack:"gain"`
	Integration  int     `json:"integration" msgpack:"integration"`
	ValidCount   int     `json:"valid_count" msgpack:"valid_count"`
	Decision     string  `json:"decision,omitempty" msgpack:"decision,omitempty"`
	Average      float64 `json:"average,omitempty" msgpack:"average,omitempty"`
	FailedPhase  string  `json:"failed_phase,omitempty" msgpack:"failed_phase,omitempty"`
	Error        string  `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Publisher pushes every committed round to an MQTT broker.
type Publisher struct {
	client Client
	source ChannelSource
	prefix string
	format string
	qos    byte
	logger *slog.Logger
}

func NewPublisher(client Client, source ChannelSource, prefix, format string, logger *slog.Logger) (*Publisher, error) {
	switch format {
	case "":
		format = FormatJSON
	case FormatJSON, FormatMsgpack:
	default:
		return nil, fmt.Errorf("telemetry: unsupported payload format %q", format)
	}
	return &Publisher{
		client: client,
		source: source,
		prefix: strings.TrimSuffix(prefix, "/"),
		format: format,
		logger: logger.With("component", "telemetry"),
	}, nil
}

// WithQoS sets the MQTT QoS for round messages (default 0).
func (p *Publisher) WithQoS(qos byte) *Publisher {
	p.qos = qos
	return p
}

func (p *Publisher) Topic(condition string) string {
	return fmt.Sprintf("%s/%s/round", p.prefix, condition)
}

func (p *Publisher) ObserveRound(_ context.Context, result acquisition.RoundResult) {
	if err := p.Publish(result); err != nil {
		metrics.TelemetryErrors.WithLabelValues(p.format).Inc()
		p.logger.Warn("round publish failed", "round_id", result.ID, "condition", result.Condition, "error", err)
		return
	}
	metrics.TelemetryPublished.WithLabelValues(p.format).Inc()
}

func (p *Publisher) Publish(result acquisition.RoundResult) error {
	payload, err := p.Encode(p.buildPayload(result))
	if err != nil {
		return err
	}
	topic := p.Topic(result.Condition.String())
	token := p.client.Publish(topic, p.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	p.logger.Debug("round published", "topic", topic, "size", len(payload))
	return nil
}

func (p *Publisher) Encode(payload RoundPayload) ([]byte, error) {
	if p.format == FormatMsgpack {
		b, err := msgpack.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal msgpack payload: %w", err)
		}
		return b, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal json payload: %w", err)
	}
	return b, nil
}

func (p *Publisher) buildPayload(result acquisition.RoundResult) RoundPayload {
	out := RoundPayload{
		RoundID:    result.ID,
		Sequence:   result.Sequence,
		Condition:  result.Condition.String(),
		StartedAt:  result.StartedAt.UTC(),
		DurationMs: result.Duration.Milliseconds(),
		WaitMs:     result.Wait.Milliseconds(),
		Channels:   make([]ChannelPayload, 0, len(result.Outcomes)),
	}
	for _, o := range result.Outcomes {
		ch := ChannelPayload{
			Sensor:      uint8(o.Key.Sensor),
			Fresh:       o.Fresh(),
			FailedPhase: o.FailedPhase,
		}
		if o.Reading != nil {
			ch.FullSpectrum = o.Reading.FullSpectrum
			ch.Secondary = o.Reading.Secondary
		}
		if o.Err != nil {
			ch.Error = o.Err.Error()
		}
		if o.Decision != nil {
			ch.Decision = o.Decision.Decision
			ch.Average = o.Decision.Average
		}
		if p.source != nil {
			if snap, ok := p.source.Channel(o.Key); ok {
				ch.Index = snap.Index
				ch.Gain = snap.Gain
				ch.Integration = snap.Integration
				ch.ValidCount = snap.ValidCount
			}
		}
		out.Channels = append(out.Channels, ch)
	}
	return out
}

// Dial connects to broker with auto-reconnect enabled.
func Dial(broker, clientID string, logger *slog.Logger) (mqtt.Client, error) {
	l := logger.With("component", "mqtt")
	opts := mqtt.NewClientOptions()
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		l.Info("mqtt connected", "broker", broker, "client_id", clientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		l.Warn("mqtt connection lost, reconnecting", "broker", broker, "error", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
	}
	return client, nil
}
