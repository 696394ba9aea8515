package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emperorhan/exposure-controller/internal/metrics"
)

// AlertType categorizes the kind of alert.
type AlertType string

const (
	AlertTypeStale     AlertType = "STALE"
	AlertTypeRecovery  AlertType = "RECOVERY"
	AlertTypeSaturated AlertType = "SATURATED"
)

// Alert represents a single alert event for one (sensor, condition) channel.
type Alert struct {
	Type      AlertType
	Sensor    string
	Condition string
	Title     string
	Message   string
	Fields    map[string]string
}

// Alerter is the interface for sending alerts.
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// MultiAlerter fans out alerts to multiple channels.
type MultiAlerter struct {
	alerters []Alerter
	cooldown time.Duration
	logger   *slog.Logger
	nowFunc  func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewMultiAlerter creates a new multi-channel alerter with cooldown.
func NewMultiAlerter(cooldown time.Duration, logger *slog.Logger, alerters ...Alerter) *MultiAlerter {
	return &MultiAlerter{
		alerters: alerters,
		cooldown: cooldown,
		logger:   logger.With("component", "alerter"),
		nowFunc:  time.Now,
		lastSent: make(map[string]time.Time),
	}
}

// Len returns the number of configured delivery channels.
func (m *MultiAlerter) Len() int { return len(m.alerters) }

func cooldownKey(a Alert) string {
	return fmt.Sprintf("%s:%s:%s", a.Type, a.Sensor, a.Condition)
}

// Send delivers alert to every channel unless the same (type, sensor,
// condition) was sent within the cooldown. Delivery errors are joined.
func (m *MultiAlerter) Send(ctx context.Context, alert Alert) error {
	key := cooldownKey(alert)
	if !m.claim(key) {
		m.logger.Debug("alert suppressed by cooldown", "key", key)
		for _, a := range m.alerters {
			metrics.AlertsCooldownSkipped.WithLabelValues(alerterName(a), string(alert.Type)).Inc()
		}
		return nil
	}

	var errs []error
	for _, a := range m.alerters {
		name := alerterName(a)
		if err := a.Send(ctx, alert); err != nil {
			m.logger.Warn("alert delivery failed", "channel", name, "type", alert.Type, "key", key, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		metrics.AlertsSentTotal.WithLabelValues(name, string(alert.Type)).Inc()
	}
	return errors.Join(errs...)
}

// claim records key as sent now unless it is still cooling down.
func (m *MultiAlerter) claim(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.nowFunc()
	if last, ok := m.lastSent[key]; ok && now.Sub(last) < m.cooldown {
		return false
	}
	m.lastSent[key] = now
	return true
}

func alerterName(a Alerter) string {
	switch a.(type) {
	case *SlackAlerter:
		return "slack"
	case *WebhookAlerter:
		return "webhook"
	case *NoopAlerter:
		return "noop"
	default:
		return "unknown"
	}
}

const deliveryTimeout = 10 * time.Second

// postJSON posts payload to url and treats any non-2xx reply as a failure.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

var slackEmoji = map[AlertType]string{
	AlertTypeStale:     ":warning:",
	AlertTypeRecovery:  ":white_check_mark:",
	AlertTypeSaturated: ":high_brightness:",
}

// SlackAlerter posts alerts to a Slack incoming webhook.
type SlackAlerter struct {
	webhookURL string
	client     *http.Client
}

func NewSlackAlerter(webhookURL string) *SlackAlerter {
	return &SlackAlerter{webhookURL: webhookURL, client: &http.Client{Timeout: deliveryTimeout}}
}

func (s *SlackAlerter) Send(ctx context.Context, alert Alert) error {
	emoji, ok := slackEmoji[alert.Type]
	if !ok {
		emoji = ":warning:"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *[%s]* sensor %s/%s: %s\n%s", emoji, alert.Type, alert.Sensor, alert.Condition, alert.Title, alert.Message)
	if len(alert.Fields) > 0 {
		keys := make([]string, 0, len(alert.Fields))
		for k := range alert.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- *%s*: %s\n", k, alert.Fields[k])
		}
	}

	if err := postJSON(ctx, s.client, s.webhookURL, map[string]string{"text": b.String()}); err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	return nil
}

type webhookPayload struct {
	Type      string            `json:"type"`
	Sensor    string            `json:"sensor"`
	Condition string            `json:"condition"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Time      string            `json:"time"`
}

// WebhookAlerter posts alerts as JSON to a generic HTTP endpoint.
type WebhookAlerter struct {
	url     string
	client  *http.Client
	nowFunc func() time.Time
}

func NewWebhookAlerter(url string) *WebhookAlerter {
	return &WebhookAlerter{url: url, client: &http.Client{Timeout: deliveryTimeout}, nowFunc: time.Now}
}

func (w *WebhookAlerter) Send(ctx context.Context, alert Alert) error {
	payload := webhookPayload{
		Type:      string(alert.Type),
		Sensor:    alert.Sensor,
		Condition: alert.Condition,
		Title:     alert.Title,
		Message:   alert.Message,
		Fields:    alert.Fields,
		Time:      w.nowFunc().UTC().Format(time.RFC3339),
	}
	if err := postJSON(ctx, w.client, w.url, payload); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

// NoopAlerter drops every alert; used when no channel is configured.
type NoopAlerter struct{}

func (n *NoopAlerter) Send(_ context.Context, _ Alert) error { return nil }
