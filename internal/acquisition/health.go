package acquisition

import (
	"sync"
	"time"
)

// HealthStatus represents the freshness state of a channel.
type HealthStatus string

const (
	HealthStatusUnknown HealthStatus = "UNKNOWN"
	HealthStatusHealthy HealthStatus = "HEALTHY"
	HealthStatusStale   HealthStatus = "STALE"

	// DefaultStaleThreshold is the number of consecutive rounds without a fresh
	// reading before a channel is considered stale.
	DefaultStaleThreshold = 5
)

// ChannelHealth tracks read failures for a single (sensor, condition) channel.
type ChannelHealth struct {
	mu                  sync.RWMutex
	status              HealthStatus
	consecutiveFailures int
	lastSuccessAt       *time.Time
	lastFailureAt       *time.Time
	lastError           string
	staleThreshold      int
	nowFunc             func() time.Time
}

// NewChannelHealth creates a tracker. A threshold below 1 uses the default.
func NewChannelHealth(staleThreshold int) *ChannelHealth {
	if staleThreshold < 1 {
		staleThreshold = DefaultStaleThreshold
	}
	return &ChannelHealth{
		status:         HealthStatusUnknown,
		staleThreshold: staleThreshold,
		nowFunc:        time.Now,
	}
}

// RecordSuccess records a fresh reading and returns true if it represents a
// recovery from the stale state.
func (h *ChannelHealth) RecordSuccess() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.nowFunc()
	wasStale := h.status == HealthStatusStale
	h.consecutiveFailures = 0
	h.lastSuccessAt = &now
	h.lastError = ""
	h.status = HealthStatusHealthy
	return wasStale
}

// RecordFailure records a round without a fresh reading. Returns true if the
// channel transitioned to stale on this call.
func (h *ChannelHealth) RecordFailure(err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.nowFunc()
	h.consecutiveFailures++
	h.lastFailureAt = &now
	if err != nil {
		h.lastError = err.Error()
	}
	if h.consecutiveFailures >= h.staleThreshold && h.status != HealthStatusStale {
		h.status = HealthStatusStale
		return true
	}
	return false
}

// RoundsSinceSuccess is the number of consecutive rounds without a fresh reading.
func (h *ChannelHealth) RoundsSinceSuccess() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.consecutiveFailures
}

// Snapshot returns the current health state.
func (h *ChannelHealth) Snapshot() HealthSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HealthSnapshot{
		Status:             string(h.status),
		RoundsSinceSuccess: h.consecutiveFailures,
		LastSuccessAt:      h.lastSuccessAt,
		LastFailureAt:      h.lastFailureAt,
		LastError:          h.lastError,
	}
}

// HealthSnapshot is a point-in-time view of channel health (JSON-safe).
type HealthSnapshot struct {
	Status             string     `json:"status"`
	RoundsSinceSuccess int        `json:"rounds_since_success"`
	LastSuccessAt      *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt      *time.Time `json:"last_failure_at,omitempty"`
	LastError          string     `json:"last_error,omitempty"`
}
