package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/emperorhan/exposure-controller/internal/acquisition"
	"github.com/emperorhan/exposure-controller/internal/lattice"
	"github.com/emperorhan/exposure-controller/internal/overflow"
	"github.com/emperorhan/exposure-controller/internal/photodetector"
)

// ChannelProvider exposes read-only controller state. In production this is
// satisfied by *acquisition.Controller.
type ChannelProvider interface {
	Snapshot() []acquisition.ChannelSnapshot
	Channel(key acquisition.ChannelKey) (acquisition.ChannelSnapshot, bool)
	LastRound() (acquisition.RoundResult, bool)
}

// LatticeProvider exposes the fixed setting lattice the controller runs on.
type LatticeProvider interface {
	Lattice() *lattice.Lattice
	Predictor() *overflow.Predictor
	IntegrationMillis() []float64
}

// Server provides a read-only HTTP admin API over the controller.
type Server struct {
	channels ChannelProvider
	lattice  LatticeProvider
	logger   *slog.Logger
}

func NewServer(channels ChannelProvider, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		channels: channels,
		logger:   logger.With("component", "admin"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServerOption configures optional dependencies for the admin server.
type ServerOption func(*Server)

// WithLatticeProvider enables GET /admin/v1/lattice.
func WithLatticeProvider(lp LatticeProvider) ServerOption {
	return func(s *Server) { s.lattice = lp }
}

// Handler returns the HTTP handler for the admin API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/v1/channels", s.handleListChannels)
	mux.HandleFunc("GET /admin/v1/channels/{sensor}/{condition}", s.handleGetChannel)
	mux.HandleFunc("GET /admin/v1/health", s.handleHealth)
	mux.HandleFunc("GET /admin/v1/lattice", s.handleLattice)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// --- Channels ---

type roundSummary struct {
	ID         string    `json:"id"`
	Sequence   int64     `json:"sequence"`
	Condition  string    `json:"condition"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	WaitMs     int64     `json:"wait_ms"`
	Failed     int       `json:"failed"`
	Switches   int       `json:"switches"`
}

type listChannelsResponse struct {
	Channels  []acquisition.ChannelSnapshot `json:"channels"`
	LastRound *roundSummary                 `json:"last_round,omitempty"`
}

func summarizeRound(r acquisition.RoundResult) *roundSummary {
	return &roundSummary{
		ID:         r.ID,
		Sequence:   r.Sequence,
		Condition:  r.Condition.String(),
		StartedAt:  r.StartedAt,
		DurationMs: r.Duration.Milliseconds(),
		WaitMs:     r.Wait.Milliseconds(),
		Failed:     r.Failed(),
		Switches:   r.Switches(),
	}
}

// handleListChannels returns every channel, optionally filtered by the
// sensor and condition query params.
func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	if s.channels == nil {
		http.Error(w, `{"error":"controller not available"}`, http.StatusServiceUnavailable)
		return
	}

	sensorFilter := r.URL.Query().Get("sensor")
	conditionFilter := r.URL.Query().Get("condition")
	if sensorFilter != "" {
		if _, err := strconv.ParseUint(sensorFilter, 10, 8); err != nil {
			http.Error(w, `{"error":"invalid sensor query param"}`, http.StatusBadRequest)
			return
		}
	}

	resp := listChannelsResponse{Channels: make([]acquisition.ChannelSnapshot, 0)}
	for _, snap := range s.channels.Snapshot() {
		if sensorFilter != "" && strconv.Itoa(int(snap.Sensor)) != sensorFilter {
			continue
		}
		if conditionFilter != "" && snap.Condition != conditionFilter {
			continue
		}
		resp.Channels = append(resp.Channels, snap)
	}
	if last, ok := s.channels.LastRound(); ok {
		resp.LastRound = summarizeRound(last)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	if s.channels == nil {
		http.Error(w, `{"error":"controller not available"}`, http.StatusServiceUnavailable)
		return
	}
	sensor, err := strconv.ParseUint(r.PathValue("sensor"), 10, 8)
	if err != nil {
		http.Error(w, `{"error":"invalid sensor"}`, http.StatusBadRequest)
		return
	}
	key := acquisition.ChannelKey{
		Sensor:    photodetector.SensorID(sensor),
		Condition: photodetector.Condition(r.PathValue("condition")),
	}
	snap, ok := s.channels.Channel(key)
	if !ok {
		http.Error(w, `{"error":"channel not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// --- Health ---

type healthResponse struct {
	Status   string                                `json:"status"`
	Healthy  int                                   `json:"healthy"`
	Stale    int                                   `json:"stale"`
	Unknown  int                                   `json:"unknown"`
	Channels map[string]acquisition.HealthSnapshot `json:"channels"`
}

// handleHealth reports per-channel staleness; status is "degraded" while any
// channel is stale.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.channels == nil {
		http.Error(w, `{"error":"health provider not available"}`, http.StatusServiceUnavailable)
		return
	}

	resp := healthResponse{Status: "ok", Channels: make(map[string]acquisition.HealthSnapshot)}
	for _, snap := range s.channels.Snapshot() {
		resp.Channels[snap.Key().String()] = snap.Health
		switch snap.Health.Status {
		case string(acquisition.HealthStatusHealthy):
			resp.Healthy++
		case string(acquisition.HealthStatusStale):
			resp.Stale++
		default:
			resp.Unknown++
		}
	}
	if resp.Stale > 0 {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Lattice ---

type latticeEntry struct {
	Index             int     `json:"index"`
	Gain              int     `json:"gain"`
	Integration       int     `json:"integration"`
	Product           float64 `json:"product"`
	IntegrationMillis float64 `json:"integration_ms"`
	Ceiling           float64 `json:"overflow_ceiling"`
}

type latticeResponse struct {
	GainLevels        int            `json:"gain_levels"`
	IntegrationLevels int            `json:"integration_levels"`
	Entries           []latticeEntry `json:"entries"`
}

func (s *Server) handleLattice(w http.ResponseWriter, r *http.Request) {
	if s.lattice == nil || s.lattice.Lattice() == nil {
		http.Error(w, `{"error":"lattice not available"}`, http.StatusServiceUnavailable)
		return
	}

	l := s.lattice.Lattice()
	p := s.lattice.Predictor()
	millis := s.lattice.IntegrationMillis()
	resp := latticeResponse{
		GainLevels:        l.GainLevels(),
		IntegrationLevels: l.IntegrationLevels(),
		Entries:           make([]latticeEntry, 0, l.Size()),
	}
	for i := 0; i < l.Size(); i++ {
		g, t := l.Decompose(i)
		e := latticeEntry{Index: i, Gain: g, Integration: t, Product: l.Product(i)}
		if t < len(millis) {
			e.IntegrationMillis = millis[t]
		}
		if p != nil {
			e.Ceiling = p.Ceiling(t)
		}
		resp.Entries = append(resp.Entries, e)
	}
	writeJSON(w, http.StatusOK, resp)
}
