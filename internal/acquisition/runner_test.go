package acquisition

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/emperorhan/exposure-controller/internal/acquisition/autotune"
	"github.com/emperorhan/exposure-controller/internal/alert"
	"github.com/emperorhan/exposure-controller/internal/photodetector"
	"github.com/emperorhan/exposure-controller/internal/photodetector/mocks"
)

type recordingObserver struct {
	mu      sync.Mutex
	results []RoundResult
}

func (r *recordingObserver) ObserveRound(_ context.Context, result RoundResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func (r *recordingObserver) conditions() []photodetector.Condition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]photodetector.Condition, 0, len(r.results))
	for _, res := range r.results {
		out = append(out, res.Condition)
	}
	return out
}

func TestRunner_RunCycleIlluminatesEachCondition(t *testing.T) {
	ctrl := gomock.NewController(t)
	ill := mocks.NewMockIlluminator(ctrl)
	gomock.InOrder(
		ill.EXPECT().Illuminate(gomock.Any(), photodetector.Condition("ambient")).Return(nil),
		ill.EXPECT().Illuminate(gomock.Any(), photodetector.Condition("red")).Return(nil),
	)

	c, _ := newSimController(t, 1, 0)
	obs := &recordingObserver{}
	r := NewRunner(c, ill, time.Second, testLogger()).WithObservers(obs)

	require.NoError(t, r.RunCycle(context.Background()))
	assert.Equal(t, []photodetector.Condition{"ambient", "red"}, obs.conditions())
}

func TestRunner_IlluminationFailureSkipsCondition(t *testing.T) {
	ctrl := gomock.NewController(t)
	ill := mocks.NewMockIlluminator(ctrl)
	ill.EXPECT().Illuminate(gomock.Any(), photodetector.Condition("ambient")).Return(errors.New("led driver offline"))
	ill.EXPECT().Illuminate(gomock.Any(), photodetector.Condition("red")).Return(nil)

	c, _ := newSimController(t, 1, 0)
	obs := &recordingObserver{}
	r := NewRunner(c, ill, time.Second, testLogger()).WithObservers(obs)

	require.NoError(t, r.RunCycle(context.Background()))
	assert.Equal(t, []photodetector.Condition{"red"}, obs.conditions())

	snap, _ := c.Channel(ChannelKey{Sensor: 0, Condition: "ambient"})
	assert.Equal(t, 0, snap.ValidCount, "no capture under an unconfirmed illumination")
}

func TestRunner_RunStopsOnCancel(t *testing.T) {
	c, _ := newSimController(t, 1, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rounds int
	r := NewRunner(c, nil, time.Hour, testLogger()).WithObservers(RoundObserverFunc(func(context.Context, RoundResult) {
		rounds++
		cancel()
	}))

	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, rounds, "cancellation is checked between rounds")
}

func TestRunner_NilController(t *testing.T) {
	r := NewRunner(nil, nil, time.Second, testLogger())
	assert.ErrorIs(t, r.Run(context.Background()), ErrNilController)
}

type stubAlerter struct {
	sent []alert.Alert
	err  error
}

func (s *stubAlerter) Send(_ context.Context, a alert.Alert) error {
	s.sent = append(s.sent, a)
	return s.err
}

func TestAlertObserver_RaisesChannelAlerts(t *testing.T) {
	stub := &stubAlerter{err: errors.New("webhook down")}
	obs := NewAlertObserver(stub, testLogger())

	clamped := autotune.Diagnostics{Decision: autotune.DecisionClampedDecrease, Average: 60000}
	hold := autotune.Diagnostics{Decision: autotune.DecisionHold}
	reading := photodetector.Reading{FullSpectrum: 1}
	obs.ObserveRound(context.Background(), RoundResult{
		ID: "round-1",
		Outcomes: []ChannelOutcome{
			{Key: ChannelKey{Sensor: 0, Condition: "ambient"}, BecameStale: true, RoundsSinceSuccess: 5, FailedPhase: PhaseRead, Err: photodetector.ErrShortRead},
			{Key: ChannelKey{Sensor: 1, Condition: "ambient"}, Recovered: true, Reading: &reading, Decision: &hold},
			{Key: ChannelKey{Sensor: 2, Condition: "ambient"}, Reading: &reading, Decision: &clamped},
			{Key: ChannelKey{Sensor: 3, Condition: "ambient"}, Reading: &reading, Decision: &hold},
		},
	})

	require.Len(t, stub.sent, 3)
	assert.Equal(t, alert.AlertTypeStale, stub.sent[0].Type)
	assert.Equal(t, "5", stub.sent[0].Fields["rounds_since_success"])
	assert.Equal(t, "read", stub.sent[0].Fields["phase"])
	assert.Equal(t, "round-1", stub.sent[0].Fields["round_id"])
	assert.Equal(t, alert.AlertTypeRecovery, stub.sent[1].Type)
	assert.Equal(t, "1", stub.sent[1].Sensor)
	assert.Equal(t, alert.AlertTypeSaturated, stub.sent[2].Type)
	assert.Equal(t, "ambient", stub.sent[2].Condition)
}
