package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/emperorhan/exposure-controller/internal/acquisition"
	"github.com/emperorhan/exposure-controller/internal/acquisition/autotune"
	"github.com/emperorhan/exposure-controller/internal/photodetector"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	token *fakeToken
	sent  []published
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.sent = append(c.sent, published{topic: topic, qos: qos, payload: payload.([]byte)})
	if c.token == nil {
		return &fakeToken{}
	}
	return c.token
}

type fakeSource map[acquisition.ChannelKey]acquisition.ChannelSnapshot

func (f fakeSource) Channel(key acquisition.ChannelKey) (acquisition.ChannelSnapshot, bool) {
	s, ok := f[key]
	return s, ok
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleRound() (acquisition.RoundResult, fakeSource) {
	k0 := acquisition.ChannelKey{Sensor: 0, Condition: "ambient"}
	k1 := acquisition.ChannelKey{Sensor: 1, Condition: "ambient"}
	reading := photodetector.Reading{FullSpectrum: 30000, Secondary: 7500}
	hold := autotune.Diagnostics{Decision: autotune.DecisionHold, Average: 30000, IndexBefore: 5, IndexAfter: 5}
	result := acquisition.RoundResult{
		ID:        "round-7",
		Sequence:  7,
		Condition: "ambient",
		StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Duration:  700 * time.Millisecond,
		Wait:      660 * time.Millisecond,
		Outcomes: []acquisition.ChannelOutcome{
			{Key: k0, Reading: &reading, Decision: &hold},
			{Key: k1, FailedPhase: acquisition.PhaseRead, Err: photodetector.ErrShortRead, RoundsSinceSuccess: 1},
		},
	}
	source := fakeSource{
		k0: {Sensor: 0, Condition: "ambient", Index: 5, Gain: 0, Integration: 5, ValidCount: 3},
		k1: {Sensor: 1, Condition: "ambient", Index: 18, Gain: 3, Integration: 0},
	}
	return result, source
}

func TestPublisher_PublishesJSONPerCondition(t *testing.T) {
	client := &fakeClient{}
	result, source := sampleRound()
	p, err := NewPublisher(client, source, "exposure/", "", testLogger())
	require.NoError(t, err)

	p.WithQoS(1).ObserveRound(context.Background(), result)

	require.Len(t, client.sent, 1)
	assert.Equal(t, "exposure/ambient/round", client.sent[0].topic)
	assert.Equal(t, byte(1), client.sent[0].qos)

	var got RoundPayload
	require.NoError(t, json.Unmarshal(client.sent[0].payload, &got))
	assert.Equal(t, "round-7", got.RoundID)
	assert.Equal(t, int64(660), got.WaitMs)
	require.Len(t, got.Channels, 2)
	assert.True(t, got.Channels[0].Fresh)
	assert.Equal(t, uint16(30000), got.Channels[0].FullSpectrum)
	assert.Equal(t, 5, got.Channels[0].Integration)
	assert.Equal(t, autotune.DecisionHold, got.Channels[0].Decision)
	assert.False(t, got.Channels[1].Fresh)
	assert.Equal(t, "read", got.Channels[1].FailedPhase)
	assert.Equal(t, 18, got.Channels[1].Index)
}

func TestPublisher_MsgpackPayload(t *testing.T) {
	client := &fakeClient{}
	result, source := sampleRound()
	p, err := NewPublisher(client, source, "lab", FormatMsgpack, testLogger())
	require.NoError(t, err)

	require.NoError(t, p.Publish(result))
	require.Len(t, client.sent, 1)
	assert.Equal(t, "lab/ambient/round", client.sent[0].topic)

	var got RoundPayload
	require.NoError(t, msgpack.Unmarshal(client.sent[0].payload, &got))
	assert.Equal(t, int64(7), got.Sequence)
	assert.True(t, got.StartedAt.Equal(result.StartedAt))
	assert.Equal(t, uint16(7500), got.Channels[0].Secondary)
}

func TestPublisher_Failures(t *testing.T) {
	result, source := sampleRound()

	timeout := &fakeClient{token: &fakeToken{timeout: true}}
	p, err := NewPublisher(timeout, source, "exposure", FormatJSON, testLogger())
	require.NoError(t, err)
	assert.ErrorIs(t, p.Publish(result), ErrPublishTimeout)

	broken := errors.New("not connected")
	failing := &fakeClient{token: &fakeToken{err: broken}}
	p, err = NewPublisher(failing, source, "exposure", FormatJSON, testLogger())
	require.NoError(t, err)
	assert.ErrorIs(t, p.Publish(result), broken)
}

func TestNewPublisher_RejectsUnknownFormat(t *testing.T) {
	_, err := NewPublisher(&fakeClient{}, nil, "exposure", "xml", testLogger())
	assert.Error(t, err)
}
