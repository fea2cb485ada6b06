package output

import (
	"context"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pitchnet-go/internal/errors"
	"github.com/tphakala/pitchnet-go/internal/inference"
	"github.com/tphakala/pitchnet-go/internal/observability/metrics"
)

type doneToken struct {
	err  error
	done chan struct{}
}

func newDoneToken(err error) *doneToken {
	t := &doneToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

type published struct {
	topic   string
	payload []byte
	retain  bool
}

// fakeClient records publishes. Methods the sink never calls are left to the
// embedded nil interface.
type fakeClient struct {
	mqtt.Client
	mu        sync.Mutex
	messages  []published
	connected bool
	failWith  error
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Disconnect(uint) { c.connected = false }

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload any) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return newDoneToken(c.failWith)
	}
	c.messages = append(c.messages, published{topic: topic, payload: payload.([]byte), retain: retained})
	return newDoneToken(nil)
}

func newTestSink(t *testing.T, cfg MQTTConfig) (*MQTTSink, *fakeClient, *metrics.MQTTMetrics) {
	t.Helper()
	m, err := metrics.NewMQTTMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	s, err := NewMQTTSink(cfg, m)
	require.NoError(t, err)
	fc := &fakeClient{connected: true}
	s.client = fc
	return s, fc, m
}

func TestNewMQTTSinkValidation(t *testing.T) {
	t.Parallel()
	_, err := NewMQTTSink(MQTTConfig{}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	_, err = NewMQTTSink(MQTTConfig{Broker: "tcp://localhost:1883", QoS: 3}, nil)
	require.Error(t, err)
}

func TestMQTTSinkPublishesFullResult(t *testing.T) {
	t.Parallel()
	s, fc, m := newTestSink(t, MQTTConfig{Broker: "tcp://127.0.0.1:1883", Topic: "studio/", Retain: true})

	require.NoError(t, s.Write(t.Context(), inference.Result{Sequence: 1, Pitch: 60}))
	require.Len(t, fc.messages, 1)
	assert.Equal(t, "studio/result", fc.messages[0].topic)
	assert.True(t, fc.messages[0].retain)
	assert.Contains(t, string(fc.messages[0].payload), `"pitch":60`)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MessagesDelivered), 0)
}

func TestMQTTSinkSplitChannelsOrder(t *testing.T) {
	t.Parallel()
	s, fc, _ := newTestSink(t, MQTTConfig{
		Broker:        "tcp://127.0.0.1:1883",
		Topic:         "pn",
		SplitChannels: true,
		Encoding:      EncodingMsgpack,
	})

	require.NoError(t, s.Write(t.Context(), inference.Result{Sequence: 2, Pitch: 60, Confidence: 0.7, Amplitude: 0.3}))
	require.Len(t, fc.messages, 3)
	assert.Equal(t, "pn/amplitude", fc.messages[0].topic)
	assert.Equal(t, "pn/confidence", fc.messages[1].topic)
	assert.Equal(t, "pn/pitch", fc.messages[2].topic)
}

func TestMQTTSinkErrors(t *testing.T) {
	t.Parallel()
	s, fc, m := newTestSink(t, MQTTConfig{Broker: "tcp://127.0.0.1:1883"})

	fc.failWith = errors.NewStd("broker rejected")
	err := s.Write(t.Context(), inference.Result{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))
	assert.InDelta(t, 1, testutil.ToFloat64(m.Errors), 0)

	fc.connected = false
	err = s.Write(t.Context(), inference.Result{})
	require.Error(t, err)
	require.NoError(t, s.Close())
}

func TestWaitTokenHonoursContext(t *testing.T) {
	t.Parallel()
	pending := &doneToken{done: make(chan struct{})}
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, waitToken(ctx, pending, time.Second), context.Canceled)
	require.Error(t, waitToken(t.Context(), pending, time.Millisecond))
}
