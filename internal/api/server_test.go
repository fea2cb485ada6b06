package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pitchnet-go/internal/errors"
	"github.com/tphakala/pitchnet-go/internal/inference"
	"github.com/tphakala/pitchnet-go/internal/model"
	"github.com/tphakala/pitchnet-go/internal/output"
	"github.com/tphakala/pitchnet-go/internal/stream"
)

type fakeStream struct {
	status stream.Status
	models []model.Metadata
	err    error
}

func (f *fakeStream) Status() stream.Status             { return f.status }
func (f *fakeStream) Models() ([]model.Metadata, error) { return f.models, f.err }

type fakeCommander struct {
	mu    sync.Mutex
	cmds  []stream.Command
	err   error
	reply func(stream.Command) stream.Reply
}

func (f *fakeCommander) Submit(_ context.Context, cmd stream.Command) (stream.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	if f.err != nil {
		return stream.Reply{Action: cmd.Action}, f.err
	}
	if f.reply != nil {
		return f.reply(cmd), nil
	}
	return stream.Reply{Action: cmd.Action, Success: true}, nil
}

func (f *fakeCommander) commands() []stream.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]stream.Command(nil), f.cmds...)
}

type fakeResults struct{ results []inference.Result }

func (f *fakeResults) Get() (inference.Result, bool) {
	if len(f.results) == 0 {
		return inference.Result{}, false
	}
	return f.results[len(f.results)-1], true
}

func (f *fakeResults) Recent() []inference.Result { return f.results }

type fakeHistory struct {
	session string
	limit   int
	records []output.PitchRecord
}

func (f *fakeHistory) Recent(_ context.Context, sessionID string, limit int) ([]output.PitchRecord, error) {
	f.session, f.limit = sessionID, limit
	return f.records, nil
}

type testEnv struct {
	server    *Server
	stream    *fakeStream
	commander *fakeCommander
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	env := &testEnv{
		stream: &fakeStream{status: stream.Status{
			SessionID:   "session-1",
			WorkerState: "waiting",
			ModelLoaded: true,
			ChunkSize:   512,
			Model: model.Info{
				Metadata: model.Metadata{Name: "pitch_sr48k_h512.tflite", ChunkSize: 512, SampleRate: 48000},
				Backend:  "tflite",
			},
		}},
		commander: &fakeCommander{},
	}
	cfg := Config{
		InstanceName: "studio",
		Stream:       env.stream,
		Commander:    env.commander,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	env.server = New(cfg)
	return env
}

func (env *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, http.NoBody)
	}
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "studio", health.Instance)

	env.stream.status.ModelLoaded = false
	rec = env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode[HealthResponse](t, rec).Status)
}

func TestGetStatus(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	status := decode[StatusResponse](t, rec)
	assert.Equal(t, "session-1", status.Stream.SessionID)
	assert.Equal(t, 512, status.Stream.ChunkSize)
	assert.Equal(t, "pitch_sr48k_h512.tflite", status.Stream.Model.Name)
}

func TestLatestResult(t *testing.T) {
	t.Parallel()

	results := &fakeResults{}
	env := newTestEnv(t, func(c *Config) { c.Results = results })

	rec := env.do(t, http.MethodGet, "/api/v1/result", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, decode[ErrorResponse](t, rec).CorrelationID)

	results.results = []inference.Result{
		{Sequence: 1, Pitch: 60},
		{Sequence: 2, Pitch: inference.GatedPitch, Gated: true},
	}
	rec = env.do(t, http.MethodGet, "/api/v1/result", "")
	require.Equal(t, http.StatusOK, rec.Code)
	latest := decode[inference.Result](t, rec)
	assert.Equal(t, uint64(2), latest.Sequence)
	assert.True(t, latest.Gated)

	rec = env.do(t, http.MethodGet, "/api/v1/results", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]inference.Result](t, rec), 2)
}

func TestResultRoutesWithoutTracking(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/result", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/results", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/history", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/metrics", "").Code)
}

func TestGetHistory(t *testing.T) {
	t.Parallel()

	history := &fakeHistory{records: []output.PitchRecord{{SessionID: "session-1", Sequence: 7}}}
	env := newTestEnv(t, func(c *Config) { c.History = history })

	rec := env.do(t, http.MethodGet, "/api/v1/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "session-1", history.session)
	assert.Equal(t, defaultHistoryLimit, history.limit)
	assert.Len(t, decode[[]output.PitchRecord](t, rec), 1)

	rec = env.do(t, http.MethodGet, "/api/v1/history?limit=999999&session=other", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "other", history.session)
	assert.Equal(t, maxHistoryLimit, history.limit)

	rec = env.do(t, http.MethodGet, "/api/v1/history?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetModels(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.stream.models = []model.Metadata{
		{Name: "pitch_sr48k_h512.tflite", ChunkSize: 512, SampleRate: 48000},
		{Name: "pitch_sr48k_h1024.tflite", ChunkSize: 1024, SampleRate: 48000},
	}

	rec := env.do(t, http.MethodGet, "/api/v1/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ModelsResponse](t, rec)
	assert.Len(t, resp.Candidates, 2)
	require.NotNil(t, resp.Active)
	assert.Equal(t, 512, resp.Active.ChunkSize)

	env.stream.err = errors.Newf("model directory missing").
		Category(errors.CategoryFileIO).
		Build()
	rec = env.do(t, http.MethodGet, "/api/v1/models", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestControlCommands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
		body string
		want stream.Command
	}{
		{"model", "/api/v1/control/model", `{"path":"models/pitch_sr48k_h1024.tflite"}`,
			stream.Command{Action: stream.ActionSetModel, Path: "models/pitch_sr48k_h1024.tflite"}},
		{"chunk size", "/api/v1/control/chunk-size", `{"size":1024}`,
			stream.Command{Action: stream.ActionSetChunkSize, Size: 1024}},
		{"reset", "/api/v1/control/reset", "",
			stream.Command{Action: stream.ActionReset}},
		{"dsp off", "/api/v1/control/dsp", `{"active":false}`,
			stream.Command{Action: stream.ActionSetDSPActive, Active: false}},
		{"force", "/api/v1/control/force", "",
			stream.Command{Action: stream.ActionForceInference}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, nil)
			rec := env.do(t, http.MethodPost, tt.path, tt.body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.True(t, decode[stream.Reply](t, rec).Success)
			assert.Equal(t, []stream.Command{tt.want}, env.commander.commands())
		})
	}
}

func TestControlValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
		body string
	}{
		{"model without path", "/api/v1/control/model", `{}`},
		{"zero chunk size", "/api/v1/control/chunk-size", `{"size":0}`},
		{"malformed body", "/api/v1/control/chunk-size", `{"size":`},
		{"no thresholds", "/api/v1/control/thresholds", `{}`},
		{"threshold out of range", "/api/v1/control/thresholds", `{"confidence":1.5}`},
		{"dsp without active", "/api/v1/control/dsp", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, nil)
			rec := env.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, env.commander.commands())
		})
	}
}

func TestSetThresholdsSubmitsBoth(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.commander.reply = func(cmd stream.Command) stream.Reply {
		return stream.Reply{Action: cmd.Action, Success: true, Status: stream.Status{
			ConfidenceThreshold: 0.5,
			AmplitudeThreshold:  0.3,
		}}
	}

	rec := env.do(t, http.MethodPost, "/api/v1/control/thresholds", `{"confidence":0.5,"amplitude":0.3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []stream.Command{
		{Action: stream.ActionSetConfidence, Value: 0.5},
		{Action: stream.ActionSetAmplitude, Value: 0.3},
	}, env.commander.commands())
	reply := decode[stream.Reply](t, rec)
	assert.InDelta(t, 0.3, reply.Status.AmplitudeThreshold, 1e-6)
}

func TestControlErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"no candidate", errors.New(model.ErrNoCandidate).Category(errors.CategoryNotFound).Build(), http.StatusNotFound},
		{"load failure", errors.New(model.ErrLoad).Category(errors.CategoryModelLoad).Build(), http.StatusUnprocessableEntity},
		{"closed", errors.Newf("stream controller is closed").Category(errors.CategoryState).Build(), http.StatusConflict},
		{"timeout", errors.Newf("quiesce timed out").Category(errors.CategoryTimeout).Build(), http.StatusGatewayTimeout},
		{"validation", errors.ValidationError("bad size"), http.StatusBadRequest},
		{"other", errors.NewStd("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, nil)
			env.commander.err = tt.err
			rec := env.do(t, http.MethodPost, "/api/v1/control/chunk-size", `{"size":2048}`)
			assert.Equal(t, tt.want, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.want, resp.Code)
			assert.Len(t, resp.CorrelationID, 8)
		})
	}
}

func TestAvailableActions(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/v1/control/actions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ControlAction](t, rec), 6)
}

func TestUnknownRouteUsesErrorShape(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, http.StatusNotFound, decode[ErrorResponse](t, rec).Code)
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pitchnet_up 1\n"))
	})
	env := newTestEnv(t, func(c *Config) { c.Metrics = metrics })
	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pitchnet_up")
}

func TestSystemInfo(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/v1/system", "")
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[SystemInfo](t, rec)
	assert.NotEmpty(t, info.OS)
	assert.Positive(t, info.NumCPU)
	assert.NotEmpty(t, info.GoVersion)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(c *Config) { c.Listen = "127.0.0.1:0" })
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- env.server.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
