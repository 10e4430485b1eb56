package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/config"
	"github.com/fyrsmithlabs/flowd/internal/engine"
	"github.com/fyrsmithlabs/flowd/internal/events"
	"github.com/fyrsmithlabs/flowd/internal/model"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Engine.MaxRetries = 0
	cfg.Engine.MaxIterations = 3
	cfg.Engine.MaxSteps = 64
	cfg.Server.Port = 8497
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Model.Provider = "scripted"
	cfg.Secrets.Disabled = true
	cfg.Observability.ServiceName = "flowd"
	return cfg
}

// newTestServer wires a server to an embedded broker with a scripted model
// client per run.
func newTestServer(t *testing.T) (*Server, *nats.Conn) {
	t.Helper()

	ns, err := StartEmbeddedBroker()
	require.NoError(t, err)
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	srv, err := New(testConfig(), nc, zap.NewNop(), WithClientFactory(func() (model.Client, error) {
		return model.NewScripted(model.DemoScript()...), nil
	}))
	require.NoError(t, err)
	return srv, nc
}

func TestNew_Validation(t *testing.T) {
	ns, err := StartEmbeddedBroker()
	require.NoError(t, err)
	defer ns.Shutdown()

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	_, err = New(nil, nc, zap.NewNop())
	assert.ErrorContains(t, err, "config is required")

	_, err = New(testConfig(), nil, zap.NewNop())
	assert.ErrorContains(t, err, "nats connection is required")

	srv, err := New(testConfig(), nc, nil)
	require.NoError(t, err)
	assert.NotNil(t, srv.Echo())
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "flowd", health.Service)
}

func TestServer_Metrics(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
	assert.Contains(t, rec.Body.String(), "flowd_engine_dropped_events_total")
}

func TestServer_RunLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	body, err := json.Marshal(StartRunRequest{Request: "build a greeter CLI"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var started StartRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	require.NotEmpty(t, started.RunID)

	// The run executes on its own goroutine; wait for the registry to
	// report a terminal state.
	require.Eventually(t, func() bool {
		r, err := srv.Registry().Get(started.RunID)
		return err == nil && r.Terminal()
	}, 5*time.Second, 20*time.Millisecond)

	statusReq := httptest.NewRequest(http.MethodGet, "/v1/runs/"+started.RunID, nil)
	statusRec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(statusRec, statusReq)

	require.Equal(t, http.StatusOK, statusRec.Code)

	var record RunRecord
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &record))
	assert.Equal(t, StateCompleted, record.State)
	assert.Equal(t, "approved", string(record.Verdict))
	assert.Equal(t, 0, record.Iterations)
	assert.Equal(t, 12, record.Steps)
	assert.Empty(t, record.Error)
	assert.False(t, record.FinishedAt.IsZero())

	// The terminal SSE fast path replays a close frame for finished runs.
	sseReq := httptest.NewRequest(http.MethodGet, "/v1/runs/"+started.RunID+"/events", nil)
	sseRec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(sseRec, sseReq)

	sseEvents := parseSSEEvents(t, sseRec.Body.String())
	require.Len(t, sseEvents, 1)
	assert.Equal(t, "workflow_done", sseEvents[0].EventType)
	assert.Contains(t, sseEvents[0].Data, started.RunID)

	listReq := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	listRec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(listRec, listReq)

	var records []RunRecord
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, started.RunID, records[0].ID)
}

func TestServer_StartRun_Validation(t *testing.T) {
	srv, _ := newTestServer(t)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		srv.Echo().ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusBadRequest, post(`{`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{"request":"x","max_iterations":-1}`).Code)
}

func TestServer_GetRun_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/nonexistent", nil)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RunEvents_Stream(t *testing.T) {
	srv, nc := newTestServer(t)

	const runID = "11111111-2222-3333-4444-555555555555"
	_, err := srv.Registry().Add(runID, "stream test")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID+"/events", nil)
	rec := httptest.NewRecorder()

	handlerDone := make(chan error, 1)
	go func() {
		e := srv.Echo()
		c := e.NewContext(req, rec)
		c.SetPath("/v1/runs/:id/events")
		c.SetParamNames("id")
		c.SetParamValues(runID)
		handlerDone <- srv.handleRunEvents(c)
	}()

	// Give the handler time to subscribe before publishing.
	time.Sleep(100 * time.Millisecond)

	sink := events.NewNATSSink(nc)
	require.NoError(t, sink.Emit(events.Event{RunID: runID, Seq: 0, Kind: events.KindPhaseStarted, Phase: "design", Time: time.Now()}))
	require.NoError(t, sink.Emit(events.Event{RunID: runID, Seq: 1, Kind: events.KindPhaseMessage, Phase: "design", Content: "thinking", Time: time.Now()}))
	require.NoError(t, sink.Emit(events.Event{RunID: runID, Seq: 2, Kind: events.KindWorkflowDone, Time: time.Now()}))

	select {
	case err := <-handlerDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not close after terminal event")
	}

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	sseEvents := parseSSEEvents(t, rec.Body.String())
	require.Len(t, sseEvents, 3)
	assert.Equal(t, "phase_started", sseEvents[0].EventType)
	assert.Equal(t, "phase_message", sseEvents[1].EventType)
	assert.Equal(t, "workflow_done", sseEvents[2].EventType)

	var ev events.Event
	require.NoError(t, json.Unmarshal([]byte(sseEvents[1].Data), &ev))
	assert.Equal(t, runID, ev.RunID)
	assert.Equal(t, "thinking", ev.Content)
}

func TestServer_RunEvents_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/nonexistent/events", nil)
	rec := httptest.NewRecorder()

	e := srv.Echo()
	c := e.NewContext(req, rec)
	c.SetPath("/v1/runs/:id/events")
	c.SetParamNames("id")
	c.SetParamValues("nonexistent")

	require.NoError(t, srv.handleRunEvents(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var errResp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "run not found", errResp["error"])
}

func TestServer_RunEvents_ClientDisconnect(t *testing.T) {
	srv, nc := newTestServer(t)

	const runID = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
	_, err := srv.Registry().Add(runID, "disconnect test")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+runID+"/events", nil)
	reqCtx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(reqCtx)
	rec := httptest.NewRecorder()

	handlerDone := make(chan error, 1)
	go func() {
		e := srv.Echo()
		c := e.NewContext(req, rec)
		c.SetPath("/v1/runs/:id/events")
		c.SetParamNames("id")
		c.SetParamValues(runID)
		handlerDone <- srv.handleRunEvents(c)
	}()

	time.Sleep(100 * time.Millisecond)

	sink := events.NewNATSSink(nc)
	require.NoError(t, sink.Emit(events.Event{RunID: runID, Kind: events.KindPhaseStarted, Phase: "design", Time: time.Now()}))
	time.Sleep(50 * time.Millisecond)

	cancel()

	select {
	case err := <-handlerDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not exit after client disconnect")
	}

	assert.Contains(t, rec.Body.String(), "event: phase_started")
}

func TestServer_GracefulShutdown(t *testing.T) {
	srv, _ := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	// Wait for the listener to come up.
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://localhost:8497/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 50*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Add("", "task")
	assert.ErrorIs(t, err, ErrInvalidRunID)

	rec, err := reg.Add("run-1", "task one")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, rec.State)
	assert.False(t, rec.Terminal())

	_, err = reg.Add("run-1", "again")
	assert.ErrorContains(t, err, "already registered")

	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, ErrRunNotFound)

	got, err := reg.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, "task one", got.Request)

	// Get returns a copy; mutating it must not touch the registry.
	got.State = StateFailed
	fresh, err := reg.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, fresh.State)
}

func TestRegistry_Finish(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Add("run-1", "task")
	require.NoError(t, err)

	reg.Finish("run-1", &engine.Result{Verdict: engine.VerdictApproved, Iterations: 1, Steps: 17}, nil)

	rec, err := reg.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, rec.State)
	assert.Equal(t, "approved", string(rec.Verdict))
	assert.Equal(t, 1, rec.Iterations)
	assert.Equal(t, 17, rec.Steps)
	assert.True(t, rec.Terminal())

	_, err = reg.Add("run-2", "task")
	require.NoError(t, err)
	reg.Finish("run-2", nil, errors.New("model unavailable"))

	failed, err := reg.Get("run-2")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, failed.State)
	assert.Equal(t, "model unavailable", failed.Error)

	// Finishing an unknown run is a no-op.
	reg.Finish("ghost", nil, nil)
}

func TestStartEmbeddedBroker(t *testing.T) {
	ns, err := StartEmbeddedBroker()
	require.NoError(t, err)
	defer func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	}()

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	assert.True(t, nc.IsConnected())
}

// parseSSEEvents parses an SSE stream into structured events.
//
// SSE format:
//
//	event: <type>
//	data: <json>
//	<blank line>
func parseSSEEvents(t *testing.T, body string) []struct {
	EventType string
	Data      string
} {
	t.Helper()

	var out []struct {
		EventType string
		Data      string
	}

	scanner := bufio.NewScanner(strings.NewReader(body))
	var current struct {
		EventType string
		Data      string
	}

	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "event:") {
			current.EventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			current.Data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		} else if line == "" && current.EventType != "" {
			out = append(out, current)
			current = struct {
				EventType string
				Data      string
			}{}
		}
	}

	require.NoError(t, scanner.Err())
	return out
}
