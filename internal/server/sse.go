package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"

	"github.com/fyrsmithlabs/flowd/internal/events"
)

// heartbeatInterval paces SSE keep-alive comments so idle proxies do not
// drop a connection between events.
const heartbeatInterval = 15 * time.Second

// handleRunEvents streams one run's events via Server-Sent Events.
//
// The handler bridges the run's NATS subjects onto the HTTP response: each
// published event becomes an SSE event named after its kind, with the JSON
// payload as data. The stream closes when the run emits its terminal event
// or the client disconnects.
//
// Example:
//
//	GET /v1/runs/{id}/events
//
//	event: phase_started
//	data: {"run_id":"...","seq":0,"kind":"phase_started","phase":"design",...}
//
//	event: workflow_done
//	data: {"run_id":"...","kind":"workflow_done","result":{...}}
func (s *Server) handleRunEvents(c echo.Context) error {
	runID := c.Param("id")

	rec, err := s.registry.Get(runID)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "run not found",
		})
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// Subscribe before the terminal check so no event can slip between
	// the two; core NATS does not replay.
	msgChan := make(chan *nats.Msg, 64)
	sub, err := s.nc.ChanSubscribe(events.RunSubject(runID), msgChan)
	if err != nil {
		return fmt.Errorf("subscribe run events: %w", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	// A run that finished before the subscription has nothing left to
	// publish; synthesize the terminal event from the registry so the
	// client still gets a well-formed close.
	if rec.Terminal() {
		return writeSSE(c, string(events.KindWorkflowDone), rec)
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgChan:
			parts := strings.Split(msg.Subject, ".")
			if len(parts) < 4 {
				continue
			}
			kind := parts[3]

			if err := writeSSE(c, kind, json.RawMessage(msg.Data)); err != nil {
				return err
			}
			if events.Kind(kind).IsTerminal() {
				return nil
			}

		case <-ticker.C:
			fmt.Fprintf(c.Response(), ": heartbeat\n\n")
			c.Response().Flush()

		case <-c.Request().Context().Done():
			// Client disconnected
			return nil
		}
	}
}

// writeSSE emits one SSE event frame and flushes it.
func writeSSE(c echo.Context, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}
	fmt.Fprintf(c.Response(), "event: %s\n", event)
	fmt.Fprintf(c.Response(), "data: %s\n\n", payload)
	c.Response().Flush()
	return nil
}
