package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/engine"
	"github.com/fyrsmithlabs/flowd/internal/events"
	"github.com/fyrsmithlabs/flowd/internal/logging"
	"github.com/fyrsmithlabs/flowd/internal/model"
	"github.com/fyrsmithlabs/flowd/internal/project"
	"github.com/fyrsmithlabs/flowd/internal/secrets"
)

// StartRunRequest is the body of POST /v1/runs.
type StartRunRequest struct {
	// Request is the natural-language task for the workflow.
	Request string `json:"request"`

	// Files optionally seeds the run's workspace, path to content.
	Files map[string]string `json:"files,omitempty"`

	// MaxIterations overrides the configured revision budget when set.
	MaxIterations *int `json:"max_iterations,omitempty"`
}

// StartRunResponse is the body returned by POST /v1/runs.
type StartRunResponse struct {
	RunID string `json:"run_id"`
}

// handleStartRun accepts a workflow run and executes it asynchronously.
// The response carries only the run id; progress streams over
// /v1/runs/:id/events and the outcome lands in the registry.
func (s *Server) handleStartRun(c echo.Context) error {
	var req StartRunRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid run request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Request == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "request field is required")
	}
	if req.MaxIterations != nil && *req.MaxIterations < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "max_iterations must not be negative")
	}

	runID := uuid.NewString()
	if _, err := s.registry.Add(runID, req.Request); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "register run")
	}

	go s.executeRun(runID, req)

	return c.JSON(http.StatusAccepted, StartRunResponse{RunID: runID})
}

// handleGetRun returns the registry record for one run.
func (s *Server) handleGetRun(c echo.Context) error {
	rec, err := s.registry.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrRunNotFound) || errors.Is(err, ErrInvalidRunID) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "lookup run")
	}
	return c.JSON(http.StatusOK, rec)
}

// handleListRuns returns all registry records, newest first.
func (s *Server) handleListRuns(c echo.Context) error {
	return c.JSON(http.StatusOK, s.registry.List())
}

// executeRun drives one workflow to completion on its own goroutine. Each
// run gets a fresh workspace, invoker and engine; only the NATS connection
// and the registry are shared. The run deliberately outlives the HTTP
// request that started it.
func (s *Server) executeRun(runID string, req StartRunRequest) {
	ctx := logging.WithRunID(context.Background(), runID)
	logger := s.logger.With(zap.String("run_id", runID))

	result, err := s.runWorkflow(ctx, runID, req)
	s.registry.Finish(runID, result, err)
	if err != nil {
		logger.Warn("run failed", zap.Error(err))
		return
	}
	logger.Info("run completed",
		zap.String("verdict", string(result.Verdict)),
		zap.Int("iterations", result.Iterations),
		zap.Int("steps", result.Steps))
}

// runWorkflow assembles per-run collaborators and executes the engine.
func (s *Server) runWorkflow(ctx context.Context, runID string, req StartRunRequest) (*engine.Result, error) {
	client, err := s.newClient()
	if err != nil {
		return nil, fmt.Errorf("build model client: %w", err)
	}

	var guard *secrets.Guard
	if !s.config.Secrets.Disabled {
		allow, err := secrets.LoadAllowlist(s.config.Secrets.AllowlistPath)
		if err != nil {
			return nil, fmt.Errorf("load secret allowlist: %w", err)
		}
		guard, err = secrets.NewGuard(allow)
		if err != nil {
			return nil, fmt.Errorf("build secret guard: %w", err)
		}
	}

	store := project.NewStore()
	invoker := project.NewInvoker(store, guard)

	limits := engine.Limits{
		MaxRetries:    s.config.Engine.MaxRetries,
		MaxIterations: s.config.Engine.MaxIterations,
		MaxSteps:      s.config.Engine.MaxSteps,
	}
	if req.MaxIterations != nil {
		limits.MaxIterations = *req.MaxIterations
	}
	if s.config.Model.Provider == model.ProviderScripted {
		// Scripted runs replay a fixed transcript; a nudge would desync it.
		limits.MaxRetries = 0
	}

	opts := []engine.Option{
		engine.WithLogger(s.logger.Named("engine")),
		engine.WithLimits(limits),
	}
	if !s.config.Checkpoint.Disabled {
		cp, err := project.NewCheckpointer(store)
		if err != nil {
			return nil, fmt.Errorf("init checkpointer: %w", err)
		}
		opts = append(opts, engine.WithCheckpointer(cp))
	}

	eng, err := engine.New(client, invoker, events.NewNATSSink(s.nc), opts...)
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}

	runReq := engine.Request{RunID: runID, UserRequest: req.Request}
	if len(req.Files) > 0 {
		runReq.Snapshot = req.Files
	}
	return eng.Execute(ctx, runReq)
}
