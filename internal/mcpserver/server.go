// Package mcpserver exposes flowd workflows as MCP tools over stdio.
//
// The server registers a single workflow_run tool that executes the full
// design, implement, review loop synchronously and returns the produced
// workspace alongside the review verdict. It is the integration surface
// for MCP hosts such as coding agents; `flowd mcp` starts it.
package mcpserver

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/config"
	"github.com/fyrsmithlabs/flowd/internal/engine"
	"github.com/fyrsmithlabs/flowd/internal/events"
	"github.com/fyrsmithlabs/flowd/internal/model"
	"github.com/fyrsmithlabs/flowd/internal/project"
	"github.com/fyrsmithlabs/flowd/internal/secrets"
)

const toolWorkflowRun = "workflow_run"

// Server wraps an MCP SDK server with the flowd workflow tooling.
type Server struct {
	mcp       *mcp.Server
	config    *config.Config
	logger    *zap.Logger
	metrics   *Metrics
	newClient func() (model.Client, error)
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClientFactory overrides how model clients are built for each run.
// Tests use it to substitute a scripted client.
func WithClientFactory(f func() (model.Client, error)) Option {
	return func(s *Server) {
		s.newClient = f
	}
}

// New creates an MCP server exposing the workflow tools described by cfg.
func New(cfg *config.Config, version string, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if version == "" {
		version = "dev"
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    "flowd",
			Version: version,
		}, nil),
		config: cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = NewMetrics(s.logger)
	if s.newClient == nil {
		s.newClient = func() (model.Client, error) {
			return model.New(cfg.Model)
		}
	}

	s.registerTools()
	return s, nil
}

// Run serves the MCP protocol over stdin/stdout until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        toolWorkflowRun,
		Description: "Run a design, implement, review workflow for a request and return the produced files with the review verdict",
	}, s.handleWorkflowRun)
}

type workflowRunInput struct {
	Request       string            `json:"request" jsonschema:"required,What to build"`
	Files         map[string]string `json:"files,omitempty" jsonschema:"Seed files for the workspace keyed by relative path"`
	MaxIterations *int              `json:"max_iterations,omitempty" jsonschema:"Cap on review revision loops (defaults from config)"`
}

type workflowRunOutput struct {
	RunID      string            `json:"run_id" jsonschema:"Run identifier"`
	Verdict    string            `json:"verdict" jsonschema:"Final review verdict"`
	Iterations int               `json:"iterations" jsonschema:"Revision iterations consumed"`
	Steps      int               `json:"steps" jsonschema:"Model turns consumed"`
	Files      map[string]string `json:"files" jsonschema:"Workspace files keyed by relative path"`
	Error      string            `json:"error,omitempty" jsonschema:"Failure reason when the run ended early"`
}

// handleWorkflowRun executes one workflow synchronously. Request validation
// failures surface as protocol errors; a run that starts but fails still
// returns a structured result so the caller keeps the partial workspace.
func (s *Server) handleWorkflowRun(ctx context.Context, req *mcp.CallToolRequest, args workflowRunInput) (*mcp.CallToolResult, workflowRunOutput, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, toolWorkflowRun)
	var toolErr error
	defer func() {
		s.metrics.DecrementActive(ctx, toolWorkflowRun)
		s.metrics.RecordInvocation(ctx, toolWorkflowRun, time.Since(start), toolErr)
	}()

	if args.Request == "" {
		toolErr = fmt.Errorf("request is required")
		return nil, workflowRunOutput{}, toolErr
	}
	if args.MaxIterations != nil && *args.MaxIterations < 0 {
		toolErr = fmt.Errorf("max_iterations must not be negative")
		return nil, workflowRunOutput{}, toolErr
	}

	runID := uuid.NewString()
	s.logger.Info("workflow run requested",
		zap.String("run_id", runID),
		zap.Int("seed_files", len(args.Files)))

	result, runErr := s.execute(ctx, runID, args)
	if result == nil {
		toolErr = runErr
		return nil, workflowRunOutput{}, runErr
	}
	toolErr = runErr

	out := workflowRunOutput{
		RunID:      result.RunID,
		Verdict:    string(result.Verdict),
		Iterations: result.Iterations,
		Steps:      result.Steps,
		Files:      artifactFiles(result.Artifact),
		Error:      result.Err,
	}

	text := fmt.Sprintf("Run %s finished: verdict %q, %d file(s) produced", out.RunID, out.Verdict, len(out.Files))
	if out.Error != "" {
		text = fmt.Sprintf("Run %s failed: %s (%d file(s) recovered)", out.RunID, out.Error, len(out.Files))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}, out, nil
}

// execute wires a fresh engine for one run. Every run gets its own store
// and invoker so concurrent tool calls never share workspace state.
func (s *Server) execute(ctx context.Context, runID string, args workflowRunInput) (*engine.Result, error) {
	client, err := s.newClient()
	if err != nil {
		return nil, fmt.Errorf("create model client: %w", err)
	}

	var guard *secrets.Guard
	if !s.config.Secrets.Disabled {
		allow, err := secrets.LoadAllowlist(s.config.Secrets.AllowlistPath)
		if err != nil {
			return nil, fmt.Errorf("load secret allowlist: %w", err)
		}
		if guard, err = secrets.NewGuard(allow); err != nil {
			return nil, fmt.Errorf("create secret guard: %w", err)
		}
	}

	store := project.NewStore()
	invoker := project.NewInvoker(store, guard)

	limits := engine.Limits{
		MaxRetries:    s.config.Engine.MaxRetries,
		MaxIterations: s.config.Engine.MaxIterations,
		MaxSteps:      s.config.Engine.MaxSteps,
	}
	if args.MaxIterations != nil {
		limits.MaxIterations = *args.MaxIterations
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
			return nil, fmt.Errorf("create checkpointer: %w", err)
		}
		opts = append(opts, engine.WithCheckpointer(cp))
	}

	sink := events.Discard
	if s.config.Events.Dir != "" {
		ndjson, err := events.NewNDJSONSink(filepath.Join(s.config.Events.Dir, runID+".ndjson"))
		if err != nil {
			return nil, fmt.Errorf("open event log: %w", err)
		}
		defer ndjson.Close()
		sink = ndjson
	}

	eng, err := engine.New(client, invoker, sink, opts...)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	req := engine.Request{
		RunID:       runID,
		UserRequest: args.Request,
	}
	if len(args.Files) > 0 {
		req.Snapshot = args.Files
	}
	return eng.Execute(ctx, req)
}

// artifactFiles unwraps the opaque artifact into its wire form.
func artifactFiles(artifact any) map[string]string {
	snap, ok := artifact.(project.Snapshot)
	if !ok {
		return nil
	}
	return snap.Files
}
