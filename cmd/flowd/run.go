package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/config"
	"github.com/fyrsmithlabs/flowd/internal/engine"
	"github.com/fyrsmithlabs/flowd/internal/events"
	"github.com/fyrsmithlabs/flowd/internal/ignore"
	"github.com/fyrsmithlabs/flowd/internal/model"
	"github.com/fyrsmithlabs/flowd/internal/project"
	"github.com/fyrsmithlabs/flowd/internal/secrets"
	"github.com/fyrsmithlabs/flowd/internal/tui"
)

// seedFileLimit caps how large a file --project will seed into the
// workspace. Anything bigger is almost certainly not source text.
const seedFileLimit = 1 << 20

var (
	// run command flags
	runRequestFile   string
	runProjectDir    string
	runEventsPath    string
	runScriptPath    string
	runMaxIterations int
	runFollowView    bool
	runNoTUI         bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runRequestFile, "request-file", "", "Read the request text from a file instead of the argument")
	runCmd.Flags().StringVar(&runProjectDir, "project", "", "Directory seeded into the workspace; result files are written back on success")
	runCmd.Flags().StringVar(&runEventsPath, "events", "", "Write the NDJSON event log to this path")
	runCmd.Flags().StringVar(&runScriptPath, "script", "", "Replay a scripted model transcript from a JSON file")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", -1, "Override the revision iteration budget")
	runCmd.Flags().BoolVar(&runFollowView, "follow", false, "Watch the run in a live follow screen")
	runCmd.Flags().BoolVar(&runNoTUI, "no-tui", false, "With --follow, print plain event lines instead of the screen")
}

var runCmd = &cobra.Command{
	Use:   "run [request]",
	Short: "Run one workflow to completion",
	Long: `Run one design, implement, review workflow to completion and print
the produced files. The request comes from the argument or --request-file.

Examples:
  # Run a workflow and stream its events as plain lines
  flowd run "write a fizzbuzz CLI in Go"

  # Watch the run in a live follow screen
  flowd run --follow "write a fizzbuzz CLI in Go"

  # Seed an existing project and write the results back into it
  flowd run --project ./myapp "add a --verbose flag"

  # Keep the event log for later replay with flowd follow
  flowd run --events run.ndjson "write a fizzbuzz CLI in Go"

  # Replay a recorded transcript without a model API key
  flowd run --script demo.json "anything"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	request, err := resolveRequest(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runMaxIterations >= 0 {
		cfg.Engine.MaxIterations = runMaxIterations
	}

	ctx, cancel := signalContext()
	defer cancel()

	// Stdout belongs to event lines and the summary; logs go to stderr.
	logger, err := buildLogger(cfg, nil, true)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	client, err := buildRunClient(cfg)
	if err != nil {
		return err
	}
	if cfg.Model.Provider == model.ProviderScripted {
		// Scripted runs replay a fixed transcript; a nudge would desync it.
		cfg.Engine.MaxRetries = 0
	}

	var seed map[string]string
	if runProjectDir != "" {
		seed, err = loadProjectFiles(runProjectDir)
		if err != nil {
			return err
		}
		logger.Info(ctx, "seeded workspace from project",
			zap.String("dir", runProjectDir),
			zap.Int("files", len(seed)))
	}

	runID := uuid.NewString()
	eventsPath := resolveEventsPath(cfg.Events.Dir, runID)

	result, runErr := executeRun(ctx, cfg, logger.Underlying(), client, runID, request, seed, eventsPath)

	files := resultFiles(result)
	if runProjectDir != "" && runErr == nil && len(files) > 0 {
		if err := writeProjectFiles(runProjectDir, files); err != nil {
			return err
		}
	}

	if result != nil {
		printRunSummary(os.Stdout, result, files, eventsPath)
	}
	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}
	return nil
}

// resolveRequest picks the request text from the positional argument or
// --request-file. Exactly one source must be present.
func resolveRequest(args []string) (string, error) {
	var request string
	if len(args) == 1 {
		request = strings.TrimSpace(args[0])
	}

	if runRequestFile != "" {
		if request != "" {
			return "", fmt.Errorf("pass the request as an argument or via --request-file, not both")
		}
		data, err := os.ReadFile(runRequestFile)
		if err != nil {
			return "", fmt.Errorf("read request file: %w", err)
		}
		request = strings.TrimSpace(string(data))
	}

	if request == "" {
		return "", fmt.Errorf("a request is required (argument or --request-file)")
	}
	return request, nil
}

// buildRunClient builds the model client, honoring --script over the
// configured provider.
func buildRunClient(cfg *config.Config) (model.Client, error) {
	if runScriptPath != "" {
		steps, err := model.LoadScript(runScriptPath)
		if err != nil {
			return nil, err
		}
		cfg.Model.Provider = model.ProviderScripted
		return model.NewScripted(steps...), nil
	}
	return model.New(cfg.Model)
}

// resolveEventsPath decides where the NDJSON event log goes: --events
// wins, then the configured events dir. Follow mode needs a file to tail,
// so it falls back to the system temp dir.
func resolveEventsPath(eventsDir, runID string) string {
	if runEventsPath != "" {
		return runEventsPath
	}
	if eventsDir != "" {
		return filepath.Join(eventsDir, runID+".ndjson")
	}
	if runFollowView {
		return filepath.Join(os.TempDir(), "flowd-"+runID+".ndjson")
	}
	return ""
}

// executeRun wires a fresh engine and executes the workflow. In follow
// mode the engine runs on its own goroutine while the screen tails the
// event log; quitting the screen early cancels the run.
func executeRun(
	ctx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
	client model.Client,
	runID, request string,
	seed map[string]string,
	eventsPath string,
) (*engine.Result, error) {
	var guard *secrets.Guard
	if !cfg.Secrets.Disabled {
		allow, err := secrets.LoadAllowlist(cfg.Secrets.AllowlistPath)
		if err != nil {
			return nil, fmt.Errorf("load secret allowlist: %w", err)
		}
		if guard, err = secrets.NewGuard(allow); err != nil {
			return nil, fmt.Errorf("create secret guard: %w", err)
		}
	}

	store := project.NewStore()
	invoker := project.NewInvoker(store, guard)

	var sinks []events.Sink
	if eventsPath != "" {
		ndjson, err := events.NewNDJSONSink(eventsPath)
		if err != nil {
			return nil, fmt.Errorf("open event log: %w", err)
		}
		defer ndjson.Close()
		sinks = append(sinks, ndjson)
	}
	if !runFollowView {
		sinks = append(sinks, events.SinkFunc(func(e events.Event) error {
			_, err := fmt.Fprintln(os.Stdout, tui.PlainEvent(e))
			return err
		}))
	}

	opts := []engine.Option{
		engine.WithLogger(logger.Named("engine")),
		engine.WithLimits(engine.Limits{
			MaxRetries:    cfg.Engine.MaxRetries,
			MaxIterations: cfg.Engine.MaxIterations,
			MaxSteps:      cfg.Engine.MaxSteps,
		}),
	}
	if !cfg.Checkpoint.Disabled {
		cp, err := project.NewCheckpointer(store)
		if err != nil {
			return nil, fmt.Errorf("create checkpointer: %w", err)
		}
		opts = append(opts, engine.WithCheckpointer(cp))
	}

	eng, err := engine.New(client, invoker, events.NewMulti(sinks...), opts...)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	req := engine.Request{
		RunID:       runID,
		UserRequest: request,
	}
	if len(seed) > 0 {
		req.Snapshot = seed
	}

	if !runFollowView {
		return eng.Execute(ctx, req)
	}

	type outcome struct {
		result *engine.Result
		err    error
	}
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	done := make(chan outcome, 1)
	go func() {
		result, err := eng.Execute(runCtx, req)
		done <- outcome{result, err}
	}()

	var viewErr error
	if runNoTUI {
		viewErr = tui.Follow(ctx, eventsPath, os.Stdout)
	} else {
		viewErr = tui.Run(ctx, eventsPath)
	}

	// The screen exits on the terminal event, so this cancel only bites
	// when the user quit early.
	cancelRun()
	out := <-done
	if out.err == nil && viewErr != nil {
		return out.result, viewErr
	}
	return out.result, out.err
}

// printRunSummary prints the final run state and the produced files.
func printRunSummary(w io.Writer, result *engine.Result, files map[string]string, eventsPath string) {
	fmt.Fprintf(w, "\nRun:        %s\n", result.RunID)
	if result.Verdict != engine.VerdictMissing {
		fmt.Fprintf(w, "Verdict:    %s\n", result.Verdict)
	}
	fmt.Fprintf(w, "Iterations: %d\n", result.Iterations)
	fmt.Fprintf(w, "Steps:      %d\n", result.Steps)
	if result.Err != "" {
		fmt.Fprintf(w, "Error:      %s\n", result.Err)
	}
	if eventsPath != "" {
		fmt.Fprintf(w, "Event log:  %s\n", eventsPath)
	}

	if len(files) == 0 {
		return
	}
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	fmt.Fprintf(w, "Files:      %d\n", len(paths))
	for _, path := range paths {
		fmt.Fprintf(w, "  %s\n", path)
	}
}

// resultFiles unwraps the run artifact into its file map.
func resultFiles(result *engine.Result) map[string]string {
	if result == nil {
		return nil
	}
	snap, ok := result.Artifact.(project.Snapshot)
	if !ok {
		return nil
	}
	return snap.Files
}

// loadProjectFiles walks dir and returns its text files keyed by relative
// slash path. Hidden entries, ignore-rule matches, oversized files and
// binary content are skipped.
func loadProjectFiles(dir string) (map[string]string, error) {
	rules, err := ignore.NewDefaultParser().ParseProject(dir)
	if err != nil {
		return nil, fmt.Errorf("read project %s: %w", dir, err)
	}

	files := make(map[string]string)
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") || ignore.Matches(rules, rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") || ignore.Matches(rules, rel, false) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() > seedFileLimit {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if !utf8.Valid(data) {
			return nil
		}
		files[rel] = string(data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read project %s: %w", dir, err)
	}
	return files, nil
}

// writeProjectFiles writes the run's files back into dir, creating
// directories as needed.
func writeProjectFiles(dir string, files map[string]string) error {
	for path, content := range files {
		dst := filepath.Join(dir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("write project %s: %w", dir, err)
		}
		if err := os.WriteFile(dst, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write project %s: %w", dir, err)
		}
	}
	return nil
}
