package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/fyrsmithlabs/flowd/internal/transcript"
)

// ScriptStep is one canned reply (or failure) in a scripted run.
type ScriptStep struct {
	Content string
	Actions []transcript.Action
	Err     error
}

// Scripted replays a fixed sequence of replies, one per Complete call. It
// backs the offline demo provider and the engine tests, where the workflow
// must be deterministic. Once the script is exhausted every further call
// returns an empty reply, which the engine's nudge budget turns into
// forward progress.
type Scripted struct {
	mu    sync.Mutex
	steps []ScriptStep
	next  int
	calls []Request
}

// NewScripted builds a client replaying the given steps in order.
func NewScripted(steps ...ScriptStep) *Scripted {
	return &Scripted{steps: steps}
}

// Complete records the request and returns the next scripted step.
func (s *Scripted) Complete(ctx context.Context, req Request) (*Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	turns := make([]transcript.Turn, len(req.Turns))
	copy(turns, req.Turns)
	s.calls = append(s.calls, Request{
		Instruction: req.Instruction,
		Turns:       turns,
		Tools:       req.Tools,
	})

	if s.next >= len(s.steps) {
		return &Reply{}, nil
	}
	step := s.steps[s.next]
	s.next++

	if step.Err != nil {
		return nil, step.Err
	}
	return &Reply{Content: step.Content, Actions: step.Actions}, nil
}

// Calls returns every request received so far.
func (s *Scripted) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns the number of Complete invocations.
func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// scriptStepFile is the serialized form of one script step.
type scriptStepFile struct {
	Content string              `json:"content,omitempty"`
	Actions []transcript.Action `json:"actions,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// LoadScript reads a JSON script for the scripted client: an array of
// steps, each with optional content, actions and error. A step with an
// error string fails that Complete call.
func LoadScript(path string) ([]ScriptStep, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var raw []scriptStepFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	steps := make([]ScriptStep, 0, len(raw))
	for _, s := range raw {
		step := ScriptStep{Content: s.Content, Actions: s.Actions}
		if s.Error != "" {
			step.Err = errors.New(s.Error)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// DemoScript is a complete one-pass workflow: design writes a design
// document, implement writes the artifact files, review reads them and
// approves. Written for a zero nudge budget, so each phase's closing
// text-only reply advances the run immediately.
func DemoScript() []ScriptStep {
	return []ScriptStep{
		{
			Content: "Sketching the approach before writing code.",
			Actions: []transcript.Action{{
				ID:   "demo-design-1",
				Name: "create_file",
				Args: map[string]any{
					"path": "docs/design.md",
					"content": "# Greeter CLI\n\nA single main.go reads a name from argv and prints a greeting.\n" +
						"No flags, no configuration. Errors go to stderr with exit code 1.\n",
				},
			}},
		},
		{
			Content: "Design: a greeter CLI with a single entry point in main.go. " +
				"It takes one positional argument, the name, and prints a greeting to stdout.",
		},
		{
			Content: "Implementing the design.",
			Actions: []transcript.Action{
				{
					ID:   "demo-impl-1",
					Name: "create_file",
					Args: map[string]any{
						"path": "main.go",
						"content": "package main\n\nimport (\n\t\"fmt\"\n\t\"os\"\n)\n\nfunc main() {\n" +
							"\tif len(os.Args) < 2 {\n\t\tfmt.Fprintln(os.Stderr, \"usage: greeter NAME\")\n\t\tos.Exit(1)\n\t}\n" +
							"\tfmt.Printf(\"Hello, %s!\\n\", os.Args[1])\n}\n",
					},
				},
				{
					ID:   "demo-impl-2",
					Name: "create_file",
					Args: map[string]any{
						"path":    "README.md",
						"content": "# greeter\n\nPrints a greeting for the given name.\n",
					},
				},
			},
		},
		{
			Content: "Implementation complete: main.go and README.md are in place.",
		},
		{
			Content: "Checking the implementation against the design.",
			Actions: []transcript.Action{{
				ID:   "demo-review-1",
				Name: "read_file",
				Args: map[string]any{"path": "main.go"},
			}},
		},
		{
			Actions: []transcript.Action{{
				ID:   "demo-review-2",
				Name: "submit_review",
				Args: map[string]any{
					"verdict":  "approved",
					"comments": "main.go matches the design document",
				},
			}},
		},
		{
			Content: "Review recorded.",
		},
	}
}
