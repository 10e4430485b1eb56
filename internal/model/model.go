// Package model defines the model collaborator the engine's agent steps
// call, plus the shipped implementations: an Anthropic messages-API client
// and a scripted client for tests and offline runs.
package model

import (
	"context"

	"github.com/fyrsmithlabs/flowd/internal/transcript"
)

// Tool describes one invocable tool exposed to the model.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Request is one completion request: a phase instruction, the scoped
// transcript view, and the tools the model may request.
type Request struct {
	Instruction string
	Turns       []transcript.Turn
	Tools       []Tool
}

// Reply is the model's answer: free text plus zero or more tool actions in
// the order the model requested them.
type Reply struct {
	Content string
	Actions []transcript.Action
}

// Client is the model collaborator. A raised error is treated by the engine
// as a terminal phase failure for that invocation; transient-retry behavior
// belongs inside implementations, not the engine.
type Client interface {
	Complete(ctx context.Context, req Request) (*Reply, error)
}
