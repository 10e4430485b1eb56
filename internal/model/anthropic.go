package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/flowd/internal/transcript"
)

const (
	defaultAnthropicModel   = "claude-sonnet-4-20250514"
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"

	defaultTimeout     = 120 * time.Second
	defaultMaxTokens   = 4096
	defaultMaxRetries  = 3
	defaultBaseBackoff = 1 * time.Second

	// Rate limit: stay under typical API tier limits.
	defaultRateLimit = 50.0 / 60.0 // ~0.83 requests per second
	defaultBurst     = 5           // Allow bursts of up to 5 requests
)

// Config selects and parameterizes the model client.
type Config struct {
	Provider  string `koanf:"provider"` // "anthropic" or "scripted"
	Model     string `koanf:"model"`
	APIKey    string `koanf:"api_key" json:"-"` // Never serialize API keys
	BaseURL   string `koanf:"base_url"`
	Timeout   int    `koanf:"timeout"` // seconds
	MaxTokens int    `koanf:"max_tokens"`
}

// AnthropicClient implements Client against the Anthropic Messages API,
// speaking the tool-use wire format directly.
type AnthropicClient struct {
	model      string
	apiKey     string
	baseURL    string
	maxTokens  int
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
}

// NewAnthropic builds a Messages API client from the config.
func NewAnthropic(cfg Config) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}

	timeout := defaultTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &AnthropicClient{
		model:     model,
		apiKey:    cfg.APIKey,
		baseURL:   baseURL,
		maxTokens: maxTokens,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		maxRetries: defaultMaxRetries,
	}, nil
}

// Complete sends the instruction, scoped turns and tool schemas to the API
// and decodes the reply's text and tool_use blocks.
//
// Transient failures (connection errors, 429, 5xx) are retried with
// exponential backoff up to maxRetries; anything else is returned to the
// caller, which treats it as a phase failure.
func (a *AnthropicClient) Complete(ctx context.Context, req Request) (*Reply, error) {
	// Wait for rate limiter
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	apiReq := anthropicRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    req.Instruction,
		Messages:  buildMessages(req.Turns),
		Tools:     req.Tools,
	}

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			backoff := defaultBaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		reply, err := a.doRequest(ctx, apiReq)
		if err == nil {
			return reply, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// doRequest performs the actual HTTP request to the Messages API.
func (a *AnthropicClient) doRequest(ctx context.Context, req anthropicRequest) (*Reply, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/v1/messages", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", a.apiKey)
	httpReq.Header.Set("Anthropic-Version", anthropicVersion)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// Handle rate limiting
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &retryableError{err: fmt.Errorf("rate limited (429)")}
	}

	// Handle server errors (retryable)
	if resp.StatusCode >= 500 {
		return nil, &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))}
	}

	if resp.StatusCode != http.StatusOK {
		var errResp anthropicError
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	reply := &Reply{}
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			if reply.Content != "" {
				reply.Content += "\n"
			}
			reply.Content += block.Text
		case "tool_use":
			reply.Actions = append(reply.Actions, transcript.Action{
				ID:   block.ID,
				Name: block.Name,
				Args: block.Input,
			})
		}
	}
	return reply, nil
}

// buildMessages converts transcript turns into API messages. The API
// requires strict user/assistant alternation, so consecutive user-side
// turns (tool results followed by a nudge, say) merge into one message
// with multiple content blocks.
func buildMessages(turns []transcript.Turn) []anthropicMessage {
	var messages []anthropicMessage

	appendBlocks := func(role string, blocks ...anthropicBlock) {
		if len(messages) > 0 && messages[len(messages)-1].Role == role {
			last := &messages[len(messages)-1]
			last.Content = append(last.Content, blocks...)
			return
		}
		messages = append(messages, anthropicMessage{Role: role, Content: blocks})
	}

	for _, turn := range turns {
		switch turn.Role {
		case transcript.RoleUser:
			appendBlocks("user", anthropicBlock{Type: "text", Text: turn.Content})

		case transcript.RoleAgent:
			var blocks []anthropicBlock
			if turn.Content != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: turn.Content})
			}
			for _, action := range turn.Actions {
				input := action.Args
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropicBlock{
					Type:  "tool_use",
					ID:    action.ID,
					Name:  action.Name,
					Input: input,
				})
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: "(no output)"})
			}
			appendBlocks("assistant", blocks...)

		case transcript.RoleTool:
			appendBlocks("user", anthropicBlock{
				Type:      "tool_result",
				ToolUseID: turn.ActionID,
				Content:   turn.Content,
			})
		}
	}
	return messages
}

// Wire types for the Messages API.

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []Tool             `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

// anthropicBlock is a union of the content block shapes: text, tool_use
// (id/name/input) and tool_result (tool_use_id/content).
type anthropicBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// retryableError marks an error as safe to retry.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryableError checks if an error should be retried.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var re *retryableError
	return errors.As(err, &re)
}
