package model

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/flowd/internal/transcript"
)

func TestNewAnthropic_RequiresAPIKey(t *testing.T) {
	_, err := NewAnthropic(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key required")
}

func TestNewAnthropic_Defaults(t *testing.T) {
	client, err := NewAnthropic(Config{APIKey: "sk-ant-test123"})
	require.NoError(t, err)
	assert.Equal(t, defaultAnthropicModel, client.model)
	assert.Equal(t, defaultAnthropicBaseURL, client.baseURL)
	assert.Equal(t, defaultMaxTokens, client.maxTokens)
}

func TestAnthropicClient_Complete_DecodesToolUse(t *testing.T) {
	var gotBody anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-ant-test123", r.Header.Get("X-API-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, anthropicVersion, r.Header.Get("Anthropic-Version"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &gotBody))

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{
			"id": "msg_123",
			"type": "message",
			"role": "assistant",
			"content": [
				{"type": "text", "text": "Creating the file now."},
				{"type": "tool_use", "id": "toolu_01", "name": "create_file",
				 "input": {"path": "main.go", "content": "package main"}}
			],
			"stop_reason": "tool_use"
		}`))
	}))
	defer server.Close()

	client, err := NewAnthropic(Config{APIKey: "sk-ant-test123", BaseURL: server.URL})
	require.NoError(t, err)

	reply, err := client.Complete(context.Background(), Request{
		Instruction: "You are the implementation agent.",
		Turns: []transcript.Turn{
			{Role: transcript.RoleUser, Content: "build a greeter"},
		},
		Tools: []Tool{{Name: "create_file", Description: "d", InputSchema: map[string]any{"type": "object"}}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Creating the file now.", reply.Content)
	require.Len(t, reply.Actions, 1)
	assert.Equal(t, "toolu_01", reply.Actions[0].ID)
	assert.Equal(t, "create_file", reply.Actions[0].Name)
	assert.Equal(t, "main.go", reply.Actions[0].Args["path"])

	assert.Equal(t, "You are the implementation agent.", gotBody.System)
	require.Len(t, gotBody.Messages, 1)
	assert.Equal(t, "user", gotBody.Messages[0].Role)
	require.Len(t, gotBody.Tools, 1)
	assert.Equal(t, "create_file", gotBody.Tools[0].Name)
}

func TestAnthropicClient_Complete_RetriesServerError(t *testing.T) {
	requestCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		if requestCount == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error": {"message": "overloaded"}}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"content": [{"type": "text", "text": "recovered"}]}`))
	}))
	defer server.Close()

	client, err := NewAnthropic(Config{APIKey: "sk-ant-test123", BaseURL: server.URL})
	require.NoError(t, err)

	reply, err := client.Complete(context.Background(), Request{
		Turns: []transcript.Turn{{Role: transcript.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", reply.Content)
	assert.Equal(t, 2, requestCount)
}

func TestAnthropicClient_Complete_APIErrorNotRetried(t *testing.T) {
	requestCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"type": "invalid_request_error", "message": "max_tokens required"}}`))
	}))
	defer server.Close()

	client, err := NewAnthropic(Config{APIKey: "sk-ant-test123", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), Request{
		Turns: []transcript.Turn{{Role: transcript.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_tokens required")
	assert.Equal(t, 1, requestCount, "client errors must not be retried")
}

func TestBuildMessages_MergesUserSideTurns(t *testing.T) {
	turns := []transcript.Turn{
		{Role: transcript.RoleUser, Content: "build it"},
		{Role: transcript.RoleAgent, Content: "working", Actions: []transcript.Action{
			{ID: "t1", Name: "create_file", Args: map[string]any{"path": "a.go"}},
			{ID: "t2", Name: "create_file", Args: map[string]any{"path": "b.go"}},
		}},
		{Role: transcript.RoleTool, ActionID: "t1", Content: "created a.go"},
		{Role: transcript.RoleTool, ActionID: "t2", Content: "created b.go"},
		{Role: transcript.RoleUser, Content: "please continue"},
	}

	messages := buildMessages(turns)
	require.Len(t, messages, 3)

	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "assistant", messages[1].Role)
	require.Len(t, messages[1].Content, 3, "text block plus two tool_use blocks")
	assert.Equal(t, "tool_use", messages[1].Content[1].Type)

	// Tool results and the follow-up user text share one user message.
	assert.Equal(t, "user", messages[2].Role)
	require.Len(t, messages[2].Content, 3)
	assert.Equal(t, "tool_result", messages[2].Content[0].Type)
	assert.Equal(t, "t1", messages[2].Content[0].ToolUseID)
	assert.Equal(t, "tool_result", messages[2].Content[1].Type)
	assert.Equal(t, "text", messages[2].Content[2].Type)
	assert.Equal(t, "please continue", messages[2].Content[2].Text)
}

func TestBuildMessages_EmptyAgentTurnGetsPlaceholder(t *testing.T) {
	messages := buildMessages([]transcript.Turn{
		{Role: transcript.RoleUser, Content: "go"},
		{Role: transcript.RoleAgent},
	})
	require.Len(t, messages, 2)
	require.Len(t, messages[1].Content, 1)
	assert.Equal(t, "(no output)", messages[1].Content[0].Text)
}
