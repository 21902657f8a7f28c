package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOllamaClientStreamsTextAndToolCalls(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Look"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"ing","tool_calls":[{"function":{"name":"search_documents","arguments":{"query":"risks of X"}}}]},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer srv.Close()

	c, err := NewOllamaClient(Config{BaseURL: srv.URL + "/v1", Model: "llama3.1"}, zap.NewNop())
	require.NoError(t, err)

	resp, err := c.CompleteWithTools(context.Background(),
		[]Message{{Role: RoleUser, Content: "risks of X"}},
		[]ToolSpec{{Name: "search_documents", Description: "search", Parameters: map[string]any{"type": "object"}}})
	require.NoError(t, err)

	assert.Equal(t, "Looking", resp.Text)
	require.True(t, resp.WantsTools())
	assert.Equal(t, "search_documents", resp.ToolCalls[0].Name)
	assert.Equal(t, "call_0", resp.ToolCalls[0].ID)
	assert.Equal(t, "risks of X", resp.ToolCalls[0].Arguments["query"])

	assert.Equal(t, "llama3.1", got.Model)
	assert.True(t, got.Stream)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "function", got.Tools[0].Type)
}

func TestOllamaClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := NewOllamaClient(Config{BaseURL: srv.URL, Model: "missing"}, zap.NewNop())
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestOpenAIClientParsesToolCalls(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "llama3.1",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [
						{"id": "call_a", "type": "function", "function": {"name": "find_definitions", "arguments": "{\"query\":\"X\"}"}},
						{"id": "call_b", "type": "function", "function": {"name": "extract_risks", "arguments": "not json"}}
					]
				}
			}]
		}`)
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(Config{BaseURL: srv.URL + "/v1", Model: "llama3.1"}, zap.NewNop())
	require.NoError(t, err)

	resp, err := c.CompleteWithTools(context.Background(),
		[]Message{
			{Role: RoleSystem, Content: "Researcher."},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "old", Name: "search_documents", Arguments: map[string]any{"query": "q"}}}},
			{Role: RoleTool, Content: "[]", ToolCallID: "old"},
		},
		[]ToolSpec{{Name: "find_definitions", Parameters: map[string]any{"type": "object"}}})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 2)
	assert.Equal(t, "call_a", resp.ToolCalls[0].ID)
	assert.Equal(t, "X", resp.ToolCalls[0].Arguments["query"])
	assert.Empty(t, resp.ToolCalls[1].Arguments)

	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 3)
	assert.Equal(t, "old", msgs[2].(map[string]any)["tool_call_id"])
	tools, ok := body["tools"].([]any)
	require.True(t, ok)
	assert.Len(t, tools, 1)
}

func TestOpenAIClientSendsTemperature(t *testing.T) {
	tests := []struct {
		name        string
		temperature float32
	}{
		{"zero", 0},
		{"configured", 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, `{"id":"c","object":"chat.completion","created":1,"model":"llama3.1",
					"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"hi"}}]}`)
			}))
			defer srv.Close()

			c, err := NewOpenAIClient(Config{BaseURL: srv.URL + "/v1", Model: "llama3.1", Temperature: tt.temperature}, zap.NewNop())
			require.NoError(t, err)
			out, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
			require.NoError(t, err)
			assert.Equal(t, "hi", out)

			temp, ok := body["temperature"].(float64)
			require.True(t, ok, "temperature must be in the request body")
			assert.InDelta(t, float64(tt.temperature), temp, 1e-6)
		})
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(Config{Provider: "carrier-pigeon", Model: "m"}, nil)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

type countingModel struct{ calls int }

func (c *countingModel) Complete(context.Context, []Message) (string, error) {
	c.calls++
	return "ok", nil
}

func (c *countingModel) CompleteWithTools(context.Context, []Message, []ToolSpec) (Response, error) {
	c.calls++
	return Response{Text: "ok"}, nil
}

func TestRateLimitedHonoursCancelledContext(t *testing.T) {
	inner := &countingModel{}
	m := RateLimited(inner, 0.001, 1)

	_, err := m.Complete(context.Background(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.CompleteWithTools(ctx, nil, nil)
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}
