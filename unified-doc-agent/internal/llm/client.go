// Package llm holds the language-model capability the agent consumes and the
// provider clients that implement it.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a chat request. Assistant turns may carry tool
// calls; tool turns answer one call through ToolCallID.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	ToolName   string
}

// ToolCall is a model request to run a named tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Response is the result of a tool-enabled completion: either text only, or
// text plus an ordered list of tool calls.
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

// WantsTools reports whether the model asked for at least one tool call.
func (r Response) WantsTools() bool { return len(r.ToolCalls) > 0 }

// ToolSpec describes a tool to the model. Parameters is a JSON schema object.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Model is the text and tool-calling completion capability.
type Model interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	CompleteWithTools(ctx context.Context, messages []Message, tools []ToolSpec) (Response, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider    string // "openai" (any OpenAI-compatible endpoint) or "ollama"
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	// RequestsPerSecond throttles outgoing calls when positive.
	RequestsPerSecond float64
}

var ErrUnknownProvider = errors.New("unknown llm provider")

// New builds the configured provider client.
func New(cfg Config, logger *zap.Logger) (Model, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		m   Model
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		m, err = NewOpenAIClient(cfg, logger)
	case "ollama":
		m, err = NewOllamaClient(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.RequestsPerSecond > 0 {
		m = RateLimited(m, cfg.RequestsPerSecond, 1)
	}
	return m, nil
}
