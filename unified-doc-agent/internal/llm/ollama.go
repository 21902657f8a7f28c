package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaClient uses Ollama's native /api/chat endpoint, which supports tool
// calling for models such as llama3.1.
type OllamaClient struct {
	httpClient  *http.Client
	baseURL     string
	model       string
	temperature float32
	logger      *zap.Logger
}

// request body for /api/chat
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type ollamaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

// Streaming chunks look like {"message": {...}, "done": false}.
type ollamaChatChunk struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

func NewOllamaClient(cfg Config, logger *zap.Logger) (*OllamaClient, error) {
	if cfg.Model == "" {
		return nil, errors.New("ollama: model not set")
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/v1")
	logger.Info("initializing ollama client", zap.String("base_url", baseURL), zap.String("model", cfg.Model))
	return &OllamaClient{
		httpClient:  &http.Client{Timeout: 5 * time.Minute},
		baseURL:     baseURL,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		logger:      logger,
	}, nil
}

func (o *OllamaClient) Complete(ctx context.Context, messages []Message) (string, error) {
	resp, err := o.CompleteWithTools(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (o *OllamaClient) CompleteWithTools(ctx context.Context, messages []Message, tools []ToolSpec) (Response, error) {
	payload := ollamaChatRequest{
		Model:    o.model,
		Messages: toOllamaMessages(messages),
		Stream:   true,
		Options:  map[string]any{"temperature": o.temperature},
	}
	for _, t := range tools {
		var ot ollamaTool
		ot.Type = "function"
		ot.Function.Name = t.Name
		ot.Function.Description = t.Description
		ot.Function.Parameters = t.Parameters
		payload.Tools = append(payload.Tools, ot)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("creating ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("calling ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		o.logger.Warn("ollama returned an error", zap.Int("status", resp.StatusCode), zap.ByteString("body", b))
		return Response{}, fmt.Errorf("ollama chat failed with status %d: %s", resp.StatusCode, string(b))
	}

	var (
		text strings.Builder
		out  Response
	)
	decoder := json.NewDecoder(resp.Body)
	for {
		var chunk ollamaChatChunk
		if err := decoder.Decode(&chunk); err == io.EOF {
			break
		} else if err != nil {
			return Response{}, fmt.Errorf("decoding ollama response: %w", err)
		}
		if chunk.Error != "" {
			return Response{}, fmt.Errorf("ollama: %s", chunk.Error)
		}
		text.WriteString(chunk.Message.Content)
		for _, tc := range chunk.Message.ToolCalls {
			id := tc.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", len(out.ToolCalls))
			}
			args := tc.Function.Arguments
			if args == nil {
				args = map[string]any{}
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: id, Name: tc.Function.Name, Arguments: args})
		}
		if chunk.Done {
			break
		}
	}
	out.Text = text.String()
	return out, nil
}

func toOllamaMessages(messages []Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, m := range messages {
		om := ollamaMessage{Role: string(m.Role), Content: m.Content, ToolName: m.ToolName}
		for _, tc := range m.ToolCalls {
			var otc ollamaToolCall
			otc.ID = tc.ID
			otc.Function.Name = tc.Name
			otc.Function.Arguments = tc.Arguments
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		out = append(out, om)
	}
	return out
}
