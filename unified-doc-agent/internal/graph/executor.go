package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/llm"
	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/tools"
)

const (
	// MaxToolIterations bounds model round-trips per subquestion.
	MaxToolIterations = 3

	summaryChunks  = 5
	summaryPreview = 100
)

// runningSummary previews the most recent evidence for the executor prompt.
func runningSummary(evidence []EvidenceChunk) string {
	if len(evidence) == 0 {
		return noEvidenceMarker
	}
	recent := evidence
	if len(recent) > summaryChunks {
		recent = recent[len(recent)-summaryChunks:]
	}
	var b strings.Builder
	b.WriteString("Prior evidence:")
	for _, c := range recent {
		b.WriteString("\n- ")
		b.WriteString(truncateRunes(strings.TrimSpace(c.Content), summaryPreview))
		b.WriteString("...")
	}
	return b.String()
}

// execute resolves every subquestion through the tool-calling loop and
// rebuilds the rendered evidence block. Tool and model failures are
// recorded in the trace; only context cancellation aborts the stage.
func (a *Agent) execute(ctx context.Context, s *State) error {
	set := newEvidenceSet(s)
	specs := a.tools.Specs()

	for _, sq := range s.Subquestions {
		s.tracef("PLAN: %s", sq)
		msgs := []llm.Message{
			{Role: llm.RoleSystem, Content: executorSystemPrompt(sq, runningSummary(s.Evidence))},
			{Role: llm.RoleUser, Content: sq},
		}

		for i := 0; i < MaxToolIterations; i++ {
			resp, err := a.model.CompleteWithTools(ctx, msgs, specs)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				a.logger.Warn("executor model call failed", zap.String("run_id", s.RunID), zap.String("subquestion", sq), zap.Error(err))
				s.tracef("ERR: model call failed for %q: %v", sq, err)
				break
			}
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolCalls})
			if !resp.WantsTools() {
				break
			}
			for _, call := range resp.ToolCalls {
				// Every call in the assistant message needs an answer, named or not.
				out := "Error: missing tool name."
				if call.Name != "" {
					var err error
					if out, err = a.dispatch(ctx, s, set, call); err != nil {
						return err
					}
				}
				id := call.ID
				if id == "" {
					id = call.Name
				}
				msgs = append(msgs, llm.Message{Role: llm.RoleTool, Content: out, ToolCallID: id, ToolName: call.Name})
			}
		}
	}

	s.RenderedEvidence = RenderEvidence(s.Evidence)
	return nil
}

// dispatch runs one tool call and returns the text handed back to the model.
// The returned error is non-nil only when ctx is done.
func (a *Agent) dispatch(ctx context.Context, s *State, set *evidenceSet, call llm.ToolCall) (string, error) {
	s.tracef("TOOL: %s", call.Name)

	out, err := a.tools.Call(ctx, call.Name, call.Arguments)
	a.observer.ToolCalled(call.Name, err)
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		a.logger.Warn("model requested unknown tool", zap.String("run_id", s.RunID), zap.String("tool", call.Name))
		return fmt.Sprintf("Error: Tool '%s' not found.", call.Name), nil
	case err != nil:
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		msg := fmt.Sprintf("Error executing %s: %v", call.Name, err)
		s.tracef("ERR: %s", msg)
		a.logger.Warn("tool call failed", zap.String("run_id", s.RunID), zap.String("tool", call.Name), zap.Error(err))
		return msg, nil
	}

	added := a.ingest(s, set, call.Name, out)
	a.logger.Debug("tool call", zap.String("run_id", s.RunID), zap.String("tool", call.Name), zap.Int("new_chunks", added))
	return toolResultText(out), nil
}

func toolResultText(out any) string {
	if str, ok := out.(string); ok {
		return str
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprint(out)
	}
	return string(data)
}

// ingest merges a tool result into the evidence set. Accepted shapes are a
// JSON list (as a string or a decoded value), typed records, and an object
// with an "evidence" list. Anything else is traced and dropped.
func (a *Agent) ingest(s *State, set *evidenceSet, tool string, out any) int {
	value, ok := decodeToolOutput(out)
	if !ok {
		s.tracef("WARN: Tool %s output was not valid JSON", tool)
		return 0
	}
	if obj, isObj := value.(map[string]any); isObj {
		if ev, has := obj["evidence"]; has {
			value = ev
			if str, isStr := ev.(string); isStr {
				if value, ok = decodeToolOutput(str); !ok {
					s.tracef("WARN: Tool %s output was not valid JSON", tool)
					return 0
				}
			}
		}
	}
	items, isList := value.([]any)
	if !isList {
		s.tracef("WARN: Tool %s returned non-list data", tool)
		return 0
	}

	added := 0
	for _, it := range items {
		rec, isRec := it.(map[string]any)
		if !isRec {
			s.tracef("WARN: Tool %s returned a non-object evidence item", tool)
			continue
		}
		chunk := chunkFromRecord(rec)
		if normalizeContent(chunk.Content) == "" {
			continue
		}
		if set.add(chunk) {
			added++
		}
	}
	return added
}

// decodeToolOutput turns a tool result into generic JSON values.
func decodeToolOutput(out any) (any, bool) {
	var data []byte
	switch v := out.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	case []any, map[string]any:
		return v, true
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			return nil, false
		}
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, false
	}
	return value, true
}

func chunkFromRecord(rec map[string]any) EvidenceChunk {
	c := EvidenceChunk{Source: "unknown"}
	switch v := rec["content"].(type) {
	case string:
		c.Content = v
	case nil:
	default:
		c.Content = fmt.Sprint(v)
	}
	if src, ok := rec["source"].(string); ok && strings.TrimSpace(src) != "" {
		c.Source = src
	}
	c.Page = pageOf(rec["page"])
	return c
}

// pageOf accepts numbers and numeric strings. Pages below 1 mean "no page".
func pageOf(v any) *int {
	var n int
	switch p := v.(type) {
	case float64:
		if p != math.Trunc(p) {
			return nil
		}
		n = int(p)
	case int:
		n = p
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil
		}
		n = parsed
	default:
		return nil
	}
	if n < 1 {
		return nil
	}
	return &n
}
