// Package tools implements the retrieval tools the agent's model can call and
// the dispatch table that maps tool names to handlers.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/llm"
)

var ErrUnknownTool = errors.New("unknown tool")

// Record is one retrieved passage with provenance. Page is 1-based and nil
// when the source has no pages.
type Record struct {
	Content string `json:"content"`
	Source  string `json:"source"`
	Page    *int   `json:"page"`
}

// Retriever is the retrieval capability the tools are built on.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Record, error)
}

// RetrieverFunc adapts a function to Retriever.
type RetrieverFunc func(ctx context.Context, query string, k int) ([]Record, error)

func (f RetrieverFunc) Retrieve(ctx context.Context, query string, k int) ([]Record, error) {
	return f(ctx, query, k)
}

// Tool is a named operation the model may request. Call returns either a
// JSON-encoded string or a structured value.
type Tool interface {
	Spec() llm.ToolSpec
	Call(ctx context.Context, args map[string]any) (any, error)
}

// Func is a Tool backed by a plain function.
type Func struct {
	Name        string
	Description string
	Parameters  map[string]any
	Fn          func(ctx context.Context, args map[string]any) (any, error)
}

func (f Func) Spec() llm.ToolSpec {
	params := f.Parameters
	if params == nil {
		params = queryParameters()
	}
	return llm.ToolSpec{Name: f.Name, Description: f.Description, Parameters: params}
}

func (f Func) Call(ctx context.Context, args map[string]any) (any, error) {
	return f.Fn(ctx, args)
}

// Registry is the fixed dispatch table from tool name to handler.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		name := t.Spec().Name
		if _, dup := r.tools[name]; !dup {
			r.order = append(r.order, name)
		}
		r.tools[name] = t
	}
	return r
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	t, ok := r.tools[name]
	return t, ok
}

// Specs lists the tools in registration order.
func (r *Registry) Specs() []llm.ToolSpec {
	if r == nil {
		return nil
	}
	out := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Spec())
	}
	return out
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Call dispatches by name.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t.Call(ctx, args)
}

func queryParameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "What to look for in the indexed documents",
			},
		},
		"required": []string{"query"},
	}
}
