package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/llm"
)

const (
	SearchDocuments = "search_documents"
	ExtractRisks    = "extract_risks"
	ExtractRewards  = "extract_rewards"
	FindDefinitions = "find_definitions"
)

// DefaultK is the number of passages each tool retrieves.
const DefaultK = 6

// queryTool rewrites the model's query to bias retrieval, then searches.
type queryTool struct {
	name        string
	description string
	rewrite     func(q string) string
	retriever   Retriever
	k           int
}

func (t *queryTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{Name: t.name, Description: t.description, Parameters: queryParameters()}
}

func (t *queryTool) Call(ctx context.Context, args map[string]any) (any, error) {
	q, _ := args["query"].(string)
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, errors.New("query argument is required")
	}
	records, err := t.retriever.Retrieve(ctx, t.rewrite(q), t.k)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.name, err)
	}
	if records == nil {
		records = []Record{}
	}
	out, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%s: encoding results: %w", t.name, err)
	}
	return string(out), nil
}

// RetrievalTools returns the four canonical tools over one retriever.
func RetrievalTools(r Retriever, k int) []Tool {
	if k <= 0 {
		k = DefaultK
	}
	return []Tool{
		&queryTool{
			name:        SearchDocuments,
			description: "Search relevant factual excerpts. Returns JSON.",
			rewrite:     func(q string) string { return q },
			retriever:   r,
			k:           k,
		},
		&queryTool{
			name:        ExtractRisks,
			description: "Find risks, downsides, or negative outcomes. Returns JSON.",
			rewrite:     func(q string) string { return "risks downsides danger negative limitations of " + q },
			retriever:   r,
			k:           k,
		},
		&queryTool{
			name:        ExtractRewards,
			description: "Find benefits, upsides, or positive outcomes. Returns JSON.",
			rewrite:     func(q string) string { return "benefits advantages rewards positive outcomes of " + q },
			retriever:   r,
			k:           k,
		},
		&queryTool{
			name:        FindDefinitions,
			description: "Find definitions of terms. Returns JSON.",
			rewrite:     func(q string) string { return "definition meaning explanation of term " + q },
			retriever:   r,
			k:           k,
		},
	}
}
