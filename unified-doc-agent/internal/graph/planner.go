package graph

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/llm"
)

// historyWindow is how many prior turns the planner sees.
const historyWindow = 4

func plannerInput(s *State) string {
	hist := s.History
	if len(hist) > historyWindow {
		hist = hist[len(hist)-historyWindow:]
	}
	lines := make([]string, 0, len(hist))
	for _, t := range hist {
		lines = append(lines, t.Role+": "+t.Content)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "History:\n%s\n\nCurrent Query: %s", strings.Join(lines, "\n"), s.Query)
	if s.CriticNotes != "" {
		fmt.Fprintf(&b, "\n\nCRITIC FEEDBACK:\n%s\n\nGenerate a REVISED plan. Do not repeat questions that were already answered.", s.CriticNotes)
	}
	return b.String()
}

// plan replaces the subquestions. Unparsable output, or a failed model call,
// degrades to the query itself.
func (a *Agent) plan(ctx context.Context, s *State) error {
	raw, err := a.model.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: PlannerSystemPrompt},
		{Role: llm.RoleUser, Content: plannerInput(s)},
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Warn("planner model call failed, using the query as the plan", zap.String("run_id", s.RunID), zap.Error(err))
		raw = ""
	}

	subqs := parsePlan(raw)
	if len(subqs) == 0 {
		subqs = []string{s.Query}
	}
	s.Subquestions = subqs
	a.logger.Debug("planned", zap.String("run_id", s.RunID), zap.Strings("subquestions", subqs))
	return nil
}
