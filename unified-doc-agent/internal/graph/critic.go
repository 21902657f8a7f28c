package graph

import (
	"context"

	"go.uber.org/zap"

	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/llm"
)

// CriticEvidenceBudget is how much rendered evidence, in characters, the
// critic sees.
const CriticEvidenceBudget = 15000

// critique judges whether the evidence answers the query. It never fails
// the run on bad output; a failed model call is treated as OK.
func (a *Agent) critique(ctx context.Context, s *State) error {
	raw, err := a.model.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: CriticSystemPrompt},
		{Role: llm.RoleUser, Content: "Query: " + s.Query + "\n\nEvidence:\n" + truncateRunes(s.RenderedEvidence, CriticEvidenceBudget)},
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Warn("critic model call failed, accepting evidence", zap.String("run_id", s.RunID), zap.Error(err))
		s.tracef("ERR: critic model call failed: %v", err)
		s.CriticStatus, s.CriticNotes = StatusOK, ""
		return nil
	}

	v := parseVerdict(raw)
	s.CriticStatus, s.CriticNotes = v.Status, v.Notes
	a.logger.Debug("critic verdict", zap.String("run_id", s.RunID), zap.String("status", string(v.Status)))
	return nil
}
