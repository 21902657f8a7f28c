// Package graph runs the agent loop: plan, gather evidence with tools,
// critique, and finalize a cited answer. The loop is an explicit state
// machine with a bounded retry cycle.
package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Stage names a node of the state machine. Events carry the stage that just
// completed.
type Stage string

const (
	StagePlanner        Stage = "planner"
	StageExecutor       Stage = "executor"
	StageCritic         Stage = "critic"
	StageIncrementRetry Stage = "increment_retry"
	StageFinalize       Stage = "finalize"
)

// CriticStatus is the critic's verdict. It is empty before the first
// critique.
type CriticStatus string

const (
	StatusOK    CriticStatus = "OK"
	StatusRetry CriticStatus = "RETRY"
)

// Turn is one prior chat message.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// EvidenceChunk is a retrieved passage with provenance. Page is nil when the
// source has no page numbers.
type EvidenceChunk struct {
	Source  string `json:"source"`
	Page    *int   `json:"page,omitempty"`
	Content string `json:"content"`
}

// Tag renders the inline citation for the chunk.
func (c EvidenceChunk) Tag() string {
	if c.Page != nil {
		return fmt.Sprintf("[%s, p. %d]", c.Source, *c.Page)
	}
	return fmt.Sprintf("[%s]", c.Source)
}

// State is the record threaded through one run. Only the stage functions in
// this package mutate it.
type State struct {
	RunID        string          `json:"run_id"`
	Query        string          `json:"query"`
	History      []Turn          `json:"history,omitempty"`
	Subquestions []string        `json:"subquestions,omitempty"`
	Trace        []string        `json:"trace,omitempty"`
	Evidence     []EvidenceChunk `json:"evidence,omitempty"`
	// RenderedEvidence is the citation-tagged block built by the executor;
	// the critic and finalize stages read this, not Evidence.
	RenderedEvidence string       `json:"rendered_evidence,omitempty"`
	CriticStatus     CriticStatus `json:"critic_status,omitempty"`
	CriticNotes      string       `json:"critic_notes,omitempty"`
	RetryCount       int          `json:"retry_count"`
	FinalAnswer      string       `json:"final_answer,omitempty"`
}

func (s *State) tracef(format string, args ...any) {
	s.Trace = append(s.Trace, fmt.Sprintf(format, args...))
}

// Snapshot returns a deep copy safe to hand to another goroutine.
func (s *State) Snapshot() State {
	out := *s
	out.History = append([]Turn(nil), s.History...)
	out.Subquestions = append([]string(nil), s.Subquestions...)
	out.Trace = append([]string(nil), s.Trace...)
	out.Evidence = make([]EvidenceChunk, len(s.Evidence))
	for i, c := range s.Evidence {
		if c.Page != nil {
			p := *c.Page
			c.Page = &p
		}
		out.Evidence[i] = c
	}
	return out
}

func normalizeContent(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Fingerprint identifies a chunk for deduplication. Runs of whitespace in
// the content are collapsed first, so "a  b" and "a b" collide. The source
// is length-prefixed so no separator inside it can shift field boundaries.
func Fingerprint(c EvidenceChunk) string {
	page := ""
	if c.Page != nil {
		page = strconv.Itoa(*c.Page)
	}
	preimage := fmt.Sprintf("%d:%s|%s|%s", len(c.Source), c.Source, page, normalizeContent(c.Content))
	sum := sha256.Sum256([]byte(preimage))
	return hex.EncodeToString(sum[:])
}

// evidenceSet appends to a state's evidence while rejecting chunks whose
// fingerprint is already present.
type evidenceSet struct {
	state *State
	seen  map[string]struct{}
}

func newEvidenceSet(s *State) *evidenceSet {
	set := &evidenceSet{state: s, seen: make(map[string]struct{}, len(s.Evidence))}
	for _, c := range s.Evidence {
		set.seen[Fingerprint(c)] = struct{}{}
	}
	return set
}

// add reports whether the chunk was new.
func (e *evidenceSet) add(c EvidenceChunk) bool {
	fp := Fingerprint(c)
	if _, dup := e.seen[fp]; dup {
		return false
	}
	e.seen[fp] = struct{}{}
	e.state.Evidence = append(e.state.Evidence, c)
	return true
}

// RenderEvidence joins chunks into the tagged block shown to the critic and
// the final answer prompt.
func RenderEvidence(chunks []EvidenceChunk) string {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, c.Tag()+"\n"+c.Content)
	}
	return strings.Join(parts, "\n\n")
}

// MaxCitations bounds the source list printed under an answer.
const MaxCitations = 6

// Citation is one distinct (source, page) pair the answer drew on.
type Citation struct {
	Source string `json:"source"`
	Page   *int   `json:"page,omitempty"`
}

func (c Citation) String() string {
	if c.Page != nil {
		return fmt.Sprintf("%s (p. %d)", c.Source, *c.Page)
	}
	return c.Source
}

// Citations returns distinct (source, page) pairs in first-seen order,
// at most MaxCitations.
func Citations(chunks []EvidenceChunk) []Citation {
	type key struct {
		source string
		page   int
		paged  bool
	}
	seen := make(map[key]struct{})
	var out []Citation
	for _, c := range chunks {
		k := key{source: c.Source}
		if c.Page != nil {
			k.page, k.paged = *c.Page, true
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, Citation{Source: c.Source, Page: c.Page})
		if len(out) == MaxCitations {
			break
		}
	}
	return out
}

// FormatCitations renders the "Referenced Sources" list, or "" when there
// is no evidence.
func FormatCitations(chunks []EvidenceChunk) string {
	cites := Citations(chunks)
	if len(cites) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Referenced Sources:")
	for _, c := range cites {
		b.WriteString("\n- ")
		b.WriteString(c.String())
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
