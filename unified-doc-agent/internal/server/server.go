// Package server exposes the agent over HTTP: streamed queries, chat
// sessions, an MCP tool endpoint, health and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/graph"
	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/history"
	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/metrics"
	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/tools"
)

// Runner starts agent runs. *graph.Agent implements it.
type Runner interface {
	Stream(ctx context.Context, in graph.Input) <-chan graph.Event
}

// HistoryStore keeps chat sessions. *history.Store implements it.
type HistoryStore interface {
	Append(ctx context.Context, sessionID, role, content string) error
	Recent(ctx context.Context, sessionID string, limit int) ([]history.Message, error)
	Clear(ctx context.Context, sessionID string) (int64, error)
	SaveRun(ctx context.Context, sessionID string, res *graph.Result) error
	Ping(ctx context.Context) error
}

type Server struct {
	agent        Runner
	tools        *tools.Registry
	history      HistoryStore
	metrics      *metrics.Metrics
	observer     graph.Observer
	gatherer     prometheus.Gatherer
	historyTurns int
	logger       *zap.Logger
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.logger = l } }

// WithMetrics instruments routes and serves gatherer on /metrics.
func WithMetrics(m *metrics.Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics, s.observer, s.gatherer = m, m, gatherer
	}
}

// WithHistoryTurns sets how many stored messages seed a run.
func WithHistoryTurns(n int) Option { return func(s *Server) { s.historyTurns = n } }

// New builds a server. hist may be nil, in which case sessions are not
// stored.
func New(agent Runner, registry *tools.Registry, hist HistoryStore, opts ...Option) *Server {
	s := &Server{
		agent:        agent,
		tools:        registry,
		history:      hist,
		historyTurns: 4,
		logger:       zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	if s.metrics != nil {
		router.Use(s.metrics.Middleware)
	}

	router.HandleFunc("/query", s.handleQuery).Methods("POST")
	router.HandleFunc("/sessions/{id}/messages", s.handleGetMessages).Methods("GET")
	router.HandleFunc("/sessions/{id}/messages", s.handleClearMessages).Methods("DELETE")
	router.HandleFunc("/mcp", s.handleMCP).Methods("POST")
	router.HandleFunc("/tools/list", s.handleToolsList).Methods("GET")
	router.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return <-errCh
}

type QueryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

// StreamEvent is one NDJSON line of a /query response. Trace holds only
// the lines added since the previous event.
type StreamEvent struct {
	Stage        string                `json:"stage"`
	RunID        string                `json:"run_id,omitempty"`
	SessionID    string                `json:"session_id,omitempty"`
	Subquestions []string              `json:"subquestions,omitempty"`
	Trace        []string              `json:"trace,omitempty"`
	Status       graph.CriticStatus    `json:"status,omitempty"`
	Notes        string                `json:"notes,omitempty"`
	RetryCount   int                   `json:"retry_count,omitempty"`
	Answer       string                `json:"answer,omitempty"`
	Citations    []graph.Citation      `json:"citations,omitempty"`
	Evidence     []graph.EvidenceChunk `json:"evidence,omitempty"`
	Error        string                `json:"error,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	ctx := r.Context()

	var turns []graph.Turn
	if s.history != nil {
		msgs, err := s.history.Recent(ctx, req.SessionID, s.historyTurns)
		if err != nil {
			s.logger.Warn("loading history failed", zap.String("session_id", req.SessionID), zap.Error(err))
		}
		turns = history.Turns(msgs)
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Session-ID", req.SessionID)
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	write := func(ev StreamEvent) {
		if err := enc.Encode(ev); err != nil {
			s.logger.Debug("client went away", zap.Error(err))
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	seen := 0
	for ev := range s.agent.Stream(ctx, graph.Input{Query: req.Query, History: turns}) {
		if ev.Err != nil {
			s.logger.Error("run failed", zap.String("session_id", req.SessionID), zap.Error(ev.Err))
			write(StreamEvent{Stage: "error", SessionID: req.SessionID, Error: ev.Err.Error()})
			return
		}
		out := StreamEvent{Stage: string(ev.Stage), RunID: ev.State.RunID}
		if len(ev.State.Trace) > seen {
			out.Trace = ev.State.Trace[seen:]
			seen = len(ev.State.Trace)
		}
		switch ev.Stage {
		case graph.StagePlanner:
			out.Subquestions = ev.State.Subquestions
		case graph.StageCritic:
			out.Status, out.Notes = ev.State.CriticStatus, ev.State.CriticNotes
		case graph.StageIncrementRetry:
			out.RetryCount = ev.State.RetryCount
		case graph.StageFinalize:
			out.SessionID = req.SessionID
			out.Answer = ev.State.FinalAnswer
			out.Citations = graph.Citations(ev.State.Evidence)
			out.Evidence = ev.State.Evidence
			s.persist(ctx, req.SessionID, ev.State)
		}
		write(out)
	}
}

func (s *Server) persist(ctx context.Context, sessionID string, st graph.State) {
	if s.history == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	log := s.logger.With(zap.String("session_id", sessionID), zap.String("run_id", st.RunID))
	if err := s.history.Append(ctx, sessionID, "user", st.Query); err != nil {
		log.Warn("saving user message failed", zap.Error(err))
	}
	if err := s.history.Append(ctx, sessionID, "assistant", st.FinalAnswer); err != nil {
		log.Warn("saving answer failed", zap.Error(err))
	}
	res := &graph.Result{
		RunID:    st.RunID,
		Query:    st.Query,
		Answer:   st.FinalAnswer,
		Evidence: st.Evidence,
		Trace:    st.Trace,
		Retries:  st.RetryCount,
	}
	if err := s.history.SaveRun(ctx, sessionID, res); err != nil {
		log.Warn("saving run failed", zap.Error(err))
	}
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "history is not configured", http.StatusNotImplemented)
		return
	}
	id := mux.Vars(r)["id"]
	msgs, err := s.history.Recent(r.Context(), id, 0)
	if err != nil {
		s.logger.Error("loading messages failed", zap.String("session_id", id), zap.Error(err))
		http.Error(w, "Failed to load messages", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []history.Message{}
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleClearMessages(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		http.Error(w, "history is not configured", http.StatusNotImplemented)
		return
	}
	id := mux.Vars(r)["id"]
	n, err := s.history.Clear(r.Context(), id)
	if err != nil {
		s.logger.Error("clearing messages failed", zap.String("session_id", id), zap.Error(err))
		http.Error(w, "Failed to clear messages", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"deleted": n})
}

func (s *Server) handleToolsList(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{"tools": s.mcpTools()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.history != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.history.Ping(ctx); err != nil {
			writeJSONResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSONResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
