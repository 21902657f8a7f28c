package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/llm"
	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/tools"
)

// DefaultMaxRetries is the retry budget when none is configured.
const DefaultMaxRetries = 2

var ErrEmptyQuery = errors.New("query is empty")

// Observer receives run telemetry. Implementations must be safe for
// concurrent runs.
type Observer interface {
	StageCompleted(stage Stage, elapsed time.Duration)
	ToolCalled(tool string, err error)
	RunCompleted(retries int, err error)
}

type nopObserver struct{}

func (nopObserver) StageCompleted(Stage, time.Duration) {}
func (nopObserver) ToolCalled(string, error)            {}
func (nopObserver) RunCompleted(int, error)             {}

// Agent holds the dependencies shared by runs. A single Agent may serve
// many concurrent runs; each run owns its State.
type Agent struct {
	model      llm.Model
	tools      *tools.Registry
	maxRetries int
	logger     *zap.Logger
	observer   Observer
	tracer     trace.Tracer
}

type Option func(*Agent)

func WithMaxRetries(n int) Option {
	return func(a *Agent) {
		if n >= 0 {
			a.maxRetries = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(a *Agent) {
		if o != nil {
			a.observer = o
		}
	}
}

func New(model llm.Model, registry *tools.Registry, opts ...Option) *Agent {
	a := &Agent{
		model:      model,
		tools:      registry,
		maxRetries: DefaultMaxRetries,
		logger:     zap.NewNop(),
		observer:   nopObserver{},
		tracer:     otel.Tracer("github.com/Divas-Gupta30/agentic-rag/graph"),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Decide is the transition out of the critic: retry while budget remains,
// otherwise finalize.
func Decide(status CriticStatus, retryCount, maxRetries int) Stage {
	if status == StatusRetry && retryCount < maxRetries {
		return StageIncrementRetry
	}
	return StageFinalize
}

// Input starts a run.
type Input struct {
	Query   string
	History []Turn
}

// Result is what a caller keeps from a finished run.
type Result struct {
	RunID    string          `json:"run_id"`
	Query    string          `json:"query"`
	Answer   string          `json:"answer"`
	Evidence []EvidenceChunk `json:"evidence"`
	Trace    []string        `json:"trace"`
	Retries  int             `json:"retries"`
}

// Event is emitted after each stage completes. Err is set only on the last
// event of a failed stream.
type Event struct {
	Stage Stage `json:"stage"`
	State State `json:"state"`
	Err   error `json:"-"`
}

// stepLimit is the longest legal path: maxRetries full rounds of
// planner, executor, critic, increment_retry, then a last round ending in
// finalize.
func (a *Agent) stepLimit() int {
	return 4*a.maxRetries + 4
}

// Run drives one query to a final answer. emit, if non-nil, is called with
// a snapshot after every stage.
func (a *Agent) Run(ctx context.Context, in Input, emit func(Event)) (res *Result, err error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, ErrEmptyQuery
	}
	s := &State{
		RunID:   uuid.NewString(),
		Query:   in.Query,
		History: append([]Turn(nil), in.History...),
	}
	log := a.logger.With(zap.String("run_id", s.RunID))
	log.Info("run started", zap.String("query", s.Query))

	ctx, span := a.tracer.Start(ctx, "agent.run", trace.WithAttributes(attribute.String("run.id", s.RunID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		a.observer.RunCompleted(s.RetryCount, err)
	}()

	stage := StagePlanner
	for step := 0; ; step++ {
		if step >= a.stepLimit() {
			return nil, fmt.Errorf("run %s: exceeded %d steps", s.RunID, a.stepLimit())
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		next, err := a.step(ctx, stage, s)
		if err != nil {
			log.Error("stage failed", zap.String("stage", string(stage)), zap.Error(err))
			return nil, err
		}
		if emit != nil {
			emit(Event{Stage: stage, State: s.Snapshot()})
		}
		if stage == StageFinalize {
			break
		}
		stage = next
	}

	log.Info("run finished", zap.Int("retries", s.RetryCount), zap.Int("evidence", len(s.Evidence)))
	return &Result{
		RunID:    s.RunID,
		Query:    s.Query,
		Answer:   s.FinalAnswer,
		Evidence: s.Snapshot().Evidence,
		Trace:    append([]string(nil), s.Trace...),
		Retries:  s.RetryCount,
	}, nil
}

// step runs one stage and returns the stage that follows it.
func (a *Agent) step(ctx context.Context, stage Stage, s *State) (Stage, error) {
	ctx, span := a.tracer.Start(ctx, "agent."+string(stage))
	start := time.Now()
	defer func() {
		span.End()
		a.observer.StageCompleted(stage, time.Since(start))
	}()

	var (
		next Stage
		err  error
	)
	switch stage {
	case StagePlanner:
		next, err = StageExecutor, a.plan(ctx, s)
	case StageExecutor:
		next, err = StageCritic, a.execute(ctx, s)
	case StageCritic:
		err = a.critique(ctx, s)
		next = Decide(s.CriticStatus, s.RetryCount, a.maxRetries)
	case StageIncrementRetry:
		s.RetryCount++
		next = StagePlanner
	case StageFinalize:
		err = a.finalize(ctx, s)
	default:
		err = fmt.Errorf("unknown stage %q", stage)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return next, err
}

// Stream runs the query in a goroutine and delivers stage events. The
// channel is closed when the run ends; a failed run ends with an event whose
// Err is set. Cancelling ctx stops the run at the next stage boundary.
func (a *Agent) Stream(ctx context.Context, in Input) <-chan Event {
	ch := make(chan Event)
	go func() {
		defer close(ch)
		send := func(ev Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		_, err := a.Run(ctx, in, func(ev Event) { send(ev) })
		if err != nil && ctx.Err() == nil {
			send(Event{Err: err})
		}
	}()
	return ch
}
