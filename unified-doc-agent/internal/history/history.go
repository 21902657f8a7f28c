// Package history persists chat sessions and finished runs in Postgres.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/graph"
)

var ErrDuplicateRun = errors.New("run already saved")

// Message is one stored chat turn.
type Message struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, url string) (*Store, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS chat_messages (
		id BIGSERIAL PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS chat_messages_session_idx ON chat_messages (session_id, id);

	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		query TEXT NOT NULL,
		answer TEXT NOT NULL,
		retries INTEGER NOT NULL,
		trace TEXT[] NOT NULL,
		evidence JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create history tables: %w", err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, sessionID, role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (session_id, role, content) VALUES ($1, $2, $3)`,
		sessionID, role, content)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// Recent returns up to limit messages, oldest first. limit <= 0 means all.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	query := `SELECT id, session_id, role, content, created_at FROM (
		SELECT id, session_id, role, content, created_at FROM chat_messages
		WHERE session_id = $1 ORDER BY id DESC LIMIT $2
	) recent ORDER BY id ASC`
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.QueryContext(ctx, query, sessionID, lim)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Clear deletes a session's messages and reports how many were removed.
func (s *Store) Clear(ctx context.Context, sessionID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("clear session: %w", err)
	}
	return result.RowsAffected()
}

// SaveRun keeps a finished run for auditing.
func (s *Store) SaveRun(ctx context.Context, sessionID string, res *graph.Result) error {
	evidence, err := json.Marshal(res.Evidence)
	if err != nil {
		return fmt.Errorf("encode evidence: %w", err)
	}
	trace := res.Trace
	if trace == nil {
		trace = []string{}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, session_id, query, answer, retries, trace, evidence)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		res.RunID, sessionID, res.Query, res.Answer, res.Retries, pq.Array(trace), string(evidence))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicateRun, res.RunID)
		}
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// Turns converts stored messages to planner history.
func Turns(msgs []Message) []graph.Turn {
	out := make([]graph.Turn, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, graph.Turn{Role: m.Role, Content: m.Content})
	}
	return out
}
