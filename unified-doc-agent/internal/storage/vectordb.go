package storage

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/tools"
)

// Document is one indexed chunk. Filename is the base name shown in
// citations; Source is where the file came from ("local" or "gdrive").
type Document struct {
	ID          int64
	Fingerprint string
	Filename    string
	Source      string
	Page        *int
	Content     string
}

// InsertChunk adds a chunk unless one with the same fingerprint exists. It
// reports whether a row was written.
func (s *Store) InsertChunk(ctx context.Context, doc Document, embedding []float32) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO documents (fingerprint, filename, source, page, content, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (fingerprint) DO NOTHING`,
		doc.Fingerprint, doc.Filename, doc.Source, doc.Page, doc.Content, pgvector.NewVector(embedding))
	if err != nil {
		return false, fmt.Errorf("insert chunk: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// QuerySimilar returns the topK nearest chunks by L2 distance.
func (s *Store) QuerySimilar(ctx context.Context, queryEmb []float32, topK int) ([]Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, fingerprint, filename, source, page, content
		 FROM documents ORDER BY embedding <-> $1 LIMIT $2`,
		pgvector.NewVector(queryEmb), topK)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var results []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Fingerprint, &doc.Filename, &doc.Source, &doc.Page, &doc.Content); err != nil {
			return nil, err
		}
		results = append(results, doc)
	}
	return results, rows.Err()
}

// Searcher is the nearest-neighbour lookup a Retriever needs.
type Searcher interface {
	QuerySimilar(ctx context.Context, queryEmb []float32, topK int) ([]Document, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever answers tool queries from the vector index.
type Retriever struct {
	search Searcher
	embed  Embedder
}

func NewRetriever(search Searcher, embed Embedder) *Retriever {
	return &Retriever{search: search, embed: embed}
}

func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]tools.Record, error) {
	emb, err := r.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	docs, err := r.search.QuerySimilar(ctx, emb, k)
	if err != nil {
		return nil, err
	}
	out := make([]tools.Record, 0, len(docs))
	for _, d := range docs {
		out = append(out, tools.Record{Content: d.Content, Source: d.Filename, Page: d.Page})
	}
	return out, nil
}
