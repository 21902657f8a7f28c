// Package indexing feeds files from a source into the vector index.
package indexing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/graph"
	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/ingestion"
	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/processing"
	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/storage"
)

// Index is the part of storage.Store the indexer writes to.
type Index interface {
	HasFile(ctx context.Context, contentHash string) (bool, error)
	RecordFile(ctx context.Context, m processing.Metadata) error
	InsertChunk(ctx context.Context, doc storage.Document, embedding []float32) (bool, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Stats struct {
	Files        int
	SkippedFiles int
	FailedFiles  int
	Chunks       int
	NewChunks    int
	Duplicates   int
}

type Indexer struct {
	index   Index
	chunker *processing.Chunker
	embed   Embedder
	extract func(path string) ([]ingestion.Page, error)
	logger  *zap.Logger
}

func New(index Index, chunker *processing.Chunker, embed Embedder, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{index: index, chunker: chunker, embed: embed, extract: ingestion.ExtractPages, logger: logger}
}

// IndexSource indexes every file the source yields. A failing file is
// logged and counted; only listing errors and cancellation abort.
func (ix *Indexer) IndexSource(ctx context.Context, src ingestion.Source) (Stats, error) {
	var st Stats
	files, err := src.Files(ctx)
	if err != nil {
		return st, fmt.Errorf("list %s files: %w", src.Origin(), err)
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		st.Files++
		if err := ix.IndexFile(ctx, f, src.Origin(), &st); err != nil {
			st.FailedFiles++
			ix.logger.Warn("skip file", zap.String("path", f), zap.Error(err))
		}
	}
	ix.logger.Info("indexing complete",
		zap.Int("files", st.Files),
		zap.Int("skipped_files", st.SkippedFiles),
		zap.Int("failed_files", st.FailedFiles),
		zap.Int("new_chunks", st.NewChunks),
		zap.Int("duplicates", st.Duplicates))
	return st, nil
}

// IndexFile chunks, embeds and stores one file. Files already in the
// manifest, by content hash, are skipped.
func (ix *Indexer) IndexFile(ctx context.Context, path, origin string, st *Stats) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	meta := processing.NewMetadata(path, origin, raw)
	seen, err := ix.index.HasFile(ctx, meta.ContentHash)
	if err != nil {
		return err
	}
	if seen {
		st.SkippedFiles++
		ix.logger.Debug("already indexed", zap.String("path", path))
		return nil
	}

	pages, err := ix.extract(path)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	name := filepath.Base(path)
	inFile := make(map[string]struct{})
	for _, p := range pages {
		chunks, err := ix.chunker.ChunkText(p.Text)
		if err != nil {
			return err
		}
		var page *int
		if p.Number > 0 {
			n := p.Number
			page = &n
		}
		for _, c := range chunks {
			st.Chunks++
			fp := graph.Fingerprint(graph.EvidenceChunk{Source: name, Page: page, Content: c})
			if _, dup := inFile[fp]; dup {
				st.Duplicates++
				continue
			}
			inFile[fp] = struct{}{}

			emb, err := ix.embed.Embed(ctx, c)
			if err != nil {
				return fmt.Errorf("embed chunk: %w", err)
			}
			inserted, err := ix.index.InsertChunk(ctx, storage.Document{
				Fingerprint: fp,
				Filename:    name,
				Source:      origin,
				Page:        page,
				Content:     c,
			}, emb)
			if err != nil {
				return err
			}
			if inserted {
				st.NewChunks++
			} else {
				st.Duplicates++
			}
		}
	}
	return ix.index.RecordFile(ctx, meta)
}
