package indexing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/ingestion"
	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/processing"
	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/storage"
)

type memIndex struct {
	files  map[string]processing.Metadata
	chunks map[string]storage.Document
}

func newMemIndex() *memIndex {
	return &memIndex{files: map[string]processing.Metadata{}, chunks: map[string]storage.Document{}}
}

func (m *memIndex) HasFile(_ context.Context, h string) (bool, error) {
	_, ok := m.files[h]
	return ok, nil
}

func (m *memIndex) RecordFile(_ context.Context, meta processing.Metadata) error {
	m.files[meta.ContentHash] = meta
	return nil
}

func (m *memIndex) InsertChunk(_ context.Context, doc storage.Document, _ []float32) (bool, error) {
	if _, ok := m.chunks[doc.Fingerprint]; ok {
		return false, nil
	}
	m.chunks[doc.Fingerprint] = doc
	return true, nil
}

type constEmbedder struct{ err error }

func (c constEmbedder) Embed(context.Context, string) ([]float32, error) { return []float32{1}, c.err }

func newIndexer(t *testing.T, idx Index, emb Embedder) *Indexer {
	t.Helper()
	chunker, err := processing.NewChunker(100, 20)
	require.NoError(t, err)
	return New(idx, chunker, emb, nil)
}

func TestIndexSourceSkipsKnownFilesAndChunks(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("Alpha paragraph.\n\nBeta paragraph."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "skip.bin"), []byte("ignored"), 0o644))

	idx := newMemIndex()
	ix := newIndexer(t, idx, constEmbedder{})

	st, err := ix.IndexSource(context.Background(), ingestion.LocalSource{Root: root})
	require.NoError(t, err)
	assert.Equal(t, 1, st.Files)
	assert.Equal(t, 0, st.FailedFiles)
	assert.Positive(t, st.NewChunks)
	assert.Len(t, idx.files, 1)
	for _, d := range idx.chunks {
		assert.Equal(t, "a.txt", d.Filename)
		assert.Equal(t, "local", d.Source)
		assert.Nil(t, d.Page)
	}

	st, err = ix.IndexSource(context.Background(), ingestion.LocalSource{Root: root})
	require.NoError(t, err)
	assert.Equal(t, 1, st.SkippedFiles)
	assert.Zero(t, st.NewChunks)
}

func TestIndexFileUsesPageNumbers(t *testing.T) {
	idx := newMemIndex()
	ix := newIndexer(t, idx, constEmbedder{})
	dir := filepath.Join(t.TempDir(), "1AbCdriveid")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "manual.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))
	ix.extract = func(string) ([]ingestion.Page, error) {
		return []ingestion.Page{{Number: 2, Text: "Same text."}, {Number: 3, Text: "Same text."}, {Number: 3, Text: "Same   text."}}, nil
	}

	var st Stats
	require.NoError(t, ix.IndexFile(context.Background(), path, "gdrive", &st))
	assert.Equal(t, 3, st.Chunks)
	assert.Equal(t, 2, st.NewChunks)
	assert.Equal(t, 1, st.Duplicates)
	for _, d := range idx.chunks {
		require.NotNil(t, d.Page)
		assert.Contains(t, []int{2, 3}, *d.Page)
		assert.Equal(t, "manual.pdf", d.Filename)
	}
}

func TestIndexSourceCountsFailures(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("text"), 0o644))

	idx := newMemIndex()
	ix := newIndexer(t, idx, constEmbedder{err: errors.New("ollama down")})
	st, err := ix.IndexSource(context.Background(), ingestion.LocalSource{Root: root})
	require.NoError(t, err)
	assert.Equal(t, 1, st.FailedFiles)
	assert.Empty(t, idx.files, "failed files are retried next time")
}
