package processing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkerSplitsLongText(t *testing.T) {
	c, err := NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	require.NoError(t, err)

	var b strings.Builder
	for i := 0; i < 300; i++ {
		fmt.Fprintf(&b, "Sentence number %d talks about overheating. ", i)
	}
	chunks, err := c.ChunkText(b.String())
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch), DefaultChunkSize)
		assert.Equal(t, strings.TrimSpace(ch), ch)
	}
}

func TestChunkerShortAndBlank(t *testing.T) {
	c, err := NewChunker(0, 0)
	require.NoError(t, err)

	chunks, err := c.ChunkText("  short note  ")
	require.NoError(t, err)
	assert.Equal(t, []string{"short note"}, chunks)

	chunks, err = c.ChunkText(" \n\n ")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestNewChunkerRejectsOverlap(t *testing.T) {
	_, err := NewChunker(100, 100)
	assert.Error(t, err)
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embeddings", r.URL.Path)
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		if req.Prompt == "bad" {
			json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{1}})
			return
		}
		json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL+"/v1", "", 3)
	embs, err := e.EmbedChunks(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, embs, 2)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, embs[1])

	_, err = e.Embed(context.Background(), "bad")
	assert.ErrorContains(t, err, "expected embedding dim 3")

	_, err = e.Embed(context.Background(), " ")
	assert.Error(t, err)
}

func TestNewMetadataHashesContent(t *testing.T) {
	a := NewMetadata("/data/a.pdf", "local", []byte("same"))
	b := NewMetadata("/other/b.pdf", "gdrive", []byte("same"))
	assert.Equal(t, a.ContentHash, b.ContentHash)
	assert.Equal(t, "a.pdf", a.Title)
	assert.NotEqual(t, a.ContentHash, NewMetadata("c", "local", []byte("different")).ContentHash)
}
