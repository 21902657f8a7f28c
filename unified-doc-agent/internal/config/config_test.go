package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "llama3.1", cfg.LLM.Model)
	assert.Equal(t, "nomic-embed-text", cfg.Embedding.Model)
	assert.Equal(t, 6, cfg.RetrievalK)
	assert.Equal(t, 2, cfg.MaxRetries)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  model: qwen2.5
  temperature: 0.2
retrieval_k: 4
redis:
  addr: localhost:6379
  ttl: 2m
`), 0o644))

	t.Setenv("MAX_RETRIES", "1")
	t.Setenv("OLLAMA_BASE_URL", "http://gpu-box:11434/")
	t.Setenv("PORT", "9000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5", cfg.LLM.Model)
	assert.InDelta(t, 0.2, cfg.LLM.Temperature, 1e-6)
	assert.Equal(t, 4, cfg.RetrievalK)
	assert.Equal(t, 1, cfg.MaxRetries)
	assert.Equal(t, 2*time.Minute, cfg.Redis.TTL)
	assert.Equal(t, "http://gpu-box:11434", cfg.Embedding.BaseURL)
	assert.Equal(t, "http://gpu-box:11434/v1", cfg.LLM.BaseURL)
	assert.Equal(t, ":9000", cfg.ServerAddr)
	assert.Equal(t, cfg.DatabaseURL, cfg.HistoryDatabaseURL)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LLM_MODEL=mistral\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("LLM_MODEL") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "mistral", cfg.LLM.Model)
}

func TestValidateRejects(t *testing.T) {
	cfg := Default()
	cfg.ChunkOverlap = cfg.ChunkSize
	cfg.MaxRetries = -1
	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "chunk_overlap")
	assert.Contains(t, err.Error(), "max_retries")
}

func TestBadEnvNumber(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RETRIEVAL_K", "six")
	_, err := Load("")
	assert.ErrorIs(t, err, ErrInvalid)
}
