package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "agentkb", cfg.App.Name)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr())
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 1536, cfg.Embedding.Dimension)
	assert.Equal(t, 1000, cfg.RAG.ChunkSize)
	assert.Equal(t, 200, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 5, cfg.RAG.TopK)
	assert.InDelta(t, 0.3, cfg.RAG.SimilarityThreshold, 1e-9)
	assert.False(t, cfg.Auth.Enable)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[app]
port = 9090

[embedding]
provider = "ollama"
dimension = 768

[rag]
chunk_size = 500
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.App.Port)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, 768, cfg.Embedding.Dimension)
	assert.Equal(t, 500, cfg.RAG.ChunkSize)
	// Untouched sections keep their defaults.
	assert.Equal(t, 200, cfg.RAG.ChunkOverlap)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[rag]\ntop_k = 3\n"), 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("RAG_TOP_K", "9")
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("API_ENABLE_AUTH", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.RAG.TopK)
	assert.Equal(t, "sk-from-env", cfg.Embedding.APIKey)
	assert.True(t, cfg.Auth.Enable)
	assert.Contains(t, cfg.PostgresDSN(), "password=secret")
	assert.Contains(t, cfg.PostgresDSN(), "sslmode=disable")
}

func TestBadEnvValuesFallBack(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	t.Setenv("RAG_TOP_K", "lots")
	t.Setenv("RAG_SIMILARITY_THRESHOLD", "high")
	t.Setenv("API_ENABLE_AUTH", "yep")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.RAG.TopK)
	assert.InDelta(t, 0.3, cfg.RAG.SimilarityThreshold, 1e-9)
	assert.False(t, cfg.Auth.Enable)
}
