package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaEmbed(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/api/embeddings", r.URL.Path)

		var req struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.NotEmpty(t, req.Prompt)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding": []float64{0.25, -0.5, 1.0, 0.125},
		})
	}))
	defer srv.Close()

	p := NewOllamaProvider(Config{BaseURL: srv.URL, Dimension: 4})

	vec, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, -0.5, 1.0, 0.125}, vec)

	// Ollama has no batch endpoint, so each text is its own call.
	vectors, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, vectors, 3)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestOllamaEmbedDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"embedding": []float64{0.1, 0.2},
		})
	}))
	defer srv.Close()

	p := NewOllamaProvider(Config{BaseURL: srv.URL, Dimension: 4})

	_, err := p.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbedFailed)
}

func TestOllamaEmbedServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	p := NewOllamaProvider(Config{BaseURL: srv.URL, Dimension: 4})

	_, err := p.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrEmbedFailed)
}

func TestOllamaDefaults(t *testing.T) {
	p := NewOllamaProvider(Config{})
	assert.Equal(t, 768, p.Dimension())
}
