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

func TestNewDispatch(t *testing.T) {
	_, err := New(Config{Provider: "openai"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	p, err := New(Config{Provider: "openai", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIProvider{}, p)
	assert.Equal(t, 1536, p.Dimension())

	// Empty provider defaults to the remote backend.
	p, err = New(Config{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIProvider{}, p)

	p, err = New(Config{Provider: "ollama"})
	require.NoError(t, err)
	assert.IsType(t, &OllamaProvider{}, p)

	_, err = New(Config{Provider: "bedrock"})
	assert.Error(t, err)
}

func newOpenAITestServer(t *testing.T, dimension int, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req struct {
			Input interface{} `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		count := 1
		if inputs, ok := req.Input.([]interface{}); ok {
			count = len(inputs)
		}
		type item struct {
			Embedding []float32 `json:"embedding"`
		}
		data := make([]item, count)
		for i := range data {
			vec := make([]float32, dimension)
			vec[0] = float32(i + 1)
			data[i] = item{Embedding: vec}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	}))
}

func TestOpenAIEmbedBatchSingleRoundTrip(t *testing.T) {
	var calls int32
	srv := newOpenAITestServer(t, 3, &calls)
	defer srv.Close()

	p, err := NewOpenAIProvider(Config{APIKey: "sk-test", BaseURL: srv.URL, Dimension: 3})
	require.NoError(t, err)

	vectors, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c", "d"})
	require.NoError(t, err)
	require.Len(t, vectors, 4)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "a batch must be one round trip")
	assert.Equal(t, float32(1), vectors[0][0])
	assert.Equal(t, float32(4), vectors[3][0])
}

func TestOpenAIEmbedSingle(t *testing.T) {
	var calls int32
	srv := newOpenAITestServer(t, 3, &calls)
	defer srv.Close()

	p, err := NewOpenAIProvider(Config{APIKey: "sk-test", BaseURL: srv.URL, Dimension: 3})
	require.NoError(t, err)

	vec, err := p.Embed(context.Background(), "  hello  ")
	require.NoError(t, err)
	assert.Len(t, vec, 3)

	_, err = p.Embed(context.Background(), "   ")
	assert.Error(t, err)
}

func TestOpenAIEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(Config{APIKey: "sk-test", BaseURL: srv.URL, Dimension: 3})
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrEmbedFailed)
}

func TestOpenAIEmbedDimensionMismatch(t *testing.T) {
	var calls int32
	srv := newOpenAITestServer(t, 8, &calls)
	defer srv.Close()

	p, err := NewOpenAIProvider(Config{APIKey: "sk-test", BaseURL: srv.URL, Dimension: 3})
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbedFailed)
	assert.Contains(t, err.Error(), "dimension")
}

func TestOpenAIEmbedBatchRejectsBlankInputs(t *testing.T) {
	var calls int32
	srv := newOpenAITestServer(t, 3, &calls)
	defer srv.Close()

	p, err := NewOpenAIProvider(Config{APIKey: "sk-test", BaseURL: srv.URL, Dimension: 3})
	require.NoError(t, err)

	// Dropping the blank element would shift every later vector onto
	// the wrong text, so a blank input must fail the whole batch.
	_, err = p.EmbedBatch(context.Background(), []string{"a", "  ", "b"})
	require.Error(t, err)
	assert.Zero(t, atomic.LoadInt32(&calls), "a blank input must fail before the request")

	_, err = p.EmbedBatch(context.Background(), []string{" ", "\t"})
	assert.Error(t, err)

	vectors, err := p.EmbedBatch(context.Background(), []string{"  a  ", "b"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
}
