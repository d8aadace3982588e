package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider talks to an OpenAI-compatible /embeddings endpoint.
// The batch path is a single round trip per batch.
type OpenAIProvider struct {
	cfg        Config
	httpClient *http.Client
}

func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 1536
	}
	return &OpenAIProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (p *OpenAIProvider) Dimension() int {
	return p.cfg.Dimension
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("embedding input is empty")
	}

	vectors, err := p.request(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: empty embedding in response", ErrEmbedFailed)
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per input, positionally aligned. A
// blank input is an error rather than being dropped, which would shift
// the remaining vectors onto the wrong texts.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	trimmed := make([]string, len(texts))
	for i, t := range texts {
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, fmt.Errorf("embedding input %d is empty", i)
		}
		trimmed[i] = s
	}

	vectors, err := p.request(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(trimmed) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrEmbedFailed, len(vectors), len(trimmed))
	}
	return vectors, nil
}

// request posts a single /embeddings call; input is either a string or
// a []string per the OpenAI API contract.
func (p *OpenAIProvider) request(ctx context.Context, input interface{}) ([][]float32, error) {
	reqBody := map[string]interface{}{
		"model": p.cfg.Model,
		"input": input,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request failed: %w", err)
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build embedding request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrEmbedFailed, err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: response status %d: %s", ErrEmbedFailed, resp.StatusCode, string(raw))
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: parse json: %v", ErrEmbedFailed, err)
	}

	vectors := make([][]float32, len(parsed.Data))
	for i := range parsed.Data {
		if got := len(parsed.Data[i].Embedding); got != p.cfg.Dimension {
			return nil, fmt.Errorf("%w: embedding dimension %d, expected %d", ErrEmbedFailed, got, p.cfg.Dimension)
		}
		vectors[i] = parsed.Data[i].Embedding
	}
	return vectors, nil
}
