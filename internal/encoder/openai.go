package encoder

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

const (
	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultOpenAIBatchSize = 64
	maxResponseBytes       = 32 << 20
)

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint
type OpenAIConfig struct {
	Model      string
	APIKey     string
	BaseURL    string
	BatchSize  int
	HTTPClient *http.Client
}

// OpenAIEncoder calls POST {baseURL}/embeddings with batched inputs
type OpenAIEncoder struct {
	model     string
	apiKey    string
	baseURL   string
	batchSize int
	client    *http.Client
	dim       int
}

// NewOpenAIEncoder creates the encoder and probes the model dimension
func NewOpenAIEncoder(ctx context.Context, cfg OpenAIConfig) (*OpenAIEncoder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("embeddings model is not configured (use openai:<model>)")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embeddings API key is not configured (set SIMSEARCH_ENCODER_API_KEY)")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultOpenAIBatchSize
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	e := &OpenAIEncoder{
		model:     cfg.Model,
		apiKey:    cfg.APIKey,
		baseURL:   baseURL,
		batchSize: batchSize,
		client:    client,
	}

	probe, err := e.request(ctx, []string{"dimension probe"})
	if err != nil {
		return nil, fmt.Errorf("dimension probe failed: %w", err)
	}
	e.dim = len(probe[0])

	return e, nil
}

// Encode sends texts in batches and returns vectors in input order
func (e *OpenAIEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))

		vecs, err := e.request(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		for _, v := range vecs {
			if len(v) != e.dim {
				return nil, fmt.Errorf("embedding dimension changed: got %d, expected %d", len(v), e.dim)
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *OpenAIEncoder) request(ctx context.Context, input []string) ([][]float32, error) {
	b, err := json.Marshal(map[string]any{
		"model": e.model,
		"input": input,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embeddings request failed: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("cannot parse embeddings response: %w", err)
	}
	if len(parsed.Data) != len(input) {
		return nil, fmt.Errorf("embeddings response has %d vectors for %d inputs", len(parsed.Data), len(input))
	}

	out := make([][]float32, len(input))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(input) || out[d.Index] != nil {
			return nil, fmt.Errorf("embeddings response has invalid index %d", d.Index)
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("embeddings response missing embedding at index %d", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}

// Dimension returns the probed embedding dimension
func (e *OpenAIEncoder) Dimension() int {
	return e.dim
}

// ModelID returns "openai:<model>"
func (e *OpenAIEncoder) ModelID() string {
	return "openai:" + e.model
}
