package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"time"
)

const externalHTTPTimeout = 30 * time.Second

var externalHTTPClient = &http.Client{
	Timeout: externalHTTPTimeout,
}

// EmbeddingProvider turns text into a fixed-dimension vector. Calls are
// best-effort: the engine degrades the semantic layers to no-match when the
// provider fails.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint with a bounded retry.
// The embedding call is the dominant latency source of a detection run, so it
// is the only external call that carries a retry policy.
type OpenAIEmbedder struct {
	APIKey  string
	Model   string
	Dim     int
	Retries int
	BaseURL string // test override; empty means the public API
}

func NewOpenAIEmbedder(cfg Config) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.EmbeddingModel,
		Dim:     cfg.EmbeddingDim,
		Retries: cfg.EmbeddingRetries,
	}
}

type openAIEmbeddingRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if e.APIKey == "" {
		return nil, fmt.Errorf("embedding provider not configured")
	}

	var lastErr error
	for attempt := 0; attempt <= e.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
			log.Printf("embeddings retry attempt=%d model=%s", attempt, e.Model)
		}
		vec, err := e.embedOnce(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (e *OpenAIEmbedder) embedOnce(ctx context.Context, text string) ([]float64, error) {
	reqBody := openAIEmbeddingRequest{Model: e.Model, Input: text, Dimensions: e.Dim}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := e.BaseURL
	if url == "" {
		url = "https://api.openai.com"
	}
	req, err := http.NewRequestWithContext(ctx, "POST", url+"/v1/embeddings", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.APIKey)

	resp, err := externalHTTPClient.Do(req)
	if err != nil {
		log.Printf("embeddings error: %v", err)
		return nil, fmt.Errorf("embeddings API error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var parsed openAIEmbeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parsing embeddings response: %w", err)
	}
	if parsed.Error != nil {
		log.Printf("embeddings api error: %s", parsed.Error.Message)
		return nil, fmt.Errorf("embeddings API error: %s", parsed.Error.Message)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("no data in embeddings response")
	}
	return parsed.Data[0].Embedding, nil
}

// cosineSim computes cosine similarity over dense vectors. Mismatched or
// zero-norm vectors score 0.
func cosineSim(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
