package main

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIEmbedderSuccess(t *testing.T) {
	var gotAuth string
	var gotReq openAIEmbeddingRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer server.Close()

	embedder := &OpenAIEmbedder{
		APIKey:  "test-key",
		Model:   "text-embedding-3-small",
		Dim:     3,
		BaseURL: server.URL,
	}

	vec, err := embedder.Embed(context.Background(), "AI accelerator card")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != 3 || vec[1] != 0.2 {
		t.Fatalf("unexpected vector %v", vec)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotReq.Input != "AI accelerator card" || gotReq.Dimensions != 3 {
		t.Fatalf("unexpected request %+v", gotReq)
	}
}

func TestOpenAIEmbedderRetriesThenSucceeds(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Write([]byte(`{"error":{"message":"rate limited"}}`))
			return
		}
		w.Write([]byte(`{"data":[{"embedding":[1,0]}]}`))
	}))
	defer server.Close()

	embedder := &OpenAIEmbedder{APIKey: "k", Model: "m", Retries: 2, BaseURL: server.URL}

	vec, err := embedder.Embed(context.Background(), "x")
	if err != nil {
		t.Fatalf("Embed failed after retry: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if len(vec) != 2 {
		t.Fatalf("unexpected vector %v", vec)
	}
}

func TestOpenAIEmbedderAPIErrorExhaustsRetries(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"error":{"message":"model not found"}}`))
	}))
	defer server.Close()

	embedder := &OpenAIEmbedder{APIKey: "k", Model: "m", Retries: 1, BaseURL: server.URL}

	_, err := embedder.Embed(context.Background(), "x")
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("expected API error surfaced, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected initial call plus one retry, got %d", calls)
	}
}

func TestOpenAIEmbedderRequiresAPIKey(t *testing.T) {
	embedder := &OpenAIEmbedder{Model: "m"}
	if _, err := embedder.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error without an API key")
	}
}

func TestCosineSim(t *testing.T) {
	cases := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1},
		{"length mismatch", []float64{1, 0}, []float64{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
		{"zero norm", []float64{0, 0}, []float64{1, 1}, 0},
	}
	for _, tc := range cases {
		if got := cosineSim(tc.a, tc.b); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}
