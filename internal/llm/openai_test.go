package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quorumhq/quorum/config"
)

func testConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		APIKey:         "test-key",
		BaseURL:        baseURL,
		EmbeddingModel: "text-embedding-3-small",
		Models: map[string]config.LLMModel{
			"gpt-4o-mini": {Name: "gpt-4o-mini", MaxTokens: 512},
		},
		Routing: config.LLMRoutingConfig{
			Synthesis: "gpt-4o-mini",
			Fallback:  "gpt-4o-mini",
		},
	}
}

func TestNewOpenAIProviderRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewOpenAIProvider(config.LLMConfig{})
	var cfgErr ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestCompleteWithTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("unexpected auth header %q", got)
		}
		var req struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "gpt-4o-mini" {
			t.Fatalf("unexpected model %q", req.Model)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "hello back"}},
			},
			"usage": map[string]int64{"prompt_tokens": 10, "completion_tokens": 5},
		})
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	text, in, out, err := p.CompleteWithTokens(context.Background(), "hi", Options{Task: "synthesis"})
	if err != nil {
		t.Fatalf("CompleteWithTokens: %v", err)
	}
	if text != "hello back" || in != 10 || out != 5 {
		t.Fatalf("unexpected result: %q %d %d", text, in, out)
	}
}

func TestCompleteStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	_, err = p.Complete(context.Background(), "hi", Options{Task: "synthesis"})
	var modelErr ModelError
	if !errors.As(err, &modelErr) {
		t.Fatalf("expected ModelError, got %v", err)
	}
}

func TestCompleteUnroutedModel(t *testing.T) {
	cfg := testConfig("http://unused")
	cfg.Routing = config.LLMRoutingConfig{Synthesis: "missing-model"}
	p, err := NewOpenAIProvider(cfg)
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	_, err = p.Complete(context.Background(), "hi", Options{Task: "synthesis"})
	var cfgErr ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError for unconfigured model, got %v", err)
	}
}

func TestModelFor(t *testing.T) {
	cfg := testConfig("http://unused")
	cfg.Models["gpt-4o-mini"] = config.LLMModel{Name: "gpt-4o-mini", APIName: "gpt-4o-mini-2024"}
	p, err := NewOpenAIProvider(cfg)
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	if got := p.ModelFor("synthesis"); got != "gpt-4o-mini-2024" {
		t.Fatalf("expected routed API name, got %q", got)
	}

	cfg.Routing = config.LLMRoutingConfig{Synthesis: "missing-model"}
	p, err = NewOpenAIProvider(cfg)
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	if got := p.ModelFor("synthesis"); got != "missing-model" {
		t.Fatalf("unconfigured route should echo the key, got %q", got)
	}
}

func TestEmbedOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		// Deliberately out of order.
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"index": 1, "embedding": []float32{0.2}},
				{"index": 0, "embedding": []float32{0.1}},
			},
		})
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	vecs, err := p.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vecs[0][0] != 0.1 || vecs[1][0] != 0.2 {
		t.Fatalf("vectors should be ordered by index, got %v", vecs)
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	p, err := NewOpenAIProvider(testConfig("http://unused"))
	if err != nil {
		t.Fatalf("NewOpenAIProvider: %v", err)
	}
	vecs, err := p.Embed(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Fatalf("empty input should be a no-op, got %v / %v", vecs, err)
	}
}
