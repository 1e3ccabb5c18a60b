package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/quorumhq/quorum/config"
)

const defaultBaseURL = "https://api.openai.com/v1"

// OpenAIProvider implements Provider against the OpenAI HTTP API.
type OpenAIProvider struct {
	cfg     config.LLMConfig
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewOpenAIProvider validates credentials up front and returns a ready
// provider. A missing API key is a ConfigurationError, never a lazily
// discovered nil client.
func NewOpenAIProvider(cfg config.LLMConfig) (*OpenAIProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, ConfigurationError{Reason: "OpenAI API key not configured (llm.api_key or OPENAI_API_KEY)"}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIProvider{
		cfg:     cfg,
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Complete generates text using the model routed for opts.Task.
func (p *OpenAIProvider) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	text, _, _, err := p.CompleteWithTokens(ctx, prompt, opts)
	return text, err
}

// CompleteWithTokens generates text and returns token usage.
func (p *OpenAIProvider) CompleteWithTokens(ctx context.Context, prompt string, opts Options) (string, int64, int64, error) {
	modelKey := p.cfg.Routing.Resolve(opts.Task)
	m, ok := p.cfg.Models[modelKey]
	if !ok {
		return "", 0, 0, ConfigurationError{Reason: fmt.Sprintf("model %q not configured", modelKey)}
	}
	apiModel := m.APIName
	if apiModel == "" {
		apiModel = m.Name
	}

	temperature := m.Temperature
	if opts.HasTemp {
		temperature = opts.Temperature
	}
	maxTokens := m.MaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}

	type chatMsg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type chatReq struct {
		Model       string    `json:"model"`
		Messages    []chatMsg `json:"messages"`
		Temperature float64   `json:"temperature,omitempty"`
		MaxTokens   int       `json:"max_tokens,omitempty"`
	}

	body, err := json.Marshal(chatReq{
		Model:       apiModel,
		Messages:    []chatMsg{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", 0, 0, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return "", 0, 0, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, 0, ModelError{Model: apiModel, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", 0, 0, ModelError{Model: apiModel, Err: fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))}
	}

	var chatResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", 0, 0, ModelError{Model: apiModel, Err: fmt.Errorf("parse response: %w", err)}
	}
	if len(chatResp.Choices) == 0 {
		return "", 0, 0, ModelError{Model: apiModel, Err: fmt.Errorf("no choices in response")}
	}
	return chatResp.Choices[0].Message.Content, chatResp.Usage.PromptTokens, chatResp.Usage.CompletionTokens, nil
}

// ModelFor resolves the routing table for a task and returns the API
// model name. An unconfigured model key is returned as-is.
func (p *OpenAIProvider) ModelFor(task string) string {
	modelKey := p.cfg.Routing.Resolve(task)
	m, ok := p.cfg.Models[modelKey]
	if !ok {
		return modelKey
	}
	if m.APIName != "" {
		return m.APIName
	}
	return m.Name
}

// Embed generates embedding vectors for the given inputs using the
// configured embedding model.
func (p *OpenAIProvider) Embed(ctx context.Context, input []string) ([][]float32, error) {
	if len(input) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(map[string]interface{}{
		"model": p.cfg.EmbeddingModel,
		"input": input,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/embeddings", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var embResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	vecs := make([][]float32, len(embResp.Data))
	for _, d := range embResp.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}
