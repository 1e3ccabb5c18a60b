// Package llm defines the completion/embedding provider contract and its
// OpenAI implementation. The rest of the core treats the provider as a
// pure prompt-to-text and text-to-vector function; retry policy belongs
// to callers outside this repository.
package llm

import "context"

// Options tunes a single completion call. Zero values fall back to the
// routed model's configured defaults.
type Options struct {
	Task        string // routing key: synthesis, summary, debate
	MaxTokens   int
	Temperature float64
	HasTemp     bool // distinguishes an explicit 0 from unset
}

// Provider is the contract for completion and embedding backends.
type Provider interface {
	// Complete generates text for a prompt using the model routed for opts.Task.
	Complete(ctx context.Context, prompt string, opts Options) (string, error)

	// CompleteWithTokens generates text and reports input/output token usage.
	CompleteWithTokens(ctx context.Context, prompt string, opts Options) (string, int64, int64, error)

	// Embed generates embedding vectors for the provided inputs, in order.
	Embed(ctx context.Context, input []string) ([][]float32, error)

	// ModelFor reports the API model name routed for a task, for cost
	// attribution. It never fails; an unconfigured route echoes the key.
	ModelFor(task string) string
}
