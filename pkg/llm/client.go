// Package llm routes completion, streaming, and embedding calls across the
// configured model governance lists with per-key rotation and cooldowns.
package llm

import "context"

// Request is a single generation request, provider-agnostic.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	// JSONMode asks the provider for a JSON-only response where supported.
	JSONMode bool
}

// StreamChunk is one increment of a streamed response. Err terminates the
// stream when set.
type StreamChunk struct {
	Text string
	Err  error
}

// Caller performs the raw provider call for one (model, key) pair. The HTTP
// implementation lives in this package; tests substitute fakes.
type Caller interface {
	Complete(ctx context.Context, baseURL, model, apiKey string, req Request) (string, error)
	Stream(ctx context.Context, baseURL, model, apiKey string, req Request) (<-chan StreamChunk, error)
	Embed(ctx context.Context, baseURL, model, apiKey, text string) ([]float64, error)
}
