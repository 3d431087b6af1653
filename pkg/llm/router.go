package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/atlas-agent/atlas/pkg/config"
	"github.com/atlas-agent/atlas/pkg/trace"
)

// defaultBaseURLs covers providers configured without an explicit base_url.
var defaultBaseURLs = map[string]string{
	"groq":   "https://api.groq.com/openai/v1",
	"gemini": "https://generativelanguage.googleapis.com/v1beta/openai",
}

// Router walks a role's governance list model by model and each provider's
// keys key by key until one call succeeds. Rate limits rotate the key, quota
// exhaustion parks it for the day, permanent errors skip to the next model.
type Router struct {
	registry *config.ModelRegistry
	pool     *KeyPool
	caller   Caller
}

// NewRouter builds a router over the registry. Keys are loaded from each
// provider's environment at construction.
func NewRouter(registry *config.ModelRegistry, caller Caller) *Router {
	keys := make(map[string][]string, len(registry.Providers))
	for name, provider := range registry.Providers {
		keys[name] = provider.Keys()
	}
	return &Router{registry: registry, pool: NewKeyPool(keys), caller: caller}
}

// NewRouterWithPool is the test constructor.
func NewRouterWithPool(registry *config.ModelRegistry, pool *KeyPool, caller Caller) *Router {
	return &Router{registry: registry, pool: pool, caller: caller}
}

// Complete runs the request through the role's governance list and returns
// the first successful response together with the model that produced it.
func (r *Router) Complete(ctx context.Context, role string, req Request, tr *trace.Record) (string, config.ModelRef, error) {
	var lastErr error
	for _, ref := range r.registry.Governance(role) {
		text, err := r.tryModel(ctx, ref, req, tr)
		if err == nil {
			tr.SetSelected("model", ref.String())
			return text, ref, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", config.ModelRef{}, ctx.Err()
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("role %q has no models configured", role)
	}
	return "", config.ModelRef{}, fmt.Errorf("%w: %w", ErrAllModelsFailed, lastErr)
}

// tryModel walks the provider's key rotation for one model.
func (r *Router) tryModel(ctx context.Context, ref config.ModelRef, req Request, tr *trace.Record) (string, error) {
	provider, ok := r.registry.Provider(ref.Provider)
	if !ok {
		return "", fmt.Errorf("unknown provider %q", ref.Provider)
	}
	baseURL := provider.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURLs[ref.Provider]
	}

	// Each key gets one shot per model per request; a retryable failure on
	// every key means the provider is down, not the keys.
	var lastErr error
	for attempt := 0; attempt < r.pool.KeyCount(ref.Provider); attempt++ {
		key, err := r.pool.Acquire(ref.Provider, ref.Model)
		if err != nil {
			if lastErr != nil {
				return "", lastErr
			}
			return "", err
		}

		text, err := r.caller.Complete(ctx, baseURL, ref.Model, key, req)
		if err == nil {
			r.pool.ReportSuccess(ref.Provider, key)
			tr.AddModel(ref.String())
			return text, nil
		}
		lastErr = err
		tr.AddModel(ref.String() + " (failed)")

		switch KindOf(err) {
		case KindRateLimited:
			var ce *CallError
			errors.As(err, &ce)
			r.pool.ReportRateLimit(ref.Provider, key, ce.RetryAfter)
		case KindQuotaExhausted:
			r.pool.ReportQuotaExhausted(ref.Provider, ref.Model, key)
			slog.Warn("API key quota exhausted for model",
				"provider", ref.Provider, "model", ref.Model)
		case KindPermanent:
			return "", err
		default:
			// Transient provider failure: move on to the next key.
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: %s", ErrNoKeys, ref.Provider)
	}
	return "", lastErr
}

// Stream opens a streamed completion, falling back through the governance
// list only for call-setup failures. Mid-stream errors surface as chunks.
func (r *Router) Stream(ctx context.Context, role string, req Request, tr *trace.Record) (<-chan StreamChunk, config.ModelRef, error) {
	var lastErr error
	for _, ref := range r.registry.Governance(role) {
		provider, ok := r.registry.Provider(ref.Provider)
		if !ok {
			continue
		}
		baseURL := provider.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURLs[ref.Provider]
		}

		key, err := r.pool.Acquire(ref.Provider, ref.Model)
		if err != nil {
			lastErr = err
			continue
		}
		stream, err := r.caller.Stream(ctx, baseURL, ref.Model, key, req)
		if err == nil {
			r.pool.ReportSuccess(ref.Provider, key)
			tr.AddModel(ref.String())
			tr.SetSelected("model", ref.String())
			return stream, ref, nil
		}
		lastErr = err
		tr.AddModel(ref.String() + " (failed)")
		switch KindOf(err) {
		case KindRateLimited:
			var ce *CallError
			errors.As(err, &ce)
			r.pool.ReportRateLimit(ref.Provider, key, ce.RetryAfter)
		case KindQuotaExhausted:
			r.pool.ReportQuotaExhausted(ref.Provider, ref.Model, key)
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("role %q has no models configured", role)
	}
	return nil, config.ModelRef{}, fmt.Errorf("%w: %w", ErrAllModelsFailed, lastErr)
}

// Embed produces an embedding using the embedder governance list. Returns
// nil without error when no embedder is configured, so callers can degrade.
func (r *Router) Embed(ctx context.Context, text string) ([]float64, error) {
	refs := r.registry.Governance("embedder")
	var lastErr error
	for _, ref := range refs {
		provider, ok := r.registry.Provider(ref.Provider)
		if !ok {
			continue
		}
		baseURL := provider.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURLs[ref.Provider]
		}
		key, err := r.pool.Acquire(ref.Provider, ref.Model)
		if err != nil {
			lastErr = err
			continue
		}
		embedding, err := r.caller.Embed(ctx, baseURL, ref.Model, key, text)
		if err == nil {
			r.pool.ReportSuccess(ref.Provider, key)
			return embedding, nil
		}
		lastErr = err
		if KindOf(err) == KindQuotaExhausted {
			r.pool.ReportQuotaExhausted(ref.Provider, ref.Model, key)
		}
	}
	if lastErr == nil {
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrAllModelsFailed, lastErr)
}
