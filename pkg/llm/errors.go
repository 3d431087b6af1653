package llm

import (
	"errors"
	"fmt"
	"time"
)

// ErrAllModelsFailed signals that every model in a governance list was tried
// and none produced a response.
var ErrAllModelsFailed = errors.New("all models in governance list failed")

// ErrNoKeys signals that a provider has no usable API key right now.
var ErrNoKeys = errors.New("no usable API keys for provider")

// Kind classifies a provider call failure, which decides whether the router
// rotates the key, the model, or gives up.
type Kind int

// Failure kinds.
const (
	KindRetryable Kind = iota
	KindRateLimited
	KindQuotaExhausted
	KindPermanent
)

// CallError is a classified provider failure.
type CallError struct {
	Kind       Kind
	Provider   string
	Model      string
	RetryAfter time.Duration
	Err        error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s/%s: %v", e.Provider, e.Model, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// KindOf extracts the failure kind, defaulting to retryable for plain errors
// such as timeouts.
func KindOf(err error) Kind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindRetryable
}

// ClassifyStatus maps an HTTP status to a failure kind. 429 rotates the key,
// quota statuses park the key for the day, 5xx is retryable, any other 4xx
// is a permanent request problem.
func ClassifyStatus(status int) Kind {
	switch {
	case status == 429:
		return KindRateLimited
	case status == 402:
		return KindQuotaExhausted
	case status >= 500:
		return KindRetryable
	default:
		return KindPermanent
	}
}
