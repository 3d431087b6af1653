// Package trace implements the per-request debug record: timings, models
// used, context layer sizes, and reasoning steps. A nil *Record is a valid
// no-op receiver so call sites never need to guard.
package trace

import (
	"sync"
	"time"
)

// Record accumulates debug information for one request.
type Record struct {
	mu sync.Mutex

	RequestID string         `json:"request_id"`
	StartedAt time.Time      `json:"started_at"`
	Steps     []Step         `json:"steps"`
	Models    []string       `json:"models_used"`
	Layers    map[string]int `json:"context_layers,omitempty"`
	Selected  map[string]any `json:"selected,omitempty"`
}

// Step is one timed pipeline stage.
type Step struct {
	Name     string        `json:"name"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration_ms"`
}

// New creates a record for a request.
func New(requestID string) *Record {
	return &Record{
		RequestID: requestID,
		StartedAt: time.Now(),
		Layers:    make(map[string]int),
		Selected:  make(map[string]any),
	}
}

// AddStep records a named stage with its duration.
func (r *Record) AddStep(name, detail string, d time.Duration) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Steps = append(r.Steps, Step{Name: name, Detail: detail, Duration: d})
}

// AddModel records a model that served part of the request.
func (r *Record) AddModel(model string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.Models {
		if m == model {
			return
		}
	}
	r.Models = append(r.Models, model)
}

// SetLayer records the character count contributed by a context layer.
func (r *Record) SetLayer(layer string, chars int) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Layers[layer] = chars
}

// SetSelected records selected IDs or scoring details for a layer.
func (r *Record) SetSelected(key string, value any) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Selected[key] = value
}
