package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ParamSpec describes one tool parameter for validation.
type ParamSpec struct {
	Type     string // "string" or "number"
	Required bool
}

// Tool is an invokable capability the planner may schedule.
type Tool interface {
	Name() string
	Schema() map[string]ParamSpec
	Invoke(ctx context.Context, params map[string]any) (string, error)
}

// Registry maps tool names to implementations.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names lists registered tools, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// validateParams checks params against the schema: required keys present,
// values of the declared type, no undeclared keys.
func validateParams(schema map[string]ParamSpec, params map[string]any) error {
	for key, spec := range schema {
		v, ok := params[key]
		if !ok {
			if spec.Required {
				return fmt.Errorf("missing required parameter %q", key)
			}
			continue
		}
		switch spec.Type {
		case "string":
			if _, ok := v.(string); !ok {
				return fmt.Errorf("parameter %q must be a string", key)
			}
		case "number":
			if _, ok := v.(float64); !ok {
				return fmt.Errorf("parameter %q must be a number", key)
			}
		}
	}
	for key := range params {
		if _, ok := schema[key]; !ok {
			return fmt.Errorf("unknown parameter %q", key)
		}
	}
	return nil
}

// DatetimeTool reports the current date and time, optionally in a named
// IANA timezone. The clock is injectable for tests.
type DatetimeTool struct {
	Now func() time.Time
}

func (t *DatetimeTool) Name() string { return "get_current_datetime" }

func (t *DatetimeTool) Schema() map[string]ParamSpec {
	return map[string]ParamSpec{
		"timezone": {Type: "string"},
	}
}

func (t *DatetimeTool) Invoke(_ context.Context, params map[string]any) (string, error) {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	loc := time.Local
	if tz, ok := params["timezone"].(string); ok && strings.TrimSpace(tz) != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q: %w", tz, err)
		}
		loc = parsed
	}
	return now().In(loc).Format("2006-01-02 15:04 (Monday)"), nil
}

// CalculatorTool evaluates a basic arithmetic operation over two operands.
// The planner uses it for exact math the models get wrong.
type CalculatorTool struct{}

func (CalculatorTool) Name() string { return "calculator" }

func (CalculatorTool) Schema() map[string]ParamSpec {
	return map[string]ParamSpec{
		"operation": {Type: "string", Required: true},
		"a":         {Type: "number", Required: true},
		"b":         {Type: "number", Required: true},
	}
}

func (CalculatorTool) Invoke(_ context.Context, params map[string]any) (string, error) {
	op, _ := params["operation"].(string)
	a, _ := params["a"].(float64)
	b, _ := params["b"].(float64)
	var result float64
	switch op {
	case "add":
		result = a + b
	case "subtract":
		result = a - b
	case "multiply":
		result = a * b
	case "divide":
		if b == 0 {
			return "", fmt.Errorf("division by zero")
		}
		result = a / b
	default:
		return "", fmt.Errorf("unknown operation %q", op)
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.6f", result), "0"), "."), nil
}

// DefaultRegistry returns the built-in tool set.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&DatetimeTool{})
	r.Register(CalculatorTool{})
	return r
}
