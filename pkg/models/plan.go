package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TaskType is the discriminator of the plan task union.
type TaskType string

// Plan task types.
const (
	TaskTypeTool                 TaskType = "tool"
	TaskTypeGeneration           TaskType = "generation"
	TaskTypeMemoryControl        TaskType = "memory_control"
	TaskTypeContextClarification TaskType = "context_clarification"
)

// PlanTask is one node of the request DAG. Fields are populated according to
// Type: Tool tasks carry ToolName+Params, generation and clarification tasks
// carry Specialist+Prompt, memory_control tasks carry Instruction+Params.
type PlanTask struct {
	ID           string         `json:"id"`
	Type         TaskType       `json:"type"`
	Specialist   string         `json:"specialist,omitempty"`
	ToolName     string         `json:"tool_name,omitempty"`
	Prompt       string         `json:"prompt,omitempty"`
	Instruction  string         `json:"instruction,omitempty"`
	Params       map[string]any `json:"params,omitempty"`
	Dependencies []string       `json:"dependencies"`
}

// Plan is the planner's structured output for one request.
type Plan struct {
	Intent         string     `json:"intent"`
	IsFollowUp     bool       `json:"is_follow_up"`
	RewrittenQuery string     `json:"rewritten_query,omitempty"`
	UserThought    string     `json:"user_thought"`
	Reasoning      string     `json:"reasoning"`
	DetectedTopic  string     `json:"detected_topic"`
	Tasks          []PlanTask `json:"tasks"`
}

// ParsePlan parses a planner response permissively: it tolerates surrounding
// prose and markdown fences, then validates the structural contract. An
// ill-formed plan is rejected rather than propagated as loose maps.
func ParsePlan(raw string) (*Plan, error) {
	body := extractJSONObject(raw)
	if body == "" {
		return nil, fmt.Errorf("planner response contains no JSON object")
	}

	var plan Plan
	if err := json.Unmarshal([]byte(body), &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan JSON: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Validate checks the structural invariants of a plan: non-empty unique task
// IDs, known task types, and dependencies referencing earlier-declared tasks.
func (p *Plan) Validate() error {
	if len(p.Tasks) == 0 {
		return fmt.Errorf("plan has no tasks")
	}
	seen := make(map[string]bool, len(p.Tasks))
	for i, task := range p.Tasks {
		if task.ID == "" {
			return fmt.Errorf("task %d has empty id", i)
		}
		if seen[task.ID] {
			return fmt.Errorf("duplicate task id %q", task.ID)
		}
		switch task.Type {
		case TaskTypeTool:
			if task.ToolName == "" {
				return fmt.Errorf("tool task %q has no tool_name", task.ID)
			}
		case TaskTypeGeneration, TaskTypeContextClarification:
			if task.Prompt == "" {
				return fmt.Errorf("%s task %q has no prompt", task.Type, task.ID)
			}
		case TaskTypeMemoryControl:
			if task.Instruction == "" {
				return fmt.Errorf("memory_control task %q has no instruction", task.ID)
			}
		default:
			return fmt.Errorf("task %q has unknown type %q", task.ID, task.Type)
		}
		for _, dep := range task.Dependencies {
			if !seen[dep] {
				return fmt.Errorf("task %q depends on unknown or later task %q", task.ID, dep)
			}
		}
		seen[task.ID] = true
	}
	return nil
}

// TaskResult is the outcome of one executed DAG task.
type TaskResult struct {
	TaskID   string   `json:"task_id"`
	Type     TaskType `json:"type"`
	ToolName string   `json:"tool_name,omitempty"`
	Output   string   `json:"output,omitempty"`
	Error    string   `json:"error,omitempty"`
	Status   string   `json:"status"`
}

// Task result statuses.
const (
	TaskResultOK     = "ok"
	TaskResultFailed = "failed"
)

// Succeeded reports whether the task completed without error.
func (r TaskResult) Succeeded() bool {
	return r.Status == TaskResultOK
}

// extractJSONObject returns the outermost {...} span of raw, stripping
// markdown fences the models occasionally emit despite instructions.
func extractJSONObject(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
