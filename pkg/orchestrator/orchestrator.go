// Package orchestrator turns one user message into an executable plan: it
// hydrates the session topic, calls the planner model, validates the plan,
// and degrades to a single generation task when planning fails.
package orchestrator

import (
	"context"
	"log/slog"
	"strings"

	"github.com/atlas-agent/atlas/pkg/catalog"
	"github.com/atlas-agent/atlas/pkg/config"
	"github.com/atlas-agent/atlas/pkg/llm"
	"github.com/atlas-agent/atlas/pkg/models"
	"github.com/atlas-agent/atlas/pkg/prompts"
	"github.com/atlas-agent/atlas/pkg/trace"
)

// completer is the slice of the model router the orchestrator needs.
type completer interface {
	Complete(ctx context.Context, role string, req llm.Request, tr *trace.Record) (string, config.ModelRef, error)
}

// sessionStore persists topic state across requests.
type sessionStore interface {
	SessionTopic(ctx context.Context, sessionID string) (topic, activeDomain string, err error)
	UpdateSessionTopic(ctx context.Context, sessionID, topic, activeDomain string) error
}

// Orchestrator plans requests.
type Orchestrator struct {
	llm      completer
	sessions sessionStore
}

// New builds an orchestrator.
func New(llmClient completer, sessions sessionStore) *Orchestrator {
	return &Orchestrator{llm: llmClient, sessions: sessions}
}

// Plan produces the task DAG for the request. The planner model failing or
// emitting garbage never fails the request: a single-generation fallback
// plan answers the user directly.
func (o *Orchestrator) Plan(ctx context.Context, req *models.RequestContext, tr *trace.Record) *models.Plan {
	storedTopic, activeDomain, err := o.sessions.SessionTopic(ctx, req.SessionID)
	if err != nil {
		slog.Warn("Failed to hydrate session topic", "session_id", req.SessionID, "error", err)
		storedTopic = models.DefaultTopic
	}
	req.Topic = storedTopic

	prompt := prompts.Render(prompts.Planner, map[string]string{
		"CONTEXT": req.ContextInjection,
		"MESSAGE": req.UserMessage,
	})

	raw, _, err := o.llm.Complete(ctx, "orchestrator", llm.Request{
		Prompt:      prompt,
		Temperature: 0.2,
		JSONMode:    true,
	}, tr)
	if err != nil {
		slog.Warn("Planner call failed, using fallback plan", "request_id", req.RequestID, "error", err)
		return o.finish(ctx, req, fallbackPlan(req), activeDomain, tr)
	}

	plan, err := models.ParsePlan(raw)
	if err != nil {
		slog.Warn("Planner output rejected, using fallback plan", "request_id", req.RequestID, "error", err)
		return o.finish(ctx, req, fallbackPlan(req), activeDomain, tr)
	}
	return o.finish(ctx, req, plan, activeDomain, tr)
}

// finish applies intent inheritance, conflict clarification, and topic
// persistence to a validated plan.
func (o *Orchestrator) finish(ctx context.Context, req *models.RequestContext, plan *models.Plan, activeDomain string, tr *trace.Record) *models.Plan {
	// A follow-up with no intent of its own inherits the session's active
	// domain, so "peki ya sonra?" stays in the conversation it continues.
	if plan.IsFollowUp && (plan.Intent == "" || plan.Intent == models.IntentGeneral) && activeDomain != "" {
		plan.Intent = activeDomain
	}
	if plan.Intent == "" {
		plan.Intent = req.Intent
	}
	if plan.Intent == "" {
		plan.Intent = models.IntentGeneral
	}
	req.Intent = plan.Intent

	if req.HasConflicts {
		ensureClarification(plan)
	}

	// "SAME" and "CHITCHAT" are planner sentinels, not topics: the
	// conversation stays where it was.
	topic := strings.TrimSpace(plan.DetectedTopic)
	switch catalog.Normalize(topic) {
	case "", "SAME", "CHITCHAT":
		topic = req.Topic
	}
	if topic != req.Topic || plan.Intent != activeDomain {
		// Topic persistence is off the request's critical path.
		bg := context.WithoutCancel(ctx)
		go func() {
			if err := o.sessions.UpdateSessionTopic(bg, req.SessionID, topic, plan.Intent); err != nil {
				slog.Warn("Failed to persist session topic", "session_id", req.SessionID, "error", err)
			}
		}()
	}
	req.Topic = topic

	tr.SetSelected("intent", plan.Intent)
	tr.SetSelected("topic", topic)
	return plan
}

// ensureClarification guarantees a conflicted context produces a question
// back to the user instead of a confident wrong answer.
func ensureClarification(plan *models.Plan) {
	for _, task := range plan.Tasks {
		if task.Type == models.TaskTypeContextClarification {
			return
		}
	}
	plan.Tasks = append(plan.Tasks, models.PlanTask{
		ID:     "clarify",
		Type:   models.TaskTypeContextClarification,
		Prompt: "Bağlamda çelişen bilgiler var. Hangisinin güncel olduğunu kullanıcıya nazikçe sor.",
	})
}

// fallbackPlan answers the message with a single generation task.
func fallbackPlan(req *models.RequestContext) *models.Plan {
	return &models.Plan{
		Intent:        req.Intent,
		DetectedTopic: req.Topic,
		UserThought:   "Mesajı doğrudan yanıtlıyorum.",
		Tasks: []models.PlanTask{{
			ID:     "t1",
			Type:   models.TaskTypeGeneration,
			Prompt: req.UserMessage,
		}},
	}
}
