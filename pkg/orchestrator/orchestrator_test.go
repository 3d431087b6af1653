package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-agent/atlas/pkg/config"
	"github.com/atlas-agent/atlas/pkg/llm"
	"github.com/atlas-agent/atlas/pkg/models"
	"github.com/atlas-agent/atlas/pkg/trace"
)

type scriptedLLM struct {
	response string
	err      error
}

func (s *scriptedLLM) Complete(context.Context, string, llm.Request, *trace.Record) (string, config.ModelRef, error) {
	return s.response, config.ModelRef{}, s.err
}

type fakeSessions struct {
	mu           sync.Mutex
	topic        string
	activeDomain string
	updates      []string
}

func (f *fakeSessions) SessionTopic(context.Context, string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.topic == "" {
		return models.DefaultTopic, f.activeDomain, nil
	}
	return f.topic, f.activeDomain, nil
}

func (f *fakeSessions) UpdateSessionTopic(_ context.Context, _ string, topic, domain string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, topic+"|"+domain)
	return nil
}

func (f *fakeSessions) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

const validPlanJSON = `{
	"intent": "TASK",
	"is_follow_up": false,
	"detected_topic": "Seyahat",
	"user_thought": "Plan yapıyorum.",
	"tasks": [
		{"id": "t1", "type": "generation", "prompt": "Tatil planı yap", "dependencies": []}
	]
}`

func TestPlanParsesAndPersistsTopic(t *testing.T) {
	sessions := &fakeSessions{}
	o := New(&scriptedLLM{response: validPlanJSON}, sessions)

	req := &models.RequestContext{RequestID: "r1", SessionID: "s1", UserMessage: "Tatil planla"}
	plan := o.Plan(context.Background(), req, nil)

	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, models.IntentTask, plan.Intent)
	assert.Equal(t, "Seyahat", req.Topic)

	require.Eventually(t, func() bool { return sessions.updateCount() > 0 },
		time.Second, 10*time.Millisecond, "topic persisted asynchronously")
}

func TestPlanSentinelTopicsKeepPrevious(t *testing.T) {
	for _, sentinel := range []string{"SAME", "same", "CHITCHAT", "Chitchat"} {
		t.Run(sentinel, func(t *testing.T) {
			sessions := &fakeSessions{topic: "Seyahat", activeDomain: models.IntentTask}
			planJSON := fmt.Sprintf(`{
				"intent": "TASK",
				"is_follow_up": false,
				"detected_topic": %q,
				"tasks": [{"id": "t1", "type": "generation", "prompt": "devam", "dependencies": []}]
			}`, sentinel)
			o := New(&scriptedLLM{response: planJSON}, sessions)

			req := &models.RequestContext{SessionID: "s1", UserMessage: "devam edelim"}
			o.Plan(context.Background(), req, nil)

			assert.Equal(t, "Seyahat", req.Topic, "sentinel keeps the stored topic")
			time.Sleep(50 * time.Millisecond)
			assert.Zero(t, sessions.updateCount(), "unchanged topic and domain persist nothing")
		})
	}
}

func TestPlanFallbackOnModelFailure(t *testing.T) {
	o := New(&scriptedLLM{err: fmt.Errorf("boom")}, &fakeSessions{})

	req := &models.RequestContext{SessionID: "s1", UserMessage: "merhaba", Intent: models.IntentGeneral}
	plan := o.Plan(context.Background(), req, nil)

	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, models.TaskTypeGeneration, plan.Tasks[0].Type)
	assert.Equal(t, "merhaba", plan.Tasks[0].Prompt)
}

func TestPlanFallbackOnGarbageOutput(t *testing.T) {
	o := New(&scriptedLLM{response: "plan yapamadım kusura bakma"}, &fakeSessions{})

	req := &models.RequestContext{SessionID: "s1", UserMessage: "merhaba"}
	plan := o.Plan(context.Background(), req, nil)
	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, models.TaskTypeGeneration, plan.Tasks[0].Type)
}

func TestPlanFollowUpInheritsActiveDomain(t *testing.T) {
	sessions := &fakeSessions{activeDomain: models.IntentPersonal}
	planJSON := `{
		"intent": "GENERAL",
		"is_follow_up": true,
		"tasks": [{"id": "t1", "type": "generation", "prompt": "devam", "dependencies": []}]
	}`
	o := New(&scriptedLLM{response: planJSON}, sessions)

	req := &models.RequestContext{SessionID: "s1", UserMessage: "peki sonra?"}
	plan := o.Plan(context.Background(), req, nil)
	assert.Equal(t, models.IntentPersonal, plan.Intent)
	assert.Equal(t, models.IntentPersonal, req.Intent)
}

func TestPlanInjectsClarificationOnConflicts(t *testing.T) {
	o := New(&scriptedLLM{response: validPlanJSON}, &fakeSessions{})

	req := &models.RequestContext{SessionID: "s1", UserMessage: "nerede yaşıyorum?", HasConflicts: true}
	plan := o.Plan(context.Background(), req, nil)

	var found bool
	for _, task := range plan.Tasks {
		if task.Type == models.TaskTypeContextClarification {
			found = true
		}
	}
	assert.True(t, found, "conflicted context always yields a clarification task")
}
