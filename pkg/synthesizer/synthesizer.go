// Package synthesizer turns executed task results into the final user-facing
// reply. It injects a memory-voice preamble, style directives, and situational
// instructions, then streams the synthesizer model's output.
package synthesizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/atlas-agent/atlas/pkg/config"
	"github.com/atlas-agent/atlas/pkg/events"
	"github.com/atlas-agent/atlas/pkg/llm"
	"github.com/atlas-agent/atlas/pkg/models"
	"github.com/atlas-agent/atlas/pkg/prompts"
	"github.com/atlas-agent/atlas/pkg/trace"
)

// apologyText is the reply of last resort when every model is down.
const apologyText = "Şu an yanıt üretmekte zorlanıyorum. Birazdan tekrar dener misin?"

// modelClient is the slice of the router the synthesizer needs.
type modelClient interface {
	Complete(ctx context.Context, role string, req llm.Request, tr *trace.Record) (string, config.ModelRef, error)
	Stream(ctx context.Context, role string, req llm.Request, tr *trace.Record) (<-chan llm.StreamChunk, config.ModelRef, error)
}

// moodStore persists the cross-session emotional state.
type moodStore interface {
	GetMood(ctx context.Context, userID string) (*models.Mood, error)
	SetMood(ctx context.Context, mood models.Mood) error
}

// Input carries everything one synthesis needs.
type Input struct {
	Req          *models.RequestContext
	Results      []models.TaskResult
	Style        string
	TurnCount    int
	TopicChanged bool
}

// Synthesizer produces replies.
type Synthesizer struct {
	llm   modelClient
	moods moodStore
	now   func() time.Time
}

// New builds a synthesizer. moods may be nil; continuity is then skipped.
func New(llmClient modelClient, moods moodStore) *Synthesizer {
	return &Synthesizer{llm: llmClient, moods: moods, now: time.Now}
}

// Synthesize generates the final reply. When stream is non-nil the reply is
// also published chunk by chunk. Model failure never fails the request; the
// caller gets a canned apology instead.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input, stream *events.Stream, tr *trace.Record) (string, error) {
	currentMood := DetectMood(in.Req.UserMessage)
	priorMood := s.loadMood(ctx, in.Req.UserID)
	if currentMood != "" {
		s.persistMood(ctx, in.Req.UserID, currentMood)
	}

	prompt := s.buildPrompt(in, currentMood, priorMood)
	req := llm.Request{Prompt: prompt, Temperature: 0.6}

	if stream == nil {
		return s.complete(ctx, req, tr)
	}
	return s.streamReply(ctx, req, stream, tr)
}

func (s *Synthesizer) complete(ctx context.Context, req llm.Request, tr *trace.Record) (string, error) {
	raw, _, err := s.llm.Complete(ctx, "synthesizer", req, tr)
	if err != nil {
		slog.Error("Synthesis failed on every model", "error", err)
		return apologyText, nil
	}
	return Sanitize(raw), nil
}

func (s *Synthesizer) streamReply(ctx context.Context, req llm.Request, stream *events.Stream, tr *trace.Record) (string, error) {
	ch, _, err := s.llm.Stream(ctx, "synthesizer", req, tr)
	if err != nil {
		slog.Warn("Stream setup failed, falling back to blocking synthesis", "error", err)
		reply, _ := s.complete(ctx, req, tr)
		stream.Publish(events.Event{Type: events.TypeChunk, Data: reply})
		return reply, nil
	}

	var sb strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			if sb.Len() == 0 {
				slog.Warn("Stream failed before first chunk, falling back", "error", chunk.Err)
				reply, _ := s.complete(ctx, req, tr)
				stream.Publish(events.Event{Type: events.TypeChunk, Data: reply})
				return reply, nil
			}
			// Mid-stream failure: keep what the user already saw.
			slog.Warn("Stream aborted mid-reply", "error", chunk.Err)
			break
		}
		text := stripCJK(chunk.Text)
		if text != "" {
			stream.Publish(events.Event{Type: events.TypeChunk, Data: text})
		}
		sb.WriteString(chunk.Text)
	}
	return Sanitize(sb.String()), nil
}

// buildPrompt assembles the synthesis prompt from the template.
func (s *Synthesizer) buildPrompt(in Input, currentMood string, priorMood *models.Mood) string {
	situational := situationalInstructions(in, currentMood, priorMood, s.now())
	if voice := memoryVoice(in.Req.IdentityFacts); voice != "" {
		if situational == "" {
			situational = voice
		} else {
			situational = voice + "\n\n" + situational
		}
	}
	return prompts.Render(prompts.Synthesizer, map[string]string{
		"STYLE":        PresetFor(in.Style).Render(),
		"SITUATIONAL":  situational,
		"CONTEXT":      in.Req.ContextInjection,
		"TASK_RESULTS": formatResults(in.Results),
		"MESSAGE":      in.Req.UserMessage,
	})
}

// memoryVoice phrases the identity facts as things a friend would remember.
func memoryVoice(facts []models.FactRelation) string {
	if len(facts) == 0 {
		return ""
	}
	var lines []string
	for _, f := range facts {
		if f.Predicate == "ISIM" {
			lines = append(lines, fmt.Sprintf("Kullanıcının adı %s; uygun yerlerde adıyla hitap et.", f.Object))
			continue
		}
		lines = append(lines, fmt.Sprintf("Kullanıcı hakkında hatırladığın: %s, %s.",
			strings.ToLower(strings.ReplaceAll(f.Predicate, "_", " ")), f.Object))
	}
	return strings.Join(lines, "\n")
}

// formatResults flattens task results for the prompt. Failed tasks appear
// with their error so the model can acknowledge missing data.
func formatResults(results []models.TaskResult) string {
	if len(results) == 0 {
		return "(görev sonucu yok)"
	}
	var lines []string
	for _, r := range results {
		if r.Succeeded() {
			lines = append(lines, fmt.Sprintf("- [%s] %s", r.TaskID, r.Output))
		} else {
			lines = append(lines, fmt.Sprintf("- [%s] başarısız: %s", r.TaskID, r.Error))
		}
	}
	return strings.Join(lines, "\n")
}

func (s *Synthesizer) loadMood(ctx context.Context, userID string) *models.Mood {
	if s.moods == nil {
		return nil
	}
	mood, err := s.moods.GetMood(ctx, userID)
	if err != nil {
		slog.Warn("Failed to load prior mood", "user_id", userID, "error", err)
		return nil
	}
	return mood
}

// persistMood records the detected mood off the critical path.
func (s *Synthesizer) persistMood(ctx context.Context, userID, label string) {
	if s.moods == nil {
		return
	}
	bg := context.WithoutCancel(ctx)
	detected := s.now()
	go func() {
		err := s.moods.SetMood(bg, models.Mood{UserID: userID, Label: label, DetectedAt: detected})
		if err != nil {
			slog.Warn("Failed to persist mood", "user_id", userID, "error", err)
		}
	}()
}
