package episodes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/atlas-agent/atlas/pkg/config"
	"github.com/atlas-agent/atlas/pkg/llm"
	"github.com/atlas-agent/atlas/pkg/models"
	"github.com/atlas-agent/atlas/pkg/prompts"
	"github.com/atlas-agent/atlas/pkg/retry"
	"github.com/atlas-agent/atlas/pkg/trace"
	"github.com/atlas-agent/atlas/pkg/vector"
)

// workerStore is the graph slice the worker needs.
type workerStore interface {
	ClaimPendingEpisode(ctx context.Context) (*models.Episode, error)
	ReclaimStaleEpisodes(ctx context.Context, timeout time.Duration) (int64, error)
	TurnWindow(ctx context.Context, sessionID string, startIndex, endIndex int) ([]models.Turn, error)
	FinalizeEpisode(ctx context.Context, id string, status models.EpisodeStatus, summary, embeddingModel string, vectorStatus models.VectorStatus, vectorError string) error
}

// summarizer is the router slice the worker needs.
type summarizer interface {
	Complete(ctx context.Context, role string, req llm.Request, tr *trace.Record) (string, config.ModelRef, error)
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Worker drains the PENDING episode queue: claim, summarize, embed, index.
type Worker struct {
	graph      workerStore
	llm        summarizer
	vectors    vector.Store
	cfg        *config.MemoryConfig
	embedModel string
}

// NewWorker builds a worker. vectors may be nil; episodes then finalize with
// a failed vector substate. embedModel is recorded on indexed episodes.
func NewWorker(graph workerStore, llmClient summarizer, vectors vector.Store, cfg *config.MemoryConfig, embedModel string) *Worker {
	return &Worker{graph: graph, llm: llmClient, vectors: vectors, cfg: cfg, embedModel: embedModel}
}

// RunOnce reclaims stale claims, then processes at most one pending episode.
// Returns whether an episode was processed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	if n, err := w.graph.ReclaimStaleEpisodes(ctx, w.cfg.EpisodeClaimTimeout); err != nil {
		slog.Warn("Failed to reclaim stale episodes", "error", err)
	} else if n > 0 {
		slog.Info("Reclaimed stale episodes", "count", n)
	}

	ep, err := w.graph.ClaimPendingEpisode(ctx)
	if err != nil {
		return false, err
	}
	if ep == nil {
		return false, nil
	}
	return true, w.process(ctx, ep)
}

func (w *Worker) process(ctx context.Context, ep *models.Episode) error {
	turns, err := w.graph.TurnWindow(ctx, ep.SessionID, ep.StartTurnIndex, ep.EndTurnIndex)
	if err != nil {
		return w.fail(ctx, ep, fmt.Sprintf("turn window load failed: %v", err))
	}
	if len(turns) == 0 {
		return w.fail(ctx, ep, "empty turn window")
	}

	summary, err := w.summarize(ctx, renderTranscript(turns))
	if err != nil {
		slog.Warn("Episode summarization failed", "episode_id", ep.ID, "error", err)
		return w.fail(ctx, ep, fmt.Sprintf("summarization failed: %v", err))
	}

	return w.Finalize(ctx, ep, summary)
}

// summarize calls the episodic-summary model.
func (w *Worker) summarize(ctx context.Context, transcript string) (string, error) {
	prompt := prompts.Render(prompts.EpisodeSummary, map[string]string{
		"TRANSCRIPT": transcript,
	})
	raw, _, err := w.llm.Complete(ctx, "episodic_summary", llm.Request{
		Prompt:      prompt,
		Temperature: 0.3,
	}, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

// Finalize embeds and indexes the summary, then writes the terminal state.
// The episode reaches READY even when embedding or indexing fails; only the
// vector substate records the degradation.
func (w *Worker) Finalize(ctx context.Context, ep *models.Episode, summary string) error {
	if len([]rune(summary)) < w.cfg.MinSummaryChars {
		return w.graph.FinalizeEpisode(ctx, ep.ID, models.EpisodeStatusReady, summary, "", models.VectorStatusSkipped, "")
	}

	var embedding []float64
	err := retry.Do(ctx, retry.DefaultPolicy("embed_episode"), func(ctx context.Context) error {
		var embErr error
		embedding, embErr = w.llm.Embed(ctx, summary)
		return embErr
	})
	if err != nil {
		slog.Warn("Episode embedding failed", "episode_id", ep.ID, "error", err)
		return w.graph.FinalizeEpisode(ctx, ep.ID, models.EpisodeStatusReady, summary, "", models.VectorStatusFailed, err.Error())
	}
	if len(embedding) == 0 {
		return w.graph.FinalizeEpisode(ctx, ep.ID, models.EpisodeStatusReady, summary, "", models.VectorStatusFailed, "no embedder configured")
	}

	if w.vectors == nil {
		return w.graph.FinalizeEpisode(ctx, ep.ID, models.EpisodeStatusReady, summary, "", models.VectorStatusFailed, "no vector store configured")
	}
	err = retry.Do(ctx, retry.DefaultPolicy("vector_upsert"), func(ctx context.Context) error {
		return w.vectors.Upsert(ctx, vector.Point{
			UserID:    ep.UserID,
			EpisodeID: ep.ID,
			Embedding: embedding,
		})
	})
	if err != nil {
		slog.Warn("Episode vector upsert failed", "episode_id", ep.ID, "error", err)
		return w.graph.FinalizeEpisode(ctx, ep.ID, models.EpisodeStatusReady, summary, "", models.VectorStatusFailed, err.Error())
	}

	return w.graph.FinalizeEpisode(ctx, ep.ID, models.EpisodeStatusReady, summary, w.embedModel, models.VectorStatusReady, "")
}

func (w *Worker) fail(ctx context.Context, ep *models.Episode, reason string) error {
	return w.graph.FinalizeEpisode(ctx, ep.ID, models.EpisodeStatusFailed, "", "", models.VectorStatusSkipped, reason)
}

// renderTranscript flattens turns for the summary prompt.
func renderTranscript(turns []models.Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		role := "Kullanıcı"
		if t.Role == models.RoleAssistant {
			role = "Asistan"
		}
		sb.WriteString(role)
		sb.WriteString(": ")
		sb.WriteString(t.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}
