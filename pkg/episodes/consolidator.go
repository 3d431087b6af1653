package episodes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/atlas-agent/atlas/pkg/config"
	"github.com/atlas-agent/atlas/pkg/models"
	"github.com/atlas-agent/atlas/pkg/vector"
)

// consolidationStore is the graph slice the consolidator needs.
type consolidationStore interface {
	ConsolidationCandidates(ctx context.Context, minCount int, minAge time.Duration) (map[string][]models.Episode, error)
	CreateEpisode(ctx context.Context, userID, sessionID string, kind models.EpisodeKind, startIndex, endIndex int) (string, error)
	ClaimEpisodeByID(ctx context.Context, id string) error
	DeleteEpisodes(ctx context.Context, ids []string) error
}

// Consolidator folds runs of old REGULAR episodes into single CONSOLIDATED
// summaries and removes the originals, graph rows and vector points both.
type Consolidator struct {
	graph   consolidationStore
	worker  *Worker
	vectors vector.Store
	cfg     *config.MemoryConfig
}

// NewConsolidator builds a consolidator sharing the worker's finalization
// path, so consolidated episodes get the same embed-and-index treatment.
func NewConsolidator(graph consolidationStore, worker *Worker, vectors vector.Store, cfg *config.MemoryConfig) *Consolidator {
	return &Consolidator{graph: graph, worker: worker, vectors: vectors, cfg: cfg}
}

// RunOnce consolidates at most one window per eligible user. Returns how
// many consolidated episodes were created.
func (c *Consolidator) RunOnce(ctx context.Context) (int, error) {
	candidates, err := c.graph.ConsolidationCandidates(ctx, c.cfg.ConsolidationWindow, c.cfg.ConsolidationMinAge)
	if err != nil {
		return 0, fmt.Errorf("failed to scan consolidation candidates: %w", err)
	}

	created := 0
	for userID, eps := range candidates {
		if err := c.consolidateUser(ctx, userID, eps[:c.cfg.ConsolidationWindow]); err != nil {
			slog.Warn("Consolidation failed for user", "user_id", userID, "error", err)
			continue
		}
		created++
	}
	return created, nil
}

func (c *Consolidator) consolidateUser(ctx context.Context, userID string, window []models.Episode) error {
	// Re-summarize the source summaries before touching any rows; a model
	// failure must leave the originals intact.
	summary, err := c.worker.summarize(ctx, renderSummaries(window))
	if err != nil {
		return fmt.Errorf("consolidated summary failed: %w", err)
	}

	first, last := window[0], window[len(window)-1]
	id, err := c.graph.CreateEpisode(ctx, userID, first.SessionID, models.EpisodeKindConsolidated, first.StartTurnIndex, last.EndTurnIndex)
	if err != nil {
		return err
	}
	if err := c.graph.ClaimEpisodeByID(ctx, id); err != nil {
		return err
	}
	consolidated := &models.Episode{ID: id, UserID: userID, SessionID: first.SessionID, Kind: models.EpisodeKindConsolidated}
	if err := c.worker.Finalize(ctx, consolidated, summary); err != nil {
		return err
	}

	ids := make([]string, len(window))
	for i, ep := range window {
		ids[i] = ep.ID
	}
	if err := c.graph.DeleteEpisodes(ctx, ids); err != nil {
		return err
	}
	if c.vectors != nil {
		if err := c.vectors.DeleteByEpisodes(ctx, ids); err != nil {
			slog.Warn("Failed to delete source vector points", "user_id", userID, "error", err)
		}
	}

	slog.Info("Consolidated episode window",
		"user_id", userID,
		"episode_id", id,
		"sources", len(ids))
	return nil
}

// renderSummaries joins source summaries for re-summarization.
func renderSummaries(eps []models.Episode) string {
	var sb strings.Builder
	for _, ep := range eps {
		if text := ep.SummaryText(); text != "" {
			sb.WriteString("- ")
			sb.WriteString(text)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
