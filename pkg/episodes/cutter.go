// Package episodes summarizes turn windows into retrievable episodic
// memories: a cutter marks windows, a worker summarizes and indexes them,
// and a consolidator folds old episodes into long-range summaries.
package episodes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/atlas-agent/atlas/pkg/models"
)

// episodeCreator is the graph slice the cutter needs.
type episodeCreator interface {
	CreateEpisode(ctx context.Context, userID, sessionID string, kind models.EpisodeKind, startIndex, endIndex int) (string, error)
}

// Cutter creates PENDING episodes at window boundaries.
type Cutter struct {
	graph  episodeCreator
	window int
}

// NewCutter builds a cutter over the configured window size.
func NewCutter(graph episodeCreator, window int) *Cutter {
	return &Cutter{graph: graph, window: window}
}

// MaybeCut creates a PENDING episode when the session just completed a full
// window of user turns. Called after each assistant turn is appended.
func (c *Cutter) MaybeCut(ctx context.Context, session *models.Session) error {
	if c.window <= 0 || session.TurnCount == 0 || session.TurnCount%c.window != 0 {
		return nil
	}
	start := session.TurnCount - c.window + 1
	id, err := c.graph.CreateEpisode(ctx, session.UserID, session.ID, models.EpisodeKindRegular, start, session.TurnCount)
	if err != nil {
		return fmt.Errorf("failed to cut episode window: %w", err)
	}
	slog.Info("Episode window cut",
		"episode_id", id,
		"session_id", session.ID,
		"start", start,
		"end", session.TurnCount)
	return nil
}
