package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PostgresStore keeps points in the episode_vectors table. Embeddings are
// JSON-encoded; similarity is computed in process after narrowing to one
// user's points, which stays cheap at per-user episode counts.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an open pool.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Upsert stores or replaces the point by its deterministic id.
func (s *PostgresStore) Upsert(ctx context.Context, p Point) error {
	if err := validatePoint(p); err != nil {
		return err
	}
	if p.ID == uuid.Nil {
		p.ID = PointID(p.UserID, p.EpisodeID)
	}
	embedding, err := json.Marshal(p.Embedding)
	if err != nil {
		return fmt.Errorf("failed to encode embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO episode_vectors (point_id, user_id, episode_id, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (point_id) DO UPDATE SET embedding = EXCLUDED.embedding`,
		p.ID, p.UserID, p.EpisodeID, embedding)
	if err != nil {
		return fmt.Errorf("failed to upsert vector point: %w", err)
	}
	return nil
}

// Search loads the user's points and ranks them by cosine similarity.
func (s *PostgresStore) Search(ctx context.Context, userID string, query []float64, limit int) ([]Match, error) {
	var rows []struct {
		EpisodeID string `db:"episode_id"`
		Embedding []byte `db:"embedding"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT episode_id, embedding FROM episode_vectors WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load vector points: %w", err)
	}

	matches := make([]Match, 0, len(rows))
	for _, row := range rows {
		var embedding []float64
		if err := json.Unmarshal(row.Embedding, &embedding); err != nil {
			continue // skip corrupt rows rather than failing recall
		}
		matches = append(matches, Match{EpisodeID: row.EpisodeID, Score: Cosine(query, embedding)})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// DeleteByEpisodes removes points for the given episodes.
func (s *PostgresStore) DeleteByEpisodes(ctx context.Context, episodeIDs []string) error {
	if len(episodeIDs) == 0 {
		return nil
	}
	q, args, err := sqlx.In(`DELETE FROM episode_vectors WHERE episode_id IN (?)`, episodeIDs)
	if err != nil {
		return fmt.Errorf("failed to expand IN clause: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(q), args...); err != nil {
		return fmt.Errorf("failed to delete vector points: %w", err)
	}
	return nil
}

// DeleteByUser removes all of a user's points.
func (s *PostgresStore) DeleteByUser(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM episode_vectors WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete user vectors: %w", err)
	}
	return nil
}
