package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atlas-agent/atlas/pkg/models"
)

// CreateEpisode inserts a PENDING episode covering one turn window and
// returns its id.
func (s *Store) CreateEpisode(ctx context.Context, userID, sessionID string, kind models.EpisodeKind, startIndex, endIndex int) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO episodes (id, session_id, user_id, kind, status, start_turn_index, end_turn_index)
		VALUES ($1, $2, $3, $4, 'PENDING', $5, $6)`,
		id, sessionID, userID, kind, startIndex, endIndex)
	if err != nil {
		return "", fmt.Errorf("failed to create episode: %w", err)
	}
	return id, nil
}

// ClaimPendingEpisode atomically claims the oldest PENDING episode for this
// worker. SKIP LOCKED keeps replicas from contending over the same row.
// Returns nil when the queue is empty.
func (s *Store) ClaimPendingEpisode(ctx context.Context) (*models.Episode, error) {
	var ep models.Episode
	err := s.db.GetContext(ctx, &ep, `
		UPDATE episodes SET status = 'IN_PROGRESS', claimed_at = now()
		WHERE id = (
			SELECT id FROM episodes
			WHERE status = 'PENDING'
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING *`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim episode: %w", err)
	}
	return &ep, nil
}

// ClaimEpisodeByID moves a specific PENDING episode to IN_PROGRESS. The
// consolidation job uses it to finalize the episode it just created without
// racing the regular worker queue.
func (s *Store) ClaimEpisodeByID(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE episodes SET status = 'IN_PROGRESS', claimed_at = now()
		WHERE id = $1 AND status = 'PENDING'`, id)
	if err != nil {
		return fmt.Errorf("failed to claim episode %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("episode %s is not pending", id)
	}
	return nil
}

// ReclaimStaleEpisodes returns IN_PROGRESS episodes whose claim is older than
// timeout back to PENDING. Covers workers that died mid-summary.
func (s *Store) ReclaimStaleEpisodes(ctx context.Context, timeout time.Duration) (int64, error) {
	cutoff := now().Add(-timeout)
	res, err := s.db.ExecContext(ctx, `
		UPDATE episodes SET status = 'PENDING', claimed_at = NULL
		WHERE status = 'IN_PROGRESS' AND claimed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale episodes: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// FinalizeEpisode writes the summary and terminal state in one statement.
// The vector substate is recorded independently of the main status.
func (s *Store) FinalizeEpisode(ctx context.Context, id string, status models.EpisodeStatus, summary, embeddingModel string, vectorStatus models.VectorStatus, vectorError string) error {
	var verr *string
	if vectorError != "" {
		verr = &vectorError
	}
	var model *string
	if embeddingModel != "" {
		model = &embeddingModel
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE episodes
		SET status = $2, summary = $3, embedding_model = $4,
		    vector_status = $5, vector_error = $6, claimed_at = NULL
		WHERE id = $1 AND status = 'IN_PROGRESS'`,
		id, status, summary, model, vectorStatus, verr)
	if err != nil {
		return fmt.Errorf("failed to finalize episode %s: %w", id, err)
	}
	return nil
}

// EpisodesByIDs loads episodes preserving no particular order.
func (s *Store) EpisodesByIDs(ctx context.Context, ids []string) ([]models.Episode, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q, args, err := sqlxIn(`SELECT * FROM episodes WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var eps []models.Episode
	if err := s.db.SelectContext(ctx, &eps, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("failed to load episodes: %w", err)
	}
	return eps, nil
}

// RecentReadyEpisodes returns a user's latest READY episodes, newest first.
func (s *Store) RecentReadyEpisodes(ctx context.Context, userID string, limit int) ([]models.Episode, error) {
	var eps []models.Episode
	err := s.db.SelectContext(ctx, &eps, `
		SELECT * FROM episodes
		WHERE user_id = $1 AND status = 'READY'
		ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent episodes: %w", err)
	}
	return eps, nil
}

// ConsolidationCandidates returns users having at least minCount READY
// regular episodes older than minAge, with those episodes attached.
func (s *Store) ConsolidationCandidates(ctx context.Context, minCount int, minAge time.Duration) (map[string][]models.Episode, error) {
	cutoff := now().Add(-minAge)
	var eps []models.Episode
	err := s.db.SelectContext(ctx, &eps, `
		SELECT * FROM episodes
		WHERE kind = 'REGULAR' AND status = 'READY' AND created_at < $1
		ORDER BY user_id, created_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch consolidation candidates: %w", err)
	}

	byUser := make(map[string][]models.Episode)
	for _, ep := range eps {
		byUser[ep.UserID] = append(byUser[ep.UserID], ep)
	}
	for userID, list := range byUser {
		if len(list) < minCount {
			delete(byUser, userID)
		}
	}
	return byUser, nil
}

// DeleteEpisodes removes episodes folded into a consolidated summary. The
// caller is responsible for removing their vector points.
func (s *Store) DeleteEpisodes(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	q, args, err := sqlxIn(`DELETE FROM episodes WHERE id IN (?)`, ids)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(q), args...); err != nil {
		return fmt.Errorf("failed to delete consolidated episodes: %w", err)
	}
	return nil
}
