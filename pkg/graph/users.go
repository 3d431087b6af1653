package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/atlas-agent/atlas/pkg/models"
)

// GetOrCreateUserPolicy loads the user's memory policy, creating the row with
// the given default mode on first contact.
func (s *Store) GetOrCreateUserPolicy(ctx context.Context, userID string, defaultMode models.MemoryMode) (models.UserPolicy, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, memory_mode) VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING`, userID, defaultMode)
	if err != nil {
		return models.UserPolicy{}, fmt.Errorf("failed to create user: %w", err)
	}

	var policy models.UserPolicy
	err = s.db.GetContext(ctx, &policy, `
		SELECT user_id, memory_mode, timezone, notify_opt_in
		FROM users WHERE user_id = $1`, userID)
	if err != nil {
		return models.UserPolicy{}, fmt.Errorf("failed to load user policy: %w", err)
	}
	return policy, nil
}

// UpdateUserPolicy persists mode, timezone, and opt-in changes.
func (s *Store) UpdateUserPolicy(ctx context.Context, policy models.UserPolicy) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET memory_mode = $2, timezone = $3, notify_opt_in = $4, updated_at = now()
		WHERE user_id = $1`,
		policy.UserID, policy.Mode, policy.Timezone, policy.NotifyOptIn)
	if err != nil {
		return fmt.Errorf("failed to update user policy: %w", err)
	}
	return nil
}

// AllUserIDs returns every known user id. Batch jobs iterate this.
func (s *Store) AllUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT user_id FROM users ORDER BY user_id`); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return ids, nil
}

// SetMood upserts the user's last detected emotional state.
func (s *Store) SetMood(ctx context.Context, mood models.Mood) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO moods (user_id, label, detected_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET label = EXCLUDED.label, detected_at = EXCLUDED.detected_at`,
		mood.UserID, mood.Label, mood.DetectedAt)
	if err != nil {
		return fmt.Errorf("failed to set mood: %w", err)
	}
	return nil
}

// GetMood returns the stored mood, nil when none was recorded.
func (s *Store) GetMood(ctx context.Context, userID string) (*models.Mood, error) {
	var mood models.Mood
	err := s.db.GetContext(ctx, &mood,
		`SELECT user_id, label, detected_at FROM moods WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load mood: %w", err)
	}
	return &mood, nil
}
