package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/atlas-agent/atlas/pkg/models"
)

// GetOrCreateSession loads the session, inserting a fresh one with the
// default topic when absent. Concurrent creation is resolved by the
// ON CONFLICT no-op plus the follow-up read.
func (s *Store) GetOrCreateSession(ctx context.Context, sessionID, userID string) (*models.Session, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, topic) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`, sessionID, userID, models.DefaultTopic)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	var session models.Session
	if err := s.db.GetContext(ctx, &session,
		`SELECT * FROM sessions WHERE id = $1`, sessionID); err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &session, nil
}

// AppendTurn stores one transcript message and returns the session's turn
// count, which is also the stored turn_index. A user turn advances the count
// and takes the new value as its index; the assistant reply shares its user
// turn's index, distinguished by role. The bump serializes concurrent
// appends, so indexes are unique and monotonic per session.
func (s *Store) AppendTurn(ctx context.Context, turn models.Turn, userID string) (int, error) {
	var count int
	if turn.Role == models.RoleUser {
		err := s.db.GetContext(ctx, &count, `
			UPDATE sessions SET turn_count = turn_count + 1, updated_at = now()
			WHERE id = $1
			RETURNING turn_count`, turn.SessionID)
		if err != nil {
			return 0, fmt.Errorf("failed to bump turn count: %w", err)
		}
	} else {
		err := s.db.GetContext(ctx, &count,
			`SELECT turn_count FROM sessions WHERE id = $1`, turn.SessionID)
		if err != nil {
			return 0, fmt.Errorf("failed to read turn count: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (session_id, user_id, turn_index, role, content)
		VALUES ($1, $2, $3, $4, $5)`,
		turn.SessionID, userID, count, turn.Role, turn.Content)
	if err != nil {
		return 0, fmt.Errorf("failed to append turn: %w", err)
	}
	return count, nil
}

// RecentTurns returns the last limit turns of a session in chronological
// order. Within one index the user turn precedes the assistant reply, so the
// role sorts descending ('user' > 'assistant').
func (s *Store) RecentTurns(ctx context.Context, sessionID string, limit int) ([]models.Turn, error) {
	var turns []models.Turn
	err := s.db.SelectContext(ctx, &turns, `
		SELECT session_id, turn_index, role, content, created_at FROM (
			SELECT session_id, turn_index, role, content, created_at
			FROM turns WHERE session_id = $1
			ORDER BY turn_index DESC, role ASC LIMIT $2
		) recent ORDER BY turn_index ASC, role DESC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent turns: %w", err)
	}
	return turns, nil
}

// TurnWindow returns the turns of one episode window, both roles, ordered.
func (s *Store) TurnWindow(ctx context.Context, sessionID string, startIndex, endIndex int) ([]models.Turn, error) {
	var turns []models.Turn
	err := s.db.SelectContext(ctx, &turns, `
		SELECT session_id, turn_index, role, content, created_at
		FROM turns
		WHERE session_id = $1 AND turn_index BETWEEN $2 AND $3
		ORDER BY turn_index ASC, role DESC`, sessionID, startIndex, endIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch turn window: %w", err)
	}
	return turns, nil
}

// UpdateSessionTopic persists the detected topic and active domain.
func (s *Store) UpdateSessionTopic(ctx context.Context, sessionID, topic, activeDomain string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET topic = $2, active_domain = $3, updated_at = now()
		WHERE id = $1`, sessionID, topic, activeDomain)
	if err != nil {
		return fmt.Errorf("failed to update session topic: %w", err)
	}
	return nil
}

// SessionTopic returns the stored topic and active domain, defaults when the
// session does not exist yet.
func (s *Store) SessionTopic(ctx context.Context, sessionID string) (topic, activeDomain string, err error) {
	var row struct {
		Topic        string `db:"topic"`
		ActiveDomain string `db:"active_domain"`
	}
	err = s.db.GetContext(ctx, &row,
		`SELECT topic, active_domain FROM sessions WHERE id = $1`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DefaultTopic, "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to load session topic: %w", err)
	}
	return row.Topic, row.ActiveDomain, nil
}
