package graph

import (
	"context"
	"fmt"
	"time"
)

// RetentionWindows holds the per-table age cutoffs for one maintenance sweep.
type RetentionWindows struct {
	Turns         time.Duration
	Episodes      time.Duration
	Notifications time.Duration
	Tasks         time.Duration
	Facts         time.Duration
	Moods         time.Duration
}

// RetentionResult counts rows removed by one maintenance sweep.
type RetentionResult struct {
	Turns         int64
	Episodes      int64
	Notifications int64
	Tasks         int64
	Facts         int64
	Moods         int64
}

// ApplyRetention deletes records older than the configured windows: raw
// turns, failed episodes, read notifications, finished tasks, facts that
// decay or expiry already demoted, and stale mood rows.
func (s *Store) ApplyRetention(ctx context.Context, w RetentionWindows) (RetentionResult, error) {
	var result RetentionResult

	steps := []struct {
		name   string
		query  string
		cutoff time.Time
		out    *int64
	}{
		{"turns", `DELETE FROM turns WHERE created_at < $1`, now().Add(-w.Turns), &result.Turns},
		{"episodes", `DELETE FROM episodes WHERE status = 'FAILED' AND created_at < $1`, now().Add(-w.Episodes), &result.Episodes},
		{"notifications", `DELETE FROM notifications WHERE read = TRUE AND created_at < $1`, now().Add(-w.Notifications), &result.Notifications},
		{"tasks", `DELETE FROM prospective_tasks WHERE status IN ('DONE', 'CLOSED') AND created_at < $1`, now().Add(-w.Tasks), &result.Tasks},
		{"facts", `DELETE FROM facts WHERE status = 'DEPRECATED' AND updated_at < $1`, now().Add(-w.Facts), &result.Facts},
		{"moods", `DELETE FROM moods WHERE detected_at < $1`, now().Add(-w.Moods), &result.Moods},
	}
	for _, step := range steps {
		res, err := s.db.ExecContext(ctx, step.query, step.cutoff)
		if err != nil {
			return result, fmt.Errorf("retention sweep failed on %s: %w", step.name, err)
		}
		*step.out, _ = res.RowsAffected()
	}
	return result, nil
}

// PurgeUser removes every record of a user across all tables. The forget-all
// flow calls this; vector points are deleted separately by the caller.
func (s *Store) PurgeUser(ctx context.Context, userID string) error {
	tables := []string{
		`DELETE FROM facts WHERE user_id = $1`,
		`DELETE FROM entities WHERE user_id = $1`,
		`DELETE FROM turns WHERE user_id = $1`,
		`DELETE FROM sessions WHERE user_id = $1`,
		`DELETE FROM episodes WHERE user_id = $1`,
		`DELETE FROM episode_vectors WHERE user_id = $1`,
		`DELETE FROM prospective_tasks WHERE user_id = $1`,
		`DELETE FROM notifications WHERE user_id = $1`,
		`DELETE FROM moods WHERE user_id = $1`,
	}
	for _, q := range tables {
		if _, err := s.db.ExecContext(ctx, q, userID); err != nil {
			return fmt.Errorf("failed to purge user data: %w", err)
		}
	}
	return nil
}
