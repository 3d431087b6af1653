package graph

import (
	"context"
	"fmt"
	"time"
)

// TryAcquireLock attempts to take or renew the named scheduler lock for
// holder with the given TTL. The compare-and-set succeeds when the lock row
// is absent, expired, or already held by this holder. Returns true when the
// caller is the leader after the call.
func (s *Store) TryAcquireLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	expires := now().Add(ttl)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduler_locks (name, holder, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
		WHERE scheduler_locks.holder = EXCLUDED.holder OR scheduler_locks.expires_at < now()`,
		name, holder, expires)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %q: %w", name, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ReleaseLock gives the lock up early during graceful shutdown. Only the
// current holder's row is removed.
func (s *Store) ReleaseLock(ctx context.Context, name, holder string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM scheduler_locks WHERE name = $1 AND holder = $2`, name, holder)
	if err != nil {
		return fmt.Errorf("failed to release lock %q: %w", name, err)
	}
	return nil
}
