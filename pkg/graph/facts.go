package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/atlas-agent/atlas/pkg/models"
)

// MergeFact upserts a fact keyed by (user_id, subject, predicate, object).
// Re-statements reinforce: confidence never decreases on merge and the last
// source turn is updated. SUPERSEDED and RETRACTED rows are terminal for
// that exact key and never flip back; a genuinely new claim arrives with a
// different object and goes through the lifecycle engine instead.
func (s *Store) MergeFact(ctx context.Context, userID string, t models.Triple, attribution string, validUntil *time.Time) error {
	status := t.Status
	if status == "" {
		status = models.FactStatusActive
	}
	category := t.Category
	if category == "" {
		category = models.CategoryGeneral
	}

	const q = `
		INSERT INTO facts (user_id, subject, predicate, object, confidence, status,
		                   category, attribution, source_turn_id_first, source_turn_id_last, valid_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, $10)
		ON CONFLICT (user_id, subject, predicate, object) DO UPDATE SET
			confidence = GREATEST(facts.confidence, EXCLUDED.confidence),
			status = EXCLUDED.status,
			attribution = EXCLUDED.attribution,
			source_turn_id_last = EXCLUDED.source_turn_id_last,
			valid_until = EXCLUDED.valid_until,
			updated_at = now()
		WHERE facts.status NOT IN ('SUPERSEDED', 'RETRACTED')`
	_, err := s.db.ExecContext(ctx, q,
		userID, t.Subject, t.Predicate, t.Object, t.Confidence, status,
		category, attribution, t.SourceTurnID, validUntil)
	if err != nil {
		return fmt.Errorf("failed to merge fact %s: %w", t.Key(), err)
	}
	return s.touchEntities(ctx, userID, t)
}

// touchEntities maintains the user's known-entity set: every non-anchor
// endpoint of a written fact is recorded so the user's acquaintance graph
// can be queried without scanning facts.
func (s *Store) touchEntities(ctx context.Context, userID string, t models.Triple) error {
	for _, name := range []string{t.Subject, t.Object} {
		if models.IsAnchor(name) {
			continue
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO entities (user_id, name, first_seen_turn_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, name) DO UPDATE SET last_seen_at = now()`,
			userID, name, t.SourceTurnID)
		if err != nil {
			return fmt.Errorf("failed to record entity %q: %w", name, err)
		}
	}
	return nil
}

// KnownEntities returns the names the user's facts mention, most recently
// affirmed first.
func (s *Store) KnownEntities(ctx context.Context, userID string, limit int) ([]string, error) {
	var names []string
	err := s.db.SelectContext(ctx, &names, `
		SELECT name FROM entities
		WHERE user_id = $1
		ORDER BY last_seen_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch known entities: %w", err)
	}
	return names, nil
}

// ActiveFactExists reports whether the exact (subject, predicate, object)
// fact is currently ACTIVE for the user. The write gate uses this as its
// recurrence signal.
func (s *Store) ActiveFactExists(ctx context.Context, userID, subject, predicate, object string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM facts
			WHERE user_id = $1 AND subject = $2 AND predicate = $3 AND object = $4
			  AND status = 'ACTIVE')`, userID, subject, predicate, object)
	if err != nil {
		return false, fmt.Errorf("failed to check fact recurrence: %w", err)
	}
	return exists, nil
}

// ActiveFactsByPairs returns ACTIVE facts matching any of the given
// (subject, predicate) pairs, batched in one query. The lifecycle engine
// uses this to prefetch exclusive-cardinality rivals for a whole turn.
func (s *Store) ActiveFactsByPairs(ctx context.Context, userID string, pairs [][2]string) ([]models.FactRelation, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	tuples := make([]string, 0, len(pairs))
	args := []any{userID}
	for _, p := range pairs {
		tuples = append(tuples, fmt.Sprintf("($%d, $%d)", len(args)+1, len(args)+2))
		args = append(args, p[0], p[1])
	}
	q := fmt.Sprintf(`
		SELECT * FROM facts
		WHERE user_id = $1 AND status = 'ACTIVE'
		  AND (subject, predicate) IN (%s)`, strings.Join(tuples, ", "))

	var facts []models.FactRelation
	if err := s.db.SelectContext(ctx, &facts, q, args...); err != nil {
		return nil, fmt.Errorf("failed to fetch facts by pairs: %w", err)
	}
	return facts, nil
}

// SupersedeFacts marks the given facts SUPERSEDED in one statement, recording
// the turn that displaced them and closing their validity window.
func (s *Store) SupersedeFacts(ctx context.Context, ids []int64, byTurnID string) error {
	if len(ids) == 0 {
		return nil
	}
	q, args, err := sqlx.In(`
		UPDATE facts SET status = 'SUPERSEDED', superseded_by_turn_id = ?, valid_until = now(), updated_at = now()
		WHERE id IN (?)`, byTurnID, ids)
	if err != nil {
		return fmt.Errorf("failed to build supersede query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(q), args...); err != nil {
		return fmt.Errorf("failed to supersede %d facts: %w", len(ids), err)
	}
	return nil
}

// MarkConflicted flags an existing fact as CONFLICTED without changing its
// confidence, so the context builder can surface the open contradiction.
func (s *Store) MarkConflicted(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE facts SET status = 'CONFLICTED', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark fact %d conflicted: %w", id, err)
	}
	return nil
}

// ActiveFacts returns a user's ACTIVE and CONFLICTED facts ordered by
// confidence, newest first within equal confidence.
func (s *Store) ActiveFacts(ctx context.Context, userID string, limit int) ([]models.FactRelation, error) {
	var facts []models.FactRelation
	err := s.db.SelectContext(ctx, &facts, `
		SELECT * FROM facts
		WHERE user_id = $1 AND status IN ('ACTIVE', 'CONFLICTED')
		ORDER BY confidence DESC, updated_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active facts: %w", err)
	}
	return facts, nil
}

// FactsBySubject returns ACTIVE and CONFLICTED facts whose subject matches.
// The anchor subject yields the user profile.
func (s *Store) FactsBySubject(ctx context.Context, userID, subject string, limit int) ([]models.FactRelation, error) {
	var facts []models.FactRelation
	err := s.db.SelectContext(ctx, &facts, `
		SELECT * FROM facts
		WHERE user_id = $1 AND subject = $2 AND status IN ('ACTIVE', 'CONFLICTED')
		ORDER BY confidence DESC, updated_at DESC
		LIMIT $3`, userID, subject, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch facts for subject: %w", err)
	}
	return facts, nil
}

// RetractFacts marks every fact matching (subject, predicate) RETRACTED.
// Used by explicit user corrections; returns the number of rows touched.
func (s *Store) RetractFacts(ctx context.Context, userID, subject, predicate string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE facts SET status = 'RETRACTED', attribution = $4, updated_at = now()
		WHERE user_id = $1 AND subject = $2 AND predicate = $3 AND status <> 'RETRACTED'`,
		userID, subject, predicate, models.AttributionUserCorrection)
	if err != nil {
		return 0, fmt.Errorf("failed to retract facts: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeprecateEntity soft-forgets an entity: every fact touching it as subject
// or object drops out of retrieval but stays auditable.
func (s *Store) DeprecateEntity(ctx context.Context, userID, entity string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE facts SET status = 'DEPRECATED', updated_at = now()
		WHERE user_id = $1 AND (subject = $2 OR object = $2) AND status <> 'DEPRECATED'`,
		userID, entity)
	if err != nil {
		return 0, fmt.Errorf("failed to deprecate entity %q: %w", entity, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeprecateUserFacts soft-forgets the whole user subgraph. Rows remain for
// audit but no longer surface in retrieval.
func (s *Store) DeprecateUserFacts(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE facts SET status = 'DEPRECATED', updated_at = now()
		WHERE user_id = $1 AND status <> 'DEPRECATED'`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to deprecate facts for user: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteUserFacts hard-deletes every fact of a user. Irreversible; only the
// forget-all flow calls it.
func (s *Store) DeleteUserFacts(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete facts for user: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ExpireFacts deprecates facts whose valid_until has passed.
func (s *Store) ExpireFacts(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE facts SET status = 'DEPRECATED', updated_at = now()
		WHERE status = 'ACTIVE' AND valid_until IS NOT NULL AND valid_until < now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to expire facts: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DecaySoftSignals lowers soft-signal confidence by rate. A signal whose
// decayed confidence falls below floor moves to DEPRECATED; a later
// re-statement writes a fresh ACTIVE row through the merge path.
func (s *Store) DecaySoftSignals(ctx context.Context, rate, floor float64) (decayed, deprecated int64, err error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE facts SET status = 'DEPRECATED', confidence = GREATEST(0, confidence - $1), updated_at = now()
		WHERE status = 'ACTIVE' AND category = 'soft_signal' AND confidence - $1 < $2`, rate, floor)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to deprecate decayed soft signals: %w", err)
	}
	deprecated, _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `
		UPDATE facts SET confidence = confidence - $1, updated_at = now()
		WHERE status = 'ACTIVE' AND category = 'soft_signal'`, rate)
	if err != nil {
		return 0, deprecated, fmt.Errorf("failed to decay soft signals: %w", err)
	}
	decayed, _ = res.RowsAffected()
	return decayed, deprecated, nil
}

// FactsInRange returns ACTIVE facts last affirmed inside the window, newest
// first. The context builder pulls these when the user message carries a
// date-range expression.
func (s *Store) FactsInRange(ctx context.Context, userID string, from, to time.Time, limit int) ([]models.FactRelation, error) {
	var facts []models.FactRelation
	err := s.db.SelectContext(ctx, &facts, `
		SELECT * FROM facts
		WHERE user_id = $1 AND status = 'ACTIVE' AND updated_at BETWEEN $2 AND $3
		ORDER BY updated_at DESC
		LIMIT $4`, userID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch facts in range: %w", err)
	}
	return facts, nil
}
