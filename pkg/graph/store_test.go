package graph

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-agent/atlas/pkg/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(sqlx.NewDb(db, "pgx")), mock
}

func TestMergeFact(t *testing.T) {
	store, mock := newMockStore(t)

	triple := models.Triple{
		Subject:      "__USER__::u1",
		Predicate:    "YASADIGI_YER",
		Object:       "Ankara",
		Confidence:   0.9,
		Category:     models.CategoryPersonal,
		SourceTurnID: "s1:4",
	}

	mock.ExpectExec("INSERT INTO facts").
		WithArgs("u1", triple.Subject, triple.Predicate, triple.Object, 0.9,
			models.FactStatusActive, models.CategoryPersonal,
			models.AttributionExtraction, "s1:4", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// The anchor subject is not an entity; only the object is recorded.
	mock.ExpectExec("INSERT INTO entities").
		WithArgs("u1", "Ankara", "s1:4").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.MergeFact(context.Background(), "u1", triple, models.AttributionExtraction, nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeFactNeverRevivesTerminalRows(t *testing.T) {
	store, mock := newMockStore(t)

	triple := models.Triple{Subject: "__USER__::u1", Predicate: "YASADIGI_YER", Object: "Ankara", Confidence: 0.9}

	// The upsert must carry the terminal-status guard so a SUPERSEDED or
	// RETRACTED row is never flipped back to ACTIVE by a re-statement.
	mock.ExpectExec(`WHERE facts.status NOT IN \('SUPERSEDED', 'RETRACTED'\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO entities").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.MergeFact(context.Background(), "u1", triple, models.AttributionExtraction, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeFactDefaultsStatusAndCategory(t *testing.T) {
	store, mock := newMockStore(t)

	triple := models.Triple{Subject: "a", Predicate: "SEVER", Object: "b", Confidence: 0.7}

	mock.ExpectExec("INSERT INTO facts").
		WithArgs("u1", "a", "SEVER", "b", 0.7,
			models.FactStatusActive, models.CategoryGeneral,
			models.AttributionExtraction, "", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO entities").
		WithArgs("u1", "a", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO entities").
		WithArgs("u1", "b", "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.MergeFact(context.Background(), "u1", triple, models.AttributionExtraction, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSupersedeFacts(t *testing.T) {
	store, mock := newMockStore(t)

	// Superseding closes the validity window in the same statement.
	mock.ExpectExec(`UPDATE facts SET status = 'SUPERSEDED', superseded_by_turn_id = \$1, valid_until = now\(\)`).
		WithArgs("s1:9", int64(3), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, store.SupersedeFacts(context.Background(), []int64{3, 7}, "s1:9"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSupersedeFactsEmptyIsNoop(t *testing.T) {
	store, mock := newMockStore(t)
	require.NoError(t, store.SupersedeFacts(context.Background(), nil, "s1:9"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActiveFactsByPairs(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "user_id", "subject", "predicate", "object", "confidence", "status", "category", "attribution", "source_turn_id_first", "source_turn_id_last", "valid_until", "superseded_by_turn_id", "created_at", "updated_at"}).
		AddRow(int64(1), "u1", "__USER__::u1", "YASADIGI_YER", "Ankara", 0.9, "ACTIVE", "personal", "EXTRACTION", "s1:1", "s1:1", nil, nil, time.Now(), time.Now())

	mock.ExpectQuery("SELECT \\* FROM facts").
		WithArgs("u1", "__USER__::u1", "YASADIGI_YER").
		WillReturnRows(rows)

	facts, err := store.ActiveFactsByPairs(context.Background(), "u1", [][2]string{{"__USER__::u1", "YASADIGI_YER"}})
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "Ankara", facts[0].Object)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryAcquireLock(t *testing.T) {
	store, mock := newMockStore(t)

	t.Run("acquired", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO scheduler_locks").
			WithArgs("global_scheduler", "replica-a", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := store.TryAcquireLock(context.Background(), "global_scheduler", "replica-a", 90*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("held by another replica", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO scheduler_locks").
			WithArgs("global_scheduler", "replica-b", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := store.TryAcquireLock(context.Background(), "global_scheduler", "replica-b", 90*time.Second)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimPendingEpisodeEmptyQueue(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("UPDATE episodes SET status = 'IN_PROGRESS'").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	ep, err := store.ClaimPendingEpisode(context.Background())
	require.NoError(t, err)
	assert.Nil(t, ep)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDueTasksCooldown(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT \\* FROM prospective_tasks").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "raw_text", "due_at_raw", "due_at", "status", "last_notified_at", "notified_count", "created_at"}).
			AddRow("t1", "u1", "fatura öde", "yarın", time.Now().Add(-time.Hour), "OPEN", nil, 0, time.Now()))

	tasks, err := store.DueTasks(context.Background(), time.Hour)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "fatura öde", tasks[0].RawText)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecaySoftSignals(t *testing.T) {
	store, mock := newMockStore(t)

	// Signals that would land below the floor are deprecated first, then the
	// survivors decay.
	mock.ExpectExec("UPDATE facts SET status = 'DEPRECATED', confidence = GREATEST").
		WithArgs(0.02, 0.2).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("UPDATE facts SET confidence = confidence - ").
		WithArgs(0.02).
		WillReturnResult(sqlmock.NewResult(0, 5))

	decayed, deprecated, err := store.DecaySoftSignals(context.Background(), 0.02, 0.2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), decayed)
	assert.Equal(t, int64(2), deprecated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendTurn(t *testing.T) {
	store, mock := newMockStore(t)

	t.Run("user turn advances the index", func(t *testing.T) {
		mock.ExpectQuery(`UPDATE sessions SET turn_count = turn_count \+ 1`).
			WithArgs("s1").
			WillReturnRows(sqlmock.NewRows([]string{"turn_count"}).AddRow(3))
		mock.ExpectExec("INSERT INTO turns").
			WithArgs("s1", "u1", 3, models.RoleUser, "merhaba").
			WillReturnResult(sqlmock.NewResult(0, 1))

		idx, err := store.AppendTurn(context.Background(),
			models.Turn{SessionID: "s1", Role: models.RoleUser, Content: "merhaba"}, "u1")
		require.NoError(t, err)
		assert.Equal(t, 3, idx)
	})

	t.Run("assistant reply shares its user turn's index", func(t *testing.T) {
		mock.ExpectQuery("SELECT turn_count FROM sessions").
			WithArgs("s1").
			WillReturnRows(sqlmock.NewRows([]string{"turn_count"}).AddRow(3))
		mock.ExpectExec("INSERT INTO turns").
			WithArgs("s1", "u1", 3, models.RoleAssistant, "selam").
			WillReturnResult(sqlmock.NewResult(0, 1))

		idx, err := store.AppendTurn(context.Background(),
			models.Turn{SessionID: "s1", Role: models.RoleAssistant, Content: "selam"}, "u1")
		require.NoError(t, err)
		assert.Equal(t, 3, idx)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentTurnsOrdersUserBeforeAssistant(t *testing.T) {
	store, mock := newMockStore(t)

	// Both roles share an index; chronological order needs role DESC so the
	// user turn precedes the assistant reply.
	mock.ExpectQuery(`ORDER BY turn_index ASC, role DESC`).
		WithArgs("s1", 10).
		WillReturnRows(sqlmock.NewRows([]string{"session_id", "turn_index", "role", "content", "created_at"}).
			AddRow("s1", 1, "user", "merhaba", time.Now()).
			AddRow("s1", 1, "assistant", "selam", time.Now()))

	turns, err := store.RecentTurns(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, models.RoleUser, turns[0].Role)
	assert.Equal(t, models.RoleAssistant, turns[1].Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyRetentionSweepsAllTables(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM turns").WillReturnResult(sqlmock.NewResult(0, 10))
	mock.ExpectExec("DELETE FROM episodes WHERE status = 'FAILED'").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM notifications WHERE read = TRUE").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM prospective_tasks WHERE status IN \('DONE', 'CLOSED'\)`).WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM facts WHERE status = 'DEPRECATED'").WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec("DELETE FROM moods WHERE detected_at").WillReturnResult(sqlmock.NewResult(0, 5))

	result, err := store.ApplyRetention(context.Background(), RetentionWindows{
		Turns:         30 * 24 * time.Hour,
		Episodes:      7 * 24 * time.Hour,
		Notifications: 14 * 24 * time.Hour,
		Tasks:         30 * 24 * time.Hour,
		Facts:         180 * 24 * time.Hour,
		Moods:         7 * 24 * time.Hour,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 4, result.Facts)
	assert.EqualValues(t, 5, result.Moods)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActiveFactExists(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("u1", "__USER__::u1", "SEVER", "kahve").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.ActiveFactExists(context.Background(), "u1", "__USER__::u1", "SEVER", "kahve")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
