package models

import "time"

// EpisodeKind distinguishes regular turn-window episodes from consolidated
// summaries spanning several of them.
type EpisodeKind string

// Episode kinds.
const (
	EpisodeKindRegular      EpisodeKind = "REGULAR"
	EpisodeKindConsolidated EpisodeKind = "CONSOLIDATED"
)

// EpisodeStatus is the main lifecycle state of an episode.
type EpisodeStatus string

// Episode statuses.
const (
	EpisodeStatusPending    EpisodeStatus = "PENDING"
	EpisodeStatusInProgress EpisodeStatus = "IN_PROGRESS"
	EpisodeStatusReady      EpisodeStatus = "READY"
	EpisodeStatusFailed     EpisodeStatus = "FAILED"
)

// VectorStatus tracks the embedding/indexing substate, independent of the
// main status: an episode can be READY with a failed or skipped vector.
type VectorStatus string

// Vector substates.
const (
	VectorStatusPending VectorStatus = "PENDING"
	VectorStatusReady   VectorStatus = "READY"
	VectorStatusFailed  VectorStatus = "FAILED"
	VectorStatusSkipped VectorStatus = "SKIPPED"
)

// Episode is a summarized, vector-indexed window of consecutive turns.
type Episode struct {
	ID             string        `db:"id"`
	SessionID      string        `db:"session_id"`
	UserID         string        `db:"user_id"`
	Kind           EpisodeKind   `db:"kind"`
	Status         EpisodeStatus `db:"status"`
	StartTurnIndex int           `db:"start_turn_index"`
	EndTurnIndex   int           `db:"end_turn_index"`
	Summary        *string       `db:"summary"`
	EmbeddingModel *string       `db:"embedding_model"`
	VectorStatus   VectorStatus  `db:"vector_status"`
	VectorError    *string       `db:"vector_error"`
	CreatedAt      time.Time     `db:"created_at"`
	ClaimedAt      *time.Time    `db:"claimed_at"`
}

// SummaryText returns the summary or the empty string.
func (e *Episode) SummaryText() string {
	if e.Summary == nil {
		return ""
	}
	return *e.Summary
}

// Turn is a single message within a session's transcript.
type Turn struct {
	SessionID string    `db:"session_id"`
	TurnIndex int       `db:"turn_index"`
	Role      string    `db:"role"`
	Content   string    `db:"content"`
	CreatedAt time.Time `db:"created_at"`
}

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session is a conversation thread owned by a user.
type Session struct {
	ID           string    `db:"id"`
	UserID       string    `db:"user_id"`
	TurnCount    int       `db:"turn_count"`
	Topic        string    `db:"topic"`
	ActiveDomain string    `db:"active_domain"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// DefaultTopic is the topic assigned to fresh sessions.
const DefaultTopic = "Genel"
