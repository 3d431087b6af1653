// Package models contains the typed domain objects shared across the Atlas
// core: triples, fact relations, episodes, plans, tasks, and request state.
package models

import (
	"fmt"
	"strings"
	"time"
)

// MemoryMode controls how much of a user's conversation is persisted.
type MemoryMode string

// Memory modes.
const (
	MemoryModeOff      MemoryMode = "OFF"
	MemoryModeStandard MemoryMode = "STANDARD"
	MemoryModeFull     MemoryMode = "FULL"
)

// FactStatus is the lifecycle state of a stored fact relation.
type FactStatus string

// Fact lifecycle states.
const (
	FactStatusActive     FactStatus = "ACTIVE"
	FactStatusSuperseded FactStatus = "SUPERSEDED"
	FactStatusConflicted FactStatus = "CONFLICTED"
	FactStatusRetracted  FactStatus = "RETRACTED"
	FactStatusDeprecated FactStatus = "DEPRECATED"
)

// FactCategory is the coarse grouping used by retrieval and the write gate.
type FactCategory string

// Fact categories.
const (
	CategoryIdentity   FactCategory = "identity"
	CategoryPersonal   FactCategory = "personal"
	CategoryGeneral    FactCategory = "general"
	CategorySoftSignal FactCategory = "soft_signal"
)

// Durability classifies how long a predicate's facts are expected to hold.
type Durability string

// Durability classes.
const (
	DurabilityStatic      Durability = "STATIC"
	DurabilityLongTerm    Durability = "LONG_TERM"
	DurabilitySession     Durability = "SESSION"
	DurabilityEphemeral   Durability = "EPHEMERAL"
	DurabilityProspective Durability = "PROSPECTIVE"
)

// Cardinality governs whether a new object supersedes or coexists with an
// existing fact for the same (subject, predicate).
type Cardinality string

// Cardinality classes.
const (
	CardinalityExclusive Cardinality = "EXCLUSIVE"
	CardinalityAdditive  Cardinality = "ADDITIVE"
	CardinalityTemporal  Cardinality = "TEMPORAL"
	CardinalityMeta      Cardinality = "META"
)

// AnchorPrefix is the name prefix of the per-user anchor entity.
const AnchorPrefix = "__USER__::"

// AnchorName returns the canonical anchor entity name for a user.
// The user id portion is lowercased so the name is case-stable.
func AnchorName(userID string) string {
	return AnchorPrefix + strings.ToLower(userID)
}

// IsAnchor reports whether the entity name is a user anchor.
func IsAnchor(name string) bool {
	return strings.HasPrefix(name, AnchorPrefix)
}

// Triple is a directed, typed statement extracted from user text, scoped to a
// user. It is the unit flowing through the sanitizer, the write gate, and the
// lifecycle engine before it becomes a FactRelation.
type Triple struct {
	Subject    string       `json:"subject"`
	Predicate  string       `json:"predicate"`
	Object     string       `json:"object"`
	Confidence float64      `json:"confidence"`
	Category   FactCategory `json:"category,omitempty"`
	// Status is normally empty (written as ACTIVE); the lifecycle engine sets
	// CONFLICTED when the triple coexists with a contradicting fact.
	Status       FactStatus `json:"-"`
	SourceTurnID string     `json:"-"`
}

// Key returns the identity of the triple within a user's graph.
func (t Triple) Key() string {
	return t.Subject + "\x1f" + t.Predicate + "\x1f" + t.Object
}

// PairKey returns the (subject, predicate) pair identity used for EXCLUSIVE
// cardinality checks.
func (t Triple) PairKey() string {
	return t.Subject + "\x1f" + t.Predicate
}

func (t Triple) String() string {
	return fmt.Sprintf("(%s, %s, %s)@%.2f", t.Subject, t.Predicate, t.Object, t.Confidence)
}

// FactRelation is a persisted typed edge (subject)-[FACT]->(object) with
// provenance, status, and confidence.
type FactRelation struct {
	ID                 int64        `db:"id"`
	UserID             string       `db:"user_id"`
	Subject            string       `db:"subject"`
	Predicate          string       `db:"predicate"`
	Object             string       `db:"object"`
	Confidence         float64      `db:"confidence"`
	Status             FactStatus   `db:"status"`
	Category           FactCategory `db:"category"`
	Attribution        string       `db:"attribution"`
	CreatedAt          time.Time    `db:"created_at"`
	UpdatedAt          time.Time    `db:"updated_at"`
	SourceTurnIDFirst  string       `db:"source_turn_id_first"`
	SourceTurnIDLast   string       `db:"source_turn_id_last"`
	ValidUntil         *time.Time   `db:"valid_until"`
	SupersededByTurnID *string      `db:"superseded_by_turn_id"`
}

// PairKey returns the (subject, predicate) identity of the relation.
func (f FactRelation) PairKey() string {
	return f.Subject + "\x1f" + f.Predicate
}

// Attribution values recorded on fact relations.
const (
	AttributionExtraction     = "EXTRACTION"
	AttributionUserCorrection = "USER_CORRECTION"
)
