// Package memory decides what extracted knowledge is worth keeping and how
// it coexists with what is already stored: the write gate scores utility and
// stability, the lifecycle engine resolves exclusive-cardinality collisions,
// and the correction flow applies explicit user overrides.
package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/atlas-agent/atlas/pkg/catalog"
	"github.com/atlas-agent/atlas/pkg/config"
	"github.com/atlas-agent/atlas/pkg/models"
)

// Action is the gate's verdict for one triple.
type Action int

// Gate actions.
const (
	ActionDiscard Action = iota
	ActionStore
	ActionStoreProspective
)

// Verdict carries the action plus the scores that produced it, for tracing.
type Verdict struct {
	Action     Action
	Utility    float64
	Stability  float64
	ValidUntil *time.Time
	Reason     string
}

// recurrenceReader answers whether an identical ACTIVE fact already exists.
type recurrenceReader interface {
	ActiveFactExists(ctx context.Context, userID, subject, predicate, object string) (bool, error)
}

// Gate scores triples against the configured thresholds.
type Gate struct {
	cfg   *config.MemoryConfig
	facts recurrenceReader
	clock func() time.Time
}

// NewGate builds the write gate. facts may be nil; recurrence then never
// rescues a low-confidence triple.
func NewGate(cfg *config.MemoryConfig, facts recurrenceReader) *Gate {
	return &Gate{cfg: cfg, facts: facts, clock: time.Now}
}

// utilityByCategory scores how useful a predicate category is to future
// retrieval. Transient state and emotion are near-worthless tomorrow;
// identity is gold.
var utilityByCategory = map[string]float64{
	"identity":     0.9,
	"location":     0.8,
	"preference":   0.8,
	"relationship": 0.8,
	"ownership":    0.8,
	"goals":        0.7,
	"event":        0.7,
	"state":        0.3,
	"emotional":    0.3,
}

// stabilityByDurability scores how long the fact is expected to hold.
var stabilityByDurability = map[models.Durability]float64{
	models.DurabilityStatic:    1.0,
	models.DurabilityLongTerm:  0.8,
	models.DurabilitySession:   0.4,
	models.DurabilityEphemeral: 0.2,
}

// Evaluate applies the decision table. Prospective predicates pass through
// regardless of memory mode because a reminder is an explicit user request,
// not ambient profiling. Everything else requires writes to be enabled.
func (g *Gate) Evaluate(ctx context.Context, userID string, t models.Triple, entry *catalog.Entry, policy models.UserPolicy) Verdict {
	if entry.Durability == models.DurabilityProspective {
		return Verdict{Action: ActionStoreProspective, Utility: 1, Stability: 1, Reason: "prospective"}
	}
	if !policy.WriteEnabled() {
		return Verdict{Action: ActionDiscard, Reason: "memory off"}
	}
	if entry.Durability == models.DurabilityEphemeral {
		return Verdict{Action: ActionDiscard, Reason: "ephemeral"}
	}

	utility, ok := utilityByCategory[entry.Category]
	if !ok {
		utility = 0.5
	}
	stability, ok := stabilityByDurability[entry.Durability]
	if !ok {
		stability = 0.5
	}

	// Session-durability facts never qualify for long-term storage; they
	// are kept with an expiry and swept once valid_until passes.
	if entry.Durability == models.DurabilitySession {
		return g.sessionScoped(policy, utility, stability)
	}

	// Soft signals ride on a higher confidence bar than hard facts.
	threshold := g.cfg.ConfidenceThreshold
	if t.Category == models.CategorySoftSignal {
		threshold = g.cfg.SoftSignalThreshold
	}
	if t.Confidence < threshold {
		// A restated claim earns trust its single mention lacked: an
		// identical ACTIVE fact plus useful category admits it anyway.
		if utility >= g.cfg.UtilityThreshold && g.recurs(ctx, userID, t) {
			return Verdict{Action: ActionStore, Utility: utility, Stability: stability, Reason: "recurring"}
		}
		return Verdict{Action: ActionDiscard, Utility: utility, Stability: stability, Reason: "confidence below threshold"}
	}
	// A fact must clear at least one of the two bars: durable trivia and
	// useful short-lived state both pass, fleeting trivia does not.
	if utility < g.cfg.UtilityThreshold && stability < g.cfg.StabilityThreshold {
		return Verdict{Action: ActionDiscard, Utility: utility, Stability: stability, Reason: "low utility and stability"}
	}

	verdict := Verdict{Action: ActionStore, Utility: utility, Stability: stability}
	if stability < g.cfg.StabilityThreshold {
		scoped := g.sessionScoped(policy, utility, stability)
		verdict.ValidUntil = scoped.ValidUntil
		verdict.Reason = scoped.Reason
	}
	return verdict
}

func (g *Gate) sessionScoped(policy models.UserPolicy, utility, stability float64) Verdict {
	ttl := policy.SessionTTL
	if ttl == 0 {
		ttl = g.cfg.SessionTTL
	}
	until := g.clock().Add(ttl)
	return Verdict{Action: ActionStore, Utility: utility, Stability: stability, ValidUntil: &until, Reason: "session-scoped"}
}

func (g *Gate) recurs(ctx context.Context, userID string, t models.Triple) bool {
	if g.facts == nil {
		return false
	}
	exists, err := g.facts.ActiveFactExists(ctx, userID, t.Subject, t.Predicate, t.Object)
	if err != nil {
		slog.Warn("Recurrence lookup failed", "user_id", userID, "error", err)
		return false
	}
	return exists
}
