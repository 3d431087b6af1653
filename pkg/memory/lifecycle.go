package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/atlas-agent/atlas/pkg/catalog"
	"github.com/atlas-agent/atlas/pkg/config"
	"github.com/atlas-agent/atlas/pkg/models"
)

// FactStore is the slice of the graph store the lifecycle engine needs.
type FactStore interface {
	ActiveFactsByPairs(ctx context.Context, userID string, pairs [][2]string) ([]models.FactRelation, error)
	SupersedeFacts(ctx context.Context, ids []int64, byTurnID string) error
	MarkConflicted(ctx context.Context, id int64) error
	MergeFact(ctx context.Context, userID string, t models.Triple, attribution string, validUntil *time.Time) error
	RetractFacts(ctx context.Context, userID, subject, predicate string) (int64, error)
}

// Outcome describes what the engine did with one triple.
type Outcome string

// Apply outcomes.
const (
	OutcomeWritten    Outcome = "written"
	OutcomeSuperseded Outcome = "superseded_existing"
	OutcomeConflicted Outcome = "conflicted"
	OutcomeKeptOld    Outcome = "kept_existing"
	OutcomeDiscarded  Outcome = "discarded"
)

// Candidate pairs a sanitized triple with its catalog entry and the gate's
// verdict.
type Candidate struct {
	Triple  models.Triple
	Entry   *catalog.Entry
	Verdict Verdict
}

// Engine resolves how incoming triples coexist with stored facts.
type Engine struct {
	store FactStore
	cfg   *config.MemoryConfig
}

// NewEngine builds the lifecycle engine.
func NewEngine(store FactStore, cfg *config.MemoryConfig) *Engine {
	return &Engine{store: store, cfg: cfg}
}

// Apply writes one turn's candidates. Exclusive-cardinality rivals are
// prefetched in a single batch; each collision resolves to supersede,
// conflict, or keep-old depending on the confidence of both sides.
func (e *Engine) Apply(ctx context.Context, userID, turnID string, candidates []Candidate) (map[string]Outcome, error) {
	outcomes := make(map[string]Outcome, len(candidates))

	var pairs [][2]string
	seen := map[string]bool{}
	for _, c := range candidates {
		if c.Verdict.Action != ActionStore || c.Entry.Type != models.CardinalityExclusive {
			continue
		}
		if key := c.Triple.PairKey(); !seen[key] {
			seen[key] = true
			pairs = append(pairs, [2]string{c.Triple.Subject, c.Triple.Predicate})
		}
	}
	existing, err := e.store.ActiveFactsByPairs(ctx, userID, pairs)
	if err != nil {
		return nil, fmt.Errorf("failed to prefetch exclusive rivals: %w", err)
	}
	byPair := make(map[string][]models.FactRelation, len(existing))
	for _, f := range existing {
		byPair[f.PairKey()] = append(byPair[f.PairKey()], f)
	}

	var toSupersede []int64
	type write struct {
		triple     models.Triple
		validUntil *time.Time
	}
	var writes []write

	for _, c := range candidates {
		t := c.Triple
		t.SourceTurnID = turnID

		if c.Verdict.Action != ActionStore {
			outcomes[t.Key()] = OutcomeDiscarded
			continue
		}
		t.Category = resolveCategory(t, c.Entry)

		if c.Entry.Type != models.CardinalityExclusive {
			writes = append(writes, write{t, c.Verdict.ValidUntil})
			outcomes[t.Key()] = OutcomeWritten
			continue
		}

		outcome := OutcomeWritten
		for _, rival := range byPair[t.PairKey()] {
			if rival.Object == t.Object {
				continue // re-statement, merge reinforces
			}
			switch {
			case rival.Confidence >= e.cfg.ConflictThreshold && t.Confidence >= e.cfg.ConflictThreshold:
				// Both sides are confident: keep both, flag the contradiction
				// for the context builder to surface.
				if err := e.store.MarkConflicted(ctx, rival.ID); err != nil {
					return outcomes, err
				}
				t.Status = models.FactStatusConflicted
				outcome = OutcomeConflicted
			case t.Confidence >= rival.Confidence:
				toSupersede = append(toSupersede, rival.ID)
				outcome = OutcomeSuperseded
			default:
				// Incoming is weaker than what we already believe.
				outcome = OutcomeKeptOld
			}
		}
		if outcome == OutcomeKeptOld {
			outcomes[t.Key()] = outcome
			continue
		}
		writes = append(writes, write{t, c.Verdict.ValidUntil})
		outcomes[t.Key()] = outcome
	}

	// Supersede losers before writing winners so a crash between the two
	// leaves no window where both rivals are ACTIVE.
	if err := e.store.SupersedeFacts(ctx, toSupersede, turnID); err != nil {
		return outcomes, err
	}
	for _, w := range writes {
		if err := e.store.MergeFact(ctx, userID, w.triple, models.AttributionExtraction, w.validUntil); err != nil {
			return outcomes, err
		}
	}

	if len(writes) > 0 || len(toSupersede) > 0 {
		slog.Debug("Lifecycle applied",
			"user_id", userID,
			"written", len(writes),
			"superseded", len(toSupersede))
	}
	return outcomes, nil
}

// resolveCategory keeps an explicit soft-signal demotion, otherwise bridges
// from the catalog entry.
func resolveCategory(t models.Triple, entry *catalog.Entry) models.FactCategory {
	if t.Category == models.CategorySoftSignal {
		return models.CategorySoftSignal
	}
	if entry.Category == "identity" {
		return models.CategoryIdentity
	}
	return entry.BridgeCategory()
}
