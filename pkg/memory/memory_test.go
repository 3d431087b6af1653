package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-agent/atlas/pkg/catalog"
	"github.com/atlas-agent/atlas/pkg/config"
	"github.com/atlas-agent/atlas/pkg/models"
)

// fakeFactStore records lifecycle operations in memory.
type fakeFactStore struct {
	active     []models.FactRelation
	merged     []models.Triple
	attributions []string
	superseded []int64
	conflicted []int64
	retracted  []string
	validUntil []*time.Time
}

func (f *fakeFactStore) ActiveFactsByPairs(_ context.Context, _ string, pairs [][2]string) ([]models.FactRelation, error) {
	var out []models.FactRelation
	for _, fact := range f.active {
		for _, p := range pairs {
			if fact.Subject == p[0] && fact.Predicate == p[1] {
				out = append(out, fact)
			}
		}
	}
	return out, nil
}

func (f *fakeFactStore) SupersedeFacts(_ context.Context, ids []int64, _ string) error {
	f.superseded = append(f.superseded, ids...)
	return nil
}

func (f *fakeFactStore) MarkConflicted(_ context.Context, id int64) error {
	f.conflicted = append(f.conflicted, id)
	return nil
}

func (f *fakeFactStore) MergeFact(_ context.Context, _ string, t models.Triple, attribution string, validUntil *time.Time) error {
	f.merged = append(f.merged, t)
	f.attributions = append(f.attributions, attribution)
	f.validUntil = append(f.validUntil, validUntil)
	return nil
}

func (f *fakeFactStore) RetractFacts(_ context.Context, _, subject, predicate string) (int64, error) {
	f.retracted = append(f.retracted, subject+"|"+predicate)
	return 1, nil
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	return catalog.Load("")
}

func entry(t *testing.T, cat *catalog.Catalog, key string) *catalog.Entry {
	t.Helper()
	e, ok := cat.Get(key)
	require.True(t, ok, "catalog entry %s", key)
	return e
}

func stdPolicy() models.UserPolicy {
	return models.UserPolicy{UserID: "u1", Mode: models.MemoryModeStandard}
}

// fakeRecurrence answers the gate's identical-fact lookup from memory.
type fakeRecurrence struct{ exists bool }

func (f fakeRecurrence) ActiveFactExists(_ context.Context, _, _, _, _ string) (bool, error) {
	return f.exists, nil
}

func TestGateDecisionTable(t *testing.T) {
	cat := testCatalog(t)
	gate := NewGate(config.DefaultMemoryConfig(), nil)
	ctx := context.Background()

	t.Run("memory off discards", func(t *testing.T) {
		v := gate.Evaluate(ctx, "u1",
			models.Triple{Subject: "a", Predicate: "SEVER", Object: "b", Confidence: 0.9},
			entry(t, cat, "SEVER"),
			models.UserPolicy{Mode: models.MemoryModeOff})
		assert.Equal(t, ActionDiscard, v.Action)
	})

	t.Run("prospective passes even with memory off", func(t *testing.T) {
		v := gate.Evaluate(ctx, "u1",
			models.Triple{Subject: "a", Predicate: "HATIRLATMA", Object: "fatura", Confidence: 0.9},
			entry(t, cat, "HATIRLATMA"),
			models.UserPolicy{Mode: models.MemoryModeOff})
		assert.Equal(t, ActionStoreProspective, v.Action)
	})

	t.Run("ephemeral discards", func(t *testing.T) {
		v := gate.Evaluate(ctx, "u1",
			models.Triple{Subject: "a", Predicate: "KONUSUYOR", Object: "b", Confidence: 0.9},
			entry(t, cat, "KONUSUYOR"), stdPolicy())
		assert.Equal(t, ActionDiscard, v.Action)
	})

	t.Run("identity fact stores without expiry", func(t *testing.T) {
		v := gate.Evaluate(ctx, "u1",
			models.Triple{Subject: "a", Predicate: "ISIM", Object: "Deniz", Confidence: 0.95},
			entry(t, cat, "ISIM"), stdPolicy())
		assert.Equal(t, ActionStore, v.Action)
		assert.Nil(t, v.ValidUntil)
	})

	t.Run("session durability stores with expiry", func(t *testing.T) {
		v := gate.Evaluate(ctx, "u1",
			models.Triple{Subject: "a", Predicate: "ISTIYOR", Object: "tatil", Confidence: 0.8},
			entry(t, cat, "ISTIYOR"), stdPolicy())
		assert.Equal(t, ActionStore, v.Action)
		require.NotNil(t, v.ValidUntil)
	})

	t.Run("fleeting emotional state stays session-scoped", func(t *testing.T) {
		v := gate.Evaluate(ctx, "u1",
			models.Triple{Subject: "a", Predicate: "HISSEDIYOR", Object: "yorgun", Confidence: 0.9},
			entry(t, cat, "HISSEDIYOR"), stdPolicy())
		assert.Equal(t, ActionStore, v.Action)
		require.NotNil(t, v.ValidUntil, "a mood never becomes a durable fact")
	})

	t.Run("low confidence discards", func(t *testing.T) {
		v := gate.Evaluate(ctx, "u1",
			models.Triple{Subject: "a", Predicate: "SEVER", Object: "b", Confidence: 0.5},
			entry(t, cat, "SEVER"), stdPolicy())
		assert.Equal(t, ActionDiscard, v.Action)
	})

	t.Run("soft signals need the higher bar", func(t *testing.T) {
		low := gate.Evaluate(ctx, "u1",
			models.Triple{Subject: "a", Predicate: "SEVER", Object: "b", Confidence: 0.65, Category: models.CategorySoftSignal},
			entry(t, cat, "SEVER"), stdPolicy())
		assert.Equal(t, ActionDiscard, low.Action)

		high := gate.Evaluate(ctx, "u1",
			models.Triple{Subject: "a", Predicate: "SEVER", Object: "b", Confidence: 0.75, Category: models.CategorySoftSignal},
			entry(t, cat, "SEVER"), stdPolicy())
		assert.Equal(t, ActionStore, high.Action)
	})
}

func TestGateRecurrenceRescuesRestatement(t *testing.T) {
	cat := testCatalog(t)
	triple := models.Triple{Subject: "a", Predicate: "SEVER", Object: "kahve", Confidence: 0.5}

	t.Run("restated useful fact stores despite low confidence", func(t *testing.T) {
		gate := NewGate(config.DefaultMemoryConfig(), fakeRecurrence{exists: true})
		v := gate.Evaluate(context.Background(), "u1", triple, entry(t, cat, "SEVER"), stdPolicy())
		assert.Equal(t, ActionStore, v.Action)
		assert.Equal(t, "recurring", v.Reason)
	})

	t.Run("first mention still discards", func(t *testing.T) {
		gate := NewGate(config.DefaultMemoryConfig(), fakeRecurrence{exists: false})
		v := gate.Evaluate(context.Background(), "u1", triple, entry(t, cat, "SEVER"), stdPolicy())
		assert.Equal(t, ActionDiscard, v.Action)
	})
}

func TestEngineExclusiveSupersede(t *testing.T) {
	cat := testCatalog(t)
	anchor := models.AnchorName("u1")
	store := &fakeFactStore{active: []models.FactRelation{{
		ID: 11, UserID: "u1", Subject: anchor, Predicate: "YASADIGI_YER",
		Object: "İstanbul", Confidence: 0.6, Status: models.FactStatusActive,
	}}}
	engine := NewEngine(store, config.DefaultMemoryConfig())

	triple := models.Triple{Subject: anchor, Predicate: "YASADIGI_YER", Object: "Ankara", Confidence: 0.9}
	outcomes, err := engine.Apply(context.Background(), "u1", "s1:5", []Candidate{{
		Triple: triple, Entry: entry(t, cat, "YASADIGI_YER"), Verdict: Verdict{Action: ActionStore},
	}})
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuperseded, outcomes[triple.Key()])
	assert.Equal(t, []int64{11}, store.superseded)
	require.Len(t, store.merged, 1)
	assert.Equal(t, "Ankara", store.merged[0].Object)
	assert.Equal(t, models.FactStatus(""), store.merged[0].Status, "written as default ACTIVE")
}

func TestEngineSymmetricConflict(t *testing.T) {
	cat := testCatalog(t)
	anchor := models.AnchorName("u1")
	store := &fakeFactStore{active: []models.FactRelation{{
		ID: 11, Subject: anchor, Predicate: "YASADIGI_YER",
		Object: "İstanbul", Confidence: 0.9, Status: models.FactStatusActive,
	}}}
	engine := NewEngine(store, config.DefaultMemoryConfig())

	triple := models.Triple{Subject: anchor, Predicate: "YASADIGI_YER", Object: "Ankara", Confidence: 0.85}
	outcomes, err := engine.Apply(context.Background(), "u1", "s1:5", []Candidate{{
		Triple: triple, Entry: entry(t, cat, "YASADIGI_YER"), Verdict: Verdict{Action: ActionStore},
	}})
	require.NoError(t, err)

	assert.Equal(t, OutcomeConflicted, outcomes[triple.Key()])
	assert.Equal(t, []int64{11}, store.conflicted)
	assert.Empty(t, store.superseded)
	require.Len(t, store.merged, 1)
	assert.Equal(t, models.FactStatusConflicted, store.merged[0].Status)
}

func TestEngineWeakerIncomingKeepsExisting(t *testing.T) {
	cat := testCatalog(t)
	anchor := models.AnchorName("u1")
	store := &fakeFactStore{active: []models.FactRelation{{
		ID: 11, Subject: anchor, Predicate: "YASADIGI_YER",
		Object: "İstanbul", Confidence: 0.95, Status: models.FactStatusActive,
	}}}
	engine := NewEngine(store, config.DefaultMemoryConfig())

	triple := models.Triple{Subject: anchor, Predicate: "YASADIGI_YER", Object: "Ankara", Confidence: 0.5}
	outcomes, err := engine.Apply(context.Background(), "u1", "s1:5", []Candidate{{
		Triple: triple, Entry: entry(t, cat, "YASADIGI_YER"), Verdict: Verdict{Action: ActionStore},
	}})
	require.NoError(t, err)

	assert.Equal(t, OutcomeKeptOld, outcomes[triple.Key()])
	assert.Empty(t, store.merged)
	assert.Empty(t, store.superseded)
}

func TestEngineRestatementMerges(t *testing.T) {
	cat := testCatalog(t)
	anchor := models.AnchorName("u1")
	store := &fakeFactStore{active: []models.FactRelation{{
		ID: 11, Subject: anchor, Predicate: "YASADIGI_YER",
		Object: "Ankara", Confidence: 0.8, Status: models.FactStatusActive,
	}}}
	engine := NewEngine(store, config.DefaultMemoryConfig())

	triple := models.Triple{Subject: anchor, Predicate: "YASADIGI_YER", Object: "Ankara", Confidence: 0.9}
	outcomes, err := engine.Apply(context.Background(), "u1", "s1:5", []Candidate{{
		Triple: triple, Entry: entry(t, cat, "YASADIGI_YER"), Verdict: Verdict{Action: ActionStore},
	}})
	require.NoError(t, err)

	assert.Equal(t, OutcomeWritten, outcomes[triple.Key()])
	assert.Empty(t, store.superseded)
	assert.Empty(t, store.conflicted)
	require.Len(t, store.merged, 1)
}

func TestEngineAdditivePredicatesCoexist(t *testing.T) {
	cat := testCatalog(t)
	anchor := models.AnchorName("u1")
	store := &fakeFactStore{active: []models.FactRelation{{
		ID: 11, Subject: anchor, Predicate: "SEVER", Object: "kahve", Confidence: 0.9,
	}}}
	engine := NewEngine(store, config.DefaultMemoryConfig())

	triple := models.Triple{Subject: anchor, Predicate: "SEVER", Object: "çay", Confidence: 0.9}
	outcomes, err := engine.Apply(context.Background(), "u1", "s1:5", []Candidate{{
		Triple: triple, Entry: entry(t, cat, "SEVER"), Verdict: Verdict{Action: ActionStore},
	}})
	require.NoError(t, err)

	assert.Equal(t, OutcomeWritten, outcomes[triple.Key()])
	assert.Empty(t, store.superseded)
}

func TestCorrectRetractsAndReplaces(t *testing.T) {
	cat := testCatalog(t)
	store := &fakeFactStore{}
	engine := NewEngine(store, config.DefaultMemoryConfig())
	anchor := models.AnchorName("u1")

	retracted, err := engine.Correct(context.Background(), "u1", "s1:7", anchor, "yaşadığı yer", "İzmir", cat)
	require.NoError(t, err)

	assert.Equal(t, int64(1), retracted)
	assert.Equal(t, []string{anchor + "|YASADIGI_YER"}, store.retracted)
	require.Len(t, store.merged, 1)
	assert.Equal(t, "İzmir", store.merged[0].Object)
	assert.Equal(t, 1.0, store.merged[0].Confidence)
	assert.Equal(t, []string{models.AttributionUserCorrection}, store.attributions)
}

func TestCorrectRetractOnly(t *testing.T) {
	cat := testCatalog(t)
	store := &fakeFactStore{}
	engine := NewEngine(store, config.DefaultMemoryConfig())

	_, err := engine.Correct(context.Background(), "u1", "s1:7", models.AnchorName("u1"), "SEVER", "", cat)
	require.NoError(t, err)
	assert.Empty(t, store.merged)
}

func TestCorrectUnknownPredicate(t *testing.T) {
	cat := testCatalog(t)
	store := &fakeFactStore{}
	engine := NewEngine(store, config.DefaultMemoryConfig())

	_, err := engine.Correct(context.Background(), "u1", "s1:7", models.AnchorName("u1"), "BILINMEYEN_X", "v", cat)
	assert.Error(t, err)
}
