package contextbuilder

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-agent/atlas/pkg/config"
	"github.com/atlas-agent/atlas/pkg/models"
	"github.com/atlas-agent/atlas/pkg/vector"
)

type fakeGraph struct {
	anchorFacts []models.FactRelation
	activeFacts []models.FactRelation
	rangeFacts  []models.FactRelation
	rangeCalls  int
	turns       []models.Turn
	episodes    []models.Episode
}

func (f *fakeGraph) FactsBySubject(_ context.Context, _, _ string, _ int) ([]models.FactRelation, error) {
	return f.anchorFacts, nil
}

func (f *fakeGraph) ActiveFacts(_ context.Context, _ string, _ int) ([]models.FactRelation, error) {
	return f.activeFacts, nil
}

func (f *fakeGraph) FactsInRange(_ context.Context, _ string, _, _ time.Time, _ int) ([]models.FactRelation, error) {
	f.rangeCalls++
	return f.rangeFacts, nil
}

func (f *fakeGraph) RecentTurns(_ context.Context, _ string, _ int) ([]models.Turn, error) {
	return f.turns, nil
}

func (f *fakeGraph) RecentReadyEpisodes(_ context.Context, _ string, _ int) ([]models.Episode, error) {
	return f.episodes, nil
}

func (f *fakeGraph) EpisodesByIDs(_ context.Context, ids []string) ([]models.Episode, error) {
	var out []models.Episode
	for _, ep := range f.episodes {
		for _, id := range ids {
			if ep.ID == id {
				out = append(out, ep)
			}
		}
	}
	return out, nil
}

type fixedEmbedder struct{ v []float64 }

func (e fixedEmbedder) Embed(context.Context, string) ([]float64, error) { return e.v, nil }

func strPtr(s string) *string { return &s }

func fact(id int64, subject, predicate, object string, category models.FactCategory, status models.FactStatus) models.FactRelation {
	return models.FactRelation{
		ID: id, UserID: "u1", Subject: subject, Predicate: predicate, Object: object,
		Confidence: 0.9, Category: category, Status: status,
	}
}

func testBuilder(g *fakeGraph, vs vector.Store, emb embedder, flags *config.Flags) *Builder {
	if flags == nil {
		flags = &config.Flags{}
	}
	return New(g, vs, emb, config.DefaultContextConfig(), flags)
}

func TestClassifyIntent(t *testing.T) {
	cases := []struct {
		message    string
		hasHistory bool
		want       string
	}{
		{"Benim adım ne?", false, models.IntentPersonal},
		{"Bana bir e-posta yaz", false, models.IntentMixed},
		{"Bir liste oluştur", false, models.IntentTask},
		{"Kuantum fiziği nedir", false, models.IntentGeneral},
		{"Peki ya sonra?", true, models.IntentFollowup},
		{"O nerede?", true, models.IntentFollowup},
		{"O nerede?", false, models.IntentGeneral},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyIntent(tc.message, tc.hasHistory), "message %q", tc.message)
	}
}

func TestBuildSectionsAndConflicts(t *testing.T) {
	anchor := models.AnchorName("u1")
	g := &fakeGraph{
		anchorFacts: []models.FactRelation{
			fact(1, anchor, "ISIM", "Deniz", models.CategoryIdentity, models.FactStatusActive),
			fact(2, anchor, "SEVER", "kahve", models.CategoryPersonal, models.FactStatusActive),
			fact(3, anchor, "SEVER", "caz", models.CategorySoftSignal, models.FactStatusActive),
			fact(4, anchor, "YASADIGI_YER", "Ankara", models.CategoryPersonal, models.FactStatusConflicted),
		},
		turns: []models.Turn{
			{Role: models.RoleUser, Content: "merhaba"},
			{Role: models.RoleAssistant, Content: "merhaba, nasılsın?"},
		},
	}
	b := testBuilder(g, nil, nil, nil)

	req := &models.RequestContext{UserID: "u1", SessionID: "s1", UserMessage: "Benim adım ne?"}
	require.NoError(t, b.Build(context.Background(), req, models.UserPolicy{Mode: models.MemoryModeStandard}, nil))

	assert.Contains(t, req.ContextInjection, headerProfile)
	assert.Contains(t, req.ContextInjection, "Kullanıcı ISIM: Deniz")
	assert.Contains(t, req.ContextInjection, headerSoftSignals)
	assert.Contains(t, req.ContextInjection, "(emin değilim)")
	assert.Contains(t, req.ContextInjection, conflictTag)
	assert.Contains(t, req.ContextInjection, headerRecent)
	assert.True(t, req.HasConflicts)
	require.Len(t, req.IdentityFacts, 1)
	assert.Equal(t, models.IntentPersonal, req.Intent)
	assert.NotContains(t, req.ContextInjection, anchor, "anchor internal name never leaks")
}

func TestBuildMemoryOffIsTranscriptOnly(t *testing.T) {
	g := &fakeGraph{
		anchorFacts: []models.FactRelation{fact(1, models.AnchorName("u1"), "ISIM", "Deniz", models.CategoryIdentity, models.FactStatusActive)},
		turns:       []models.Turn{{Role: models.RoleUser, Content: "selam"}},
	}
	b := testBuilder(g, nil, nil, nil)

	req := &models.RequestContext{UserID: "u1", SessionID: "s1", UserMessage: "Benim adım ne?"}
	require.NoError(t, b.Build(context.Background(), req, models.UserPolicy{Mode: models.MemoryModeOff}, nil))

	assert.NotContains(t, req.ContextInjection, headerProfile)
	assert.Contains(t, req.ContextInjection, headerRecent)
	assert.False(t, req.HasConflicts)
}

func TestBuildBypassFlagSkipsMemory(t *testing.T) {
	g := &fakeGraph{
		anchorFacts: []models.FactRelation{fact(1, models.AnchorName("u1"), "ISIM", "Deniz", models.CategoryIdentity, models.FactStatusActive)},
		turns:       []models.Turn{{Role: models.RoleUser, Content: "selam"}},
	}
	b := testBuilder(g, nil, nil, &config.Flags{BypassMemoryInjection: true})

	req := &models.RequestContext{UserID: "u1", SessionID: "s1", UserMessage: "Benim adım ne?"}
	require.NoError(t, b.Build(context.Background(), req, models.UserPolicy{Mode: models.MemoryModeStandard}, nil))
	assert.NotContains(t, req.ContextInjection, headerProfile)
}

func TestBuildEpisodesRankedWithConsolidatedBoost(t *testing.T) {
	store := vector.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, vector.Point{UserID: "u1", EpisodeID: "reg", Embedding: []float64{1, 0}}))
	require.NoError(t, store.Upsert(ctx, vector.Point{UserID: "u1", EpisodeID: "cons", Embedding: []float64{0.95, 0.3}}))

	g := &fakeGraph{
		episodes: []models.Episode{
			{ID: "reg", UserID: "u1", Kind: models.EpisodeKindRegular, Status: models.EpisodeStatusReady, Summary: strPtr("Kullanıcı işten bahsetti.")},
			{ID: "cons", UserID: "u1", Kind: models.EpisodeKindConsolidated, Status: models.EpisodeStatusReady, Summary: strPtr("Uzun dönem özeti: kariyer hedefleri.")},
		},
		turns: []models.Turn{{Role: models.RoleUser, Content: "selam"}},
	}
	b := testBuilder(g, store, fixedEmbedder{[]float64{1, 0}}, nil)

	req := &models.RequestContext{UserID: "u1", SessionID: "s1", UserMessage: "İş hedeflerimi hatırlıyor musun?"}
	require.NoError(t, b.Build(context.Background(), req, models.UserPolicy{Mode: models.MemoryModeStandard}, nil))

	require.Contains(t, req.ContextInjection, headerEpisodes)
	consIdx := strings.Index(req.ContextInjection, "Uzun dönem özeti")
	regIdx := strings.Index(req.ContextInjection, "Kullanıcı işten")
	require.True(t, consIdx >= 0 && regIdx >= 0)
	assert.Less(t, consIdx, regIdx, "consolidated boost outranks the raw similarity winner")
}

func TestBuildVectorBypassFallsBackToRecency(t *testing.T) {
	g := &fakeGraph{
		episodes: []models.Episode{
			{ID: "e1", UserID: "u1", Kind: models.EpisodeKindRegular, Status: models.EpisodeStatusReady, Summary: strPtr("Geçen hafta tatil planı konuşuldu.")},
		},
		turns: []models.Turn{{Role: models.RoleUser, Content: "selam"}},
	}
	b := testBuilder(g, vector.NewMemoryStore(), fixedEmbedder{[]float64{1}}, &config.Flags{BypassVectorSearch: true})

	req := &models.RequestContext{UserID: "u1", SessionID: "s1", UserMessage: "Tatilimi hatırlıyor musun?"}
	require.NoError(t, b.Build(context.Background(), req, models.UserPolicy{Mode: models.MemoryModeStandard}, nil))
	assert.Contains(t, req.ContextInjection, "tatil planı")
}

func TestBuildEpisodesExcludeCurrentSession(t *testing.T) {
	store := vector.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, vector.Point{UserID: "u1", EpisodeID: "cur", Embedding: []float64{1, 0}}))
	require.NoError(t, store.Upsert(ctx, vector.Point{UserID: "u1", EpisodeID: "old", Embedding: []float64{0.9, 0.1}}))

	episodes := []models.Episode{
		{ID: "cur", UserID: "u1", SessionID: "s1", Kind: models.EpisodeKindRegular, Status: models.EpisodeStatusReady, Summary: strPtr("Bu oturumun özeti.")},
		{ID: "old", UserID: "u1", SessionID: "s0", Kind: models.EpisodeKindRegular, Status: models.EpisodeStatusReady, Summary: strPtr("Önceki oturumda tatil konuşuldu.")},
	}
	turns := []models.Turn{{Role: models.RoleUser, Content: "selam"}}

	t.Run("vector path", func(t *testing.T) {
		g := &fakeGraph{episodes: episodes, turns: turns}
		b := testBuilder(g, store, fixedEmbedder{[]float64{1, 0}}, nil)

		req := &models.RequestContext{UserID: "u1", SessionID: "s1", UserMessage: "Tatilimi hatırlıyor musun?"}
		require.NoError(t, b.Build(context.Background(), req, models.UserPolicy{Mode: models.MemoryModeStandard}, nil))

		assert.Contains(t, req.ContextInjection, "Önceki oturumda tatil")
		assert.NotContains(t, req.ContextInjection, "Bu oturumun özeti", "live transcript already covers the current session")
	})

	t.Run("recency fallback", func(t *testing.T) {
		g := &fakeGraph{episodes: episodes, turns: turns}
		b := testBuilder(g, nil, nil, nil)

		req := &models.RequestContext{UserID: "u1", SessionID: "s1", UserMessage: "Tatilimi hatırlıyor musun?"}
		require.NoError(t, b.Build(context.Background(), req, models.UserPolicy{Mode: models.MemoryModeStandard}, nil))

		assert.Contains(t, req.ContextInjection, "Önceki oturumda tatil")
		assert.NotContains(t, req.ContextInjection, "Bu oturumun özeti")
	})
}

func TestBuildTemporalFactsJoinOnDateRange(t *testing.T) {
	anchor := models.AnchorName("u1")
	g := &fakeGraph{
		rangeFacts: []models.FactRelation{fact(9, anchor, "GIDECEK", "diş hekimi", models.CategoryPersonal, models.FactStatusActive)},
		turns:      []models.Turn{{Role: models.RoleUser, Content: "selam"}},
	}
	b := testBuilder(g, nil, nil, nil)

	req := &models.RequestContext{UserID: "u1", SessionID: "s1", UserMessage: "Dün neden bahsetmiştim?", Intent: models.IntentPersonal}
	require.NoError(t, b.Build(context.Background(), req, models.UserPolicy{Mode: models.MemoryModeStandard}, nil))

	assert.Equal(t, 1, g.rangeCalls)
	assert.Contains(t, req.ContextInjection, "diş hekimi")

	t.Run("no temporal phrase skips the range fetch", func(t *testing.T) {
		g.rangeCalls = 0
		req := &models.RequestContext{UserID: "u1", SessionID: "s1", UserMessage: "Kahve sever miyim?", Intent: models.IntentPersonal}
		require.NoError(t, b.Build(context.Background(), req, models.UserPolicy{Mode: models.MemoryModeStandard}, nil))
		assert.Zero(t, g.rangeCalls)
	})
}

func TestProfileFor(t *testing.T) {
	general := ProfileFor(models.IntentGeneral, true)
	assert.Zero(t, general.Facts, "a general question does not spend budget on the graph")
	assert.Equal(t, 0.80, general.Transcript)

	personal := ProfileFor(models.IntentPersonal, true)
	assert.Equal(t, 0.50, personal.Facts, "a personal question lives off the graph")

	followup := ProfileFor(models.IntentFollowup, true)
	assert.Equal(t, 0.60, followup.Transcript, "a follow-up leans on the transcript")

	assert.Equal(t, defaultProfile, ProfileFor(models.IntentPersonal, false))
	assert.Equal(t, ProfileFor(models.IntentGeneral, true), ProfileFor("BILINMEYEN", true))

	for intent, p := range profiles {
		assert.InDelta(t, 1.0, p.Facts+p.Transcript+p.Episodes, 1e-9, "weights for %s sum to one", intent)
	}
}

func TestBuildBudgetEnforced(t *testing.T) {
	long := strings.Repeat("çok uzun bir cümle ", 50)
	g := &fakeGraph{turns: []models.Turn{
		{Role: models.RoleUser, Content: long},
		{Role: models.RoleAssistant, Content: long},
		{Role: models.RoleUser, Content: long},
	}}
	cfg := config.DefaultContextConfig()
	cfg.MaxTotalChars = 500
	b := New(g, nil, nil, cfg, &config.Flags{})

	req := &models.RequestContext{UserID: "u1", SessionID: "s1", UserMessage: "selam"}
	require.NoError(t, b.Build(context.Background(), req, models.UserPolicy{Mode: models.MemoryModeStandard}, nil))
	assert.LessOrEqual(t, len(req.ContextInjection), 500)
}

func TestReferenceLine(t *testing.T) {
	turns := []models.Turn{
		{Role: models.RoleUser, Content: "Ankara'ya taşınmayı düşünüyorum"},
		{Role: models.RoleAssistant, Content: "Güzel bir şehir."},
	}
	line := referenceLine(turns, "Orada kira ne kadar?")
	require.NotEmpty(t, line)
	assert.Contains(t, line, dstReferenceTag)
	assert.Contains(t, line, "Ankara'ya taşınmayı düşünüyorum")

	assert.Empty(t, referenceLine(turns, "Ankara'da kira ne kadar acaba?"), "non-pronoun lead gets no reference")
}

func TestLineSetDedup(t *testing.T) {
	s := newLineSet()
	assert.True(t, s.add("- Kullanıcı SEVER: kahve"))
	assert.False(t, s.add("- kullanıcı  sever: KAHVE"))
}
