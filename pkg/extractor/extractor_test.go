package extractor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-agent/atlas/pkg/catalog"
	"github.com/atlas-agent/atlas/pkg/config"
	"github.com/atlas-agent/atlas/pkg/llm"
	"github.com/atlas-agent/atlas/pkg/models"
	"github.com/atlas-agent/atlas/pkg/trace"
)

type scriptedLLM struct {
	response string
	err      error
}

func (s *scriptedLLM) Complete(_ context.Context, _ string, _ llm.Request, _ *trace.Record) (string, config.ModelRef, error) {
	return s.response, config.ModelRef{Provider: "groq", Model: "test"}, s.err
}

func newExtractor(response string) *Extractor {
	return New(&scriptedLLM{response: response}, catalog.Load(""), config.DefaultMemoryConfig())
}

func conf(v float64) *float64 { return &v }

func TestParseTriples(t *testing.T) {
	t.Run("bare array", func(t *testing.T) {
		list, err := ParseTriples(`[{"subject":"BEN","predicate":"SEVER","object":"kahve","confidence":0.9}]`)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "kahve", list[0].Object)
	})

	t.Run("fenced wrapper object", func(t *testing.T) {
		list, err := ParseTriples("```json\n{\"triplets\":[{\"subject\":\"BEN\",\"predicate\":\"SEVER\",\"object\":\"çay\"}]}\n```")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Nil(t, list[0].Confidence)
	})

	t.Run("facts key", func(t *testing.T) {
		list, err := ParseTriples(`{"facts":[{"subject":"a","predicate":"b","object":"c"}]}`)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := ParseTriples("üzgünüm, bu mesajdan bilgi çıkaramadım")
		assert.Error(t, err)
	})
}

func TestSanitizeChain(t *testing.T) {
	e := newExtractor("")
	anchor := models.AnchorName("u1")

	t.Run("first person maps to anchor", func(t *testing.T) {
		results := e.Sanitize("u1", "", []rawTriple{
			{Subject: "BEN", Predicate: "SEVER", Object: "kahve", Confidence: conf(0.9)},
		})
		require.Len(t, results, 1)
		assert.Equal(t, anchor, results[0].Triple.Subject)
		assert.Equal(t, "SEVER", results[0].Triple.Predicate)
	})

	t.Run("other person drops", func(t *testing.T) {
		results := e.Sanitize("u1", "", []rawTriple{
			{Subject: "SEN", Predicate: "SEVER", Object: "kahve", Confidence: conf(0.9)},
			{Subject: "kardeşim", Predicate: "SEVER", Object: "ONU", Confidence: conf(0.9)},
		})
		assert.Empty(t, results)
	})

	t.Run("alias and diacritics resolve", func(t *testing.T) {
		results := e.Sanitize("u1", "", []rawTriple{
			{Subject: "BEN", Predicate: "yaşıyor", Object: "Ankara", Confidence: conf(0.9)},
		})
		require.Len(t, results, 1)
		assert.Equal(t, "YASADIGI_YER", results[0].Triple.Predicate)
	})

	t.Run("unknown predicate fails closed", func(t *testing.T) {
		results := e.Sanitize("u1", "", []rawTriple{
			{Subject: "BEN", Predicate: "UYDURMA_YUKLEM", Object: "x", Confidence: conf(0.9)},
		})
		assert.Empty(t, results)
	})

	t.Run("disabled predicate drops", func(t *testing.T) {
		results := e.Sanitize("u1", "", []rawTriple{
			{Subject: "BEN", Predicate: "DENEDI", Object: "koşu", Confidence: conf(0.9)},
		})
		assert.Empty(t, results)
	})

	t.Run("low confidence drops", func(t *testing.T) {
		results := e.Sanitize("u1", "", []rawTriple{
			{Subject: "BEN", Predicate: "SEVER", Object: "kahve", Confidence: conf(0.3)},
		})
		assert.Empty(t, results)
	})

	t.Run("missing confidence defaults and demotes to soft signal", func(t *testing.T) {
		results := e.Sanitize("u1", "", []rawTriple{
			{Subject: "BEN", Predicate: "SEVER", Object: "kahve"},
		})
		require.Len(t, results, 1)
		assert.Equal(t, 0.7, results[0].Triple.Confidence)
		assert.Equal(t, models.CategoryPersonal, results[0].Triple.Category)
	})

	t.Run("mid confidence becomes soft signal", func(t *testing.T) {
		results := e.Sanitize("u1", "", []rawTriple{
			{Subject: "BEN", Predicate: "SEVER", Object: "caz", Confidence: conf(0.55)},
		})
		require.Len(t, results, 1)
		assert.Equal(t, models.CategorySoftSignal, results[0].Triple.Category)
	})

	t.Run("identity never demotes", func(t *testing.T) {
		results := e.Sanitize("u1", "", []rawTriple{
			{Subject: "BEN", Predicate: "ISIM", Object: "Deniz", Confidence: conf(0.65)},
		})
		require.Len(t, results, 1)
		assert.Equal(t, models.CategoryIdentity, results[0].Triple.Category)
	})

	t.Run("command in disguise drops", func(t *testing.T) {
		results := e.Sanitize("u1", "", []rawTriple{
			{Subject: "BEN", Predicate: "SEVER", Object: "bunu unut", Confidence: conf(0.9)},
		})
		assert.Empty(t, results)
	})

	t.Run("placeholder object drops", func(t *testing.T) {
		results := e.Sanitize("u1", "", []rawTriple{
			{Subject: "BEN", Predicate: "YASADIGI_YER", Object: "bilinmiyor", Confidence: conf(0.9)},
		})
		assert.Empty(t, results)
	})

	t.Run("self reference drops", func(t *testing.T) {
		results := e.Sanitize("u1", "", []rawTriple{
			{Subject: "Deniz", Predicate: "ISIM", Object: "Deniz", Confidence: conf(0.9)},
		})
		assert.Empty(t, results)
	})

	t.Run("single character endpoints drop", func(t *testing.T) {
		results := e.Sanitize("u1", "", []rawTriple{
			{Subject: "b", Predicate: "SEVER", Object: "kahve", Confidence: conf(0.9)},
			{Subject: "BEN", Predicate: "SEVER", Object: "x", Confidence: conf(0.9)},
		})
		assert.Empty(t, results)
	})

	t.Run("fleeting durability drops before the gate", func(t *testing.T) {
		results := e.Sanitize("u1", "", []rawTriple{
			{Subject: "BEN", Predicate: "ISTIYOR", Object: "tatil", Confidence: conf(0.9)},
			{Subject: "BEN", Predicate: "KONUSUYOR", Object: "tatil", Confidence: conf(0.9)},
		})
		assert.Empty(t, results)
	})

	t.Run("stated name anchors later subjects", func(t *testing.T) {
		results := e.Sanitize("u1", "", []rawTriple{
			{Subject: "BEN", Predicate: "ISIM", Object: "Deniz", Confidence: conf(0.95)},
			{Subject: "Deniz", Predicate: "ISIM", Object: "Deniz Yılmaz", Confidence: conf(0.8)},
		})
		require.Len(t, results, 2)
		assert.Equal(t, models.AnchorName("u1"), results[0].Triple.Subject)
		assert.Equal(t, models.AnchorName("u1"), results[1].Triple.Subject)
	})

	t.Run("first token of a full stated name anchors too", func(t *testing.T) {
		results := e.Sanitize("u1", "", []rawTriple{
			{Subject: "BEN", Predicate: "ISIM", Object: "Deniz Yılmaz", Confidence: conf(0.95)},
			{Subject: "Deniz", Predicate: "SEVER", Object: "kahve", Confidence: conf(0.9)},
		})
		require.Len(t, results, 2)
		assert.Equal(t, models.AnchorName("u1"), results[1].Triple.Subject)
		assert.Equal(t, "SEVER", results[1].Triple.Predicate)
	})

	t.Run("unrelated named subject stays", func(t *testing.T) {
		results := e.Sanitize("u1", "", []rawTriple{
			{Subject: "BEN", Predicate: "ISIM", Object: "Deniz", Confidence: conf(0.95)},
			{Subject: "Ayşe", Predicate: "SEVER", Object: "kahve", Confidence: conf(0.9)},
		})
		require.Len(t, results, 2)
		assert.Equal(t, "Ayşe", results[1].Triple.Subject)
	})
}

func TestExtractModelFailure(t *testing.T) {
	e := New(&scriptedLLM{err: fmt.Errorf("boom")}, catalog.Load(""), config.DefaultMemoryConfig())
	_, err := e.Extract(context.Background(), "u1", "merhaba", nil)
	assert.Error(t, err)
}

func TestExtractUnparseableIsEmpty(t *testing.T) {
	e := newExtractor("hiçbir şey bulamadım")
	results, err := e.Extract(context.Background(), "u1", "merhaba", nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}
