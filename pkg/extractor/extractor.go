// Package extractor turns raw user messages into sanitized triples via the
// extraction model and a deterministic cleanup chain.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/atlas-agent/atlas/pkg/catalog"
	"github.com/atlas-agent/atlas/pkg/config"
	"github.com/atlas-agent/atlas/pkg/identity"
	"github.com/atlas-agent/atlas/pkg/llm"
	"github.com/atlas-agent/atlas/pkg/models"
	"github.com/atlas-agent/atlas/pkg/prompts"
	"github.com/atlas-agent/atlas/pkg/trace"
)

// completer is the slice of the model router the extractor needs.
type completer interface {
	Complete(ctx context.Context, role string, req llm.Request, tr *trace.Record) (string, config.ModelRef, error)
}

// Result is a sanitized triple paired with its catalog entry.
type Result struct {
	Triple models.Triple
	Entry  *catalog.Entry
}

// Extractor runs the model call plus the sanitize chain.
type Extractor struct {
	llm completer
	cat *catalog.Catalog
	cfg *config.MemoryConfig
}

// New builds an extractor.
func New(llmClient completer, cat *catalog.Catalog, cfg *config.MemoryConfig) *Extractor {
	return &Extractor{llm: llmClient, cat: cat, cfg: cfg}
}

// Extract calls the extraction model on the user message and sanitizes the
// candidates. A model failure returns an error; an empty extraction is not
// an error.
func (e *Extractor) Extract(ctx context.Context, userID, message string, tr *trace.Record) ([]Result, error) {
	prompt := prompts.Render(prompts.Extractor, map[string]string{
		"PREDICATES": strings.Join(e.cat.Keys(), ", "),
		"MESSAGE":    message,
	})

	raw, _, err := e.llm.Complete(ctx, "extractor", llm.Request{
		Prompt:      prompt,
		Temperature: 0.1,
		JSONMode:    true,
	}, tr)
	if err != nil {
		return nil, fmt.Errorf("extraction model call failed: %w", err)
	}

	candidates, err := ParseTriples(raw)
	if err != nil {
		slog.Warn("Extractor output unparseable, treating as empty",
			"user_id", userID, "error", err)
		return nil, nil
	}
	return e.Sanitize(userID, message, candidates), nil
}

// rawTriple tolerates the loose shapes models produce.
type rawTriple struct {
	Subject    string   `json:"subject"`
	Predicate  string   `json:"predicate"`
	Object     string   `json:"object"`
	Confidence *float64 `json:"confidence"`
}

// ParseTriples accepts a bare array or an object wrapping the array under a
// few common keys, with or without markdown fences.
func ParseTriples(raw string) ([]rawTriple, error) {
	cleaned := stripFences(raw)

	var list []rawTriple
	if err := json.Unmarshal([]byte(cleaned), &list); err == nil {
		return list, nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &wrapper); err != nil {
		return nil, fmt.Errorf("extractor output is not JSON")
	}
	for _, key := range []string{"triplets", "triples", "facts", "items"} {
		if rawList, ok := wrapper[key]; ok {
			if err := json.Unmarshal(rawList, &list); err == nil {
				return list, nil
			}
		}
	}
	return nil, fmt.Errorf("extractor output has no triple array")
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}

// commandTokens appearing inside a triple mean the model mistook an
// imperative ("bunu unut") for a fact about the user.
var commandTokens = map[string]bool{
	"UNUT": true, "UNUTMA": true, "SIL": true, "SIFIRLA": true,
	"FORGET": true, "CLEAR": true, "RESET": true, "DELETE": true,
}

// placeholderObjects are non-values models emit instead of an empty result.
var placeholderObjects = map[string]bool{
	"BILINMIYOR": true, "BELIRSIZ": true, "YOK": true, "HICBIRI": true,
	"UNKNOWN": true, "NONE": true, "N_A": true, "NA": true, "NULL": true,
}

// Sanitize runs the deterministic cleanup chain over extractor candidates.
func (e *Extractor) Sanitize(userID, message string, candidates []rawTriple) []Result {
	resolver := identity.NewResolver(userID)

	// The user's stated name in this batch. Later triples naming the user
	// as their subject get rewritten onto the anchor, so "Ben Deniz" plus
	// "Deniz Ankara'da yaşıyor" lands both facts on the same entity. The
	// first token covers "Deniz Yılmaz" referred to as just "Deniz".
	statedNames := map[string]bool{}
	for _, c := range candidates {
		if catalogKeyOf(e.cat, c.Predicate) == "ISIM" && identity.IsFirstPerson(c.Subject) {
			full := catalog.Normalize(c.Object)
			statedNames[full] = true
			if first, _, ok := strings.Cut(full, "_"); ok {
				statedNames[first] = true
			}
		}
	}

	var results []Result
	for _, c := range candidates {
		subject := strings.TrimSpace(c.Subject)
		object := strings.TrimSpace(c.Object)
		if len([]rune(subject)) < 2 || len([]rune(object)) < 2 || strings.TrimSpace(c.Predicate) == "" {
			continue
		}
		if containsCommandToken(subject) || containsCommandToken(object) {
			continue
		}
		if placeholderObjects[catalog.Normalize(object)] {
			continue
		}

		confidence := 0.7 // models that omit confidence get a neutral prior
		if c.Confidence != nil {
			confidence = *c.Confidence
		}
		if confidence < e.cfg.MinExtractionConfidence || confidence > 1.0 {
			continue
		}

		entry, known := e.cat.Resolve(c.Predicate)
		if !known {
			if e.cat.Loaded() {
				continue // fail closed on unknown predicates
			}
			entry = &catalog.Entry{
				Key:        catalog.Normalize(c.Predicate),
				Canonical:  catalog.Normalize(c.Predicate),
				Enabled:    true,
				Durability: models.DurabilityLongTerm,
				Type:       models.CardinalityAdditive,
			}
		}
		if !entry.Enabled {
			continue
		}
		// Fleeting predicates never reach the gate; the transcript already
		// carries them for the rest of the session.
		if entry.Durability == models.DurabilityEphemeral || entry.Durability == models.DurabilitySession {
			continue
		}

		subject, subjectRes := resolver.ResolveSubject(subject)
		if subjectRes == identity.ResolveDrop {
			continue
		}
		object, objectRes := resolver.ResolveObject(object)
		if objectRes == identity.ResolveDrop {
			continue
		}

		// A subject matching the user's stated name is the user talking
		// about themselves in the third person; anchor it.
		if subjectRes == identity.ResolveKeep && statedNames[catalog.Normalize(subject)] {
			subject = resolver.Anchor()
			subjectRes = identity.ResolveAnchor
		}

		// Circular self-reference: the object restates the subject.
		if catalog.Normalize(subject) == catalog.Normalize(object) {
			continue
		}

		triple := models.Triple{
			Subject:    subject,
			Predicate:  entry.Key,
			Object:     object,
			Confidence: confidence,
			Category:   entry.BridgeCategory(),
		}
		if entry.Category == "identity" {
			triple.Category = models.CategoryIdentity
		}
		// Low-confidence personal claims survive as soft signals instead of
		// hard facts.
		if confidence < e.cfg.SoftSignalThreshold && triple.Category != models.CategoryIdentity {
			triple.Category = models.CategorySoftSignal
		}
		results = append(results, Result{Triple: triple, Entry: entry})
	}
	return results
}

func containsCommandToken(s string) bool {
	for _, word := range strings.Split(catalog.Normalize(s), "_") {
		if commandTokens[word] {
			return true
		}
	}
	return false
}

func catalogKeyOf(cat *catalog.Catalog, predicate string) string {
	if entry, ok := cat.Resolve(predicate); ok {
		return entry.Key
	}
	return catalog.Normalize(predicate)
}
