// Package contextbuilder assembles the bounded context injection for a
// request: profile facts, hard facts, soft signals, open contradictions,
// episodic recall, and the recent transcript, each under a per-intent
// character budget.
package contextbuilder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/atlas-agent/atlas/pkg/config"
	"github.com/atlas-agent/atlas/pkg/models"
	"github.com/atlas-agent/atlas/pkg/trace"
	"github.com/atlas-agent/atlas/pkg/vector"
)

// Section headers of the injected context, in emission order.
const (
	headerProfile     = "### Kullanıcı Profili"
	headerHardFacts   = "### Sert Gerçekler"
	headerSoftSignals = "### Yumuşak Sinyaller"
	headerConflicts   = "### Açık Sorular"
	headerEpisodes    = "### İlgili Geçmiş Bölümler"
	headerRecent      = "### Yakın Geçmiş"

	conflictTag     = "[ÇÖZÜLMESİ GEREKEN DURUM]"
	dstReferenceTag = "[DST_REFERENCE]"
)

// graphReader is the slice of the graph store the builder needs.
type graphReader interface {
	FactsBySubject(ctx context.Context, userID, subject string, limit int) ([]models.FactRelation, error)
	ActiveFacts(ctx context.Context, userID string, limit int) ([]models.FactRelation, error)
	FactsInRange(ctx context.Context, userID string, from, to time.Time, limit int) ([]models.FactRelation, error)
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]models.Turn, error)
	RecentReadyEpisodes(ctx context.Context, userID string, limit int) ([]models.Episode, error)
	EpisodesByIDs(ctx context.Context, ids []string) ([]models.Episode, error)
}

// embedder produces query embeddings for episodic recall.
type embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Builder assembles context injections.
type Builder struct {
	graph  graphReader
	vector vector.Store
	embed  embedder
	cfg    *config.ContextConfig
	flags  *config.Flags
}

// New builds the context builder. vectorStore and embedClient may be nil;
// episodic recall then falls back to recency.
func New(graph graphReader, vectorStore vector.Store, embedClient embedder, cfg *config.ContextConfig, flags *config.Flags) *Builder {
	return &Builder{graph: graph, vector: vectorStore, embed: embedClient, cfg: cfg, flags: flags}
}

// Build fills the request's ContextInjection, History, IdentityFacts, and
// HasConflicts. Memory OFF (or the bypass flag) yields a transcript-only
// stub so the pipeline downstream never branches on mode.
func (b *Builder) Build(ctx context.Context, req *models.RequestContext, policy models.UserPolicy, tr *trace.Record) error {
	turns, err := b.graph.RecentTurns(ctx, req.SessionID, b.cfg.MaxTranscriptTurns)
	if err != nil {
		return fmt.Errorf("failed to load transcript: %w", err)
	}
	req.History = turns

	if req.Intent == "" {
		req.Intent = ClassifyIntent(req.UserMessage, len(turns) > 0)
	}

	if !policy.WriteEnabled() || b.flags.BypassMemoryInjection {
		req.ContextInjection = b.renderTranscriptOnly(turns)
		tr.SetLayer("transcript", len(req.ContextInjection))
		return nil
	}

	profile := ProfileFor(req.Intent, !b.flags.BypassAdaptiveBudget)
	total := b.cfg.MaxTotalChars
	factsBudget := int(profile.Facts * float64(total))
	transcriptBudget := int(profile.Transcript * float64(total))
	episodesBudget := int(profile.Episodes * float64(total))

	anchor := models.AnchorName(req.UserID)

	anchorFacts, err := b.graph.FactsBySubject(ctx, req.UserID, anchor, b.cfg.MaxHardFactLines*2)
	if err != nil {
		return fmt.Errorf("failed to load anchor facts: %w", err)
	}
	otherFacts, err := b.graph.ActiveFacts(ctx, req.UserID, b.cfg.MaxHardFactLines)
	if err != nil {
		return fmt.Errorf("failed to load facts: %w", err)
	}

	// A date-range expression in the message pulls in the facts affirmed
	// inside that window, even when their confidence ranks them out of the
	// general fetch.
	if rng, ok := DetectDateRange(req.UserMessage, time.Now()); ok {
		temporal, err := b.graph.FactsInRange(ctx, req.UserID, rng.From, rng.To, b.cfg.MaxHardFactLines)
		if err != nil {
			slog.Warn("Temporal fact fetch failed", "user_id", req.UserID, "error", err)
		} else {
			otherFacts = append(otherFacts, temporal...)
		}
	}

	var identity, hard, soft, conflicted []models.FactRelation
	seenFact := map[int64]bool{}
	for _, f := range append(anchorFacts, otherFacts...) {
		if seenFact[f.ID] {
			continue
		}
		seenFact[f.ID] = true
		switch {
		case f.Status == models.FactStatusConflicted:
			conflicted = append(conflicted, f)
		case f.Category == models.CategoryIdentity:
			identity = append(identity, f)
		case f.Category == models.CategorySoftSignal:
			soft = append(soft, f)
		default:
			hard = append(hard, f)
		}
	}
	req.IdentityFacts = identity
	req.HasConflicts = len(conflicted) > 0

	var sections []string
	used := 0

	factsSection := b.renderFacts(identity, hard, soft, conflicted, factsBudget)
	if factsSection != "" {
		sections = append(sections, factsSection)
		used += len(factsSection)
		tr.SetLayer("facts", len(factsSection))
	}

	episodesSection := b.renderEpisodes(ctx, req, episodesBudget, tr)
	if episodesSection != "" {
		sections = append(sections, episodesSection)
		used += len(episodesSection)
		tr.SetLayer("episodes", len(episodesSection))
	}

	transcriptSection := b.renderTranscript(turns, req.UserMessage, transcriptBudget+max(0, total-used-transcriptBudget))
	if transcriptSection != "" {
		sections = append(sections, transcriptSection)
		tr.SetLayer("transcript", len(transcriptSection))
	}

	req.ContextInjection = strings.Join(sections, "\n\n")
	if len(req.ContextInjection) > total {
		req.ContextInjection = req.ContextInjection[:total]
	}
	return nil
}

// renderFacts emits the profile, hard-fact, soft-signal, and open-question
// sections under one shared budget with per-section line caps.
func (b *Builder) renderFacts(identity, hard, soft, conflicted []models.FactRelation, budget int) string {
	var sb strings.Builder
	dedup := newLineSet()

	writeSection := func(header string, facts []models.FactRelation, limit int, format func(models.FactRelation) string) {
		var lines []string
		for _, f := range facts {
			if len(lines) >= limit {
				break
			}
			line := format(f)
			if !dedup.add(line) {
				continue
			}
			lines = append(lines, line)
		}
		if len(lines) == 0 {
			return
		}
		block := header + "\n" + strings.Join(lines, "\n")
		if sb.Len()+len(block)+2 > budget {
			return
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(block)
	}

	writeSection(headerProfile, identity, b.cfg.MaxIdentityLines, formatFact)
	writeSection(headerHardFacts, hard, b.cfg.MaxHardFactLines, formatFact)
	writeSection(headerSoftSignals, soft, b.cfg.MaxSoftSignalLines, func(f models.FactRelation) string {
		return fmt.Sprintf("- (emin değilim) %s", factText(f))
	})
	writeSection(headerConflicts, conflicted, b.cfg.MaxOpenQuestionLines, func(f models.FactRelation) string {
		return fmt.Sprintf("- %s %s", conflictTag, factText(f))
	})
	return sb.String()
}

// renderEpisodes ranks READY episodes by embedding similarity, boosting
// consolidated summaries, and falls back to recency when vector search is
// unavailable.
func (b *Builder) renderEpisodes(ctx context.Context, req *models.RequestContext, budget int, tr *trace.Record) string {
	if budget <= 0 {
		return ""
	}

	episodes := b.searchEpisodes(ctx, req, tr)
	if len(episodes) == 0 {
		return ""
	}

	dedup := newLineSet()
	var lines []string
	length := len(headerEpisodes)
	for _, ep := range episodes {
		summary := ep.SummaryText()
		if summary == "" {
			continue
		}
		line := "- " + summary
		if !dedup.add(line) {
			continue
		}
		if length+len(line)+1 > budget {
			break
		}
		length += len(line) + 1
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return ""
	}
	return headerEpisodes + "\n" + strings.Join(lines, "\n")
}

func (b *Builder) searchEpisodes(ctx context.Context, req *models.RequestContext, tr *trace.Record) []models.Episode {
	if b.vector != nil && b.embed != nil && !b.flags.BypassVectorSearch {
		if embedding, err := b.embed.Embed(ctx, req.UserMessage); err == nil && len(embedding) > 0 {
			matches, err := b.vector.Search(ctx, req.UserID, embedding, b.cfg.MaxEpisodes*2)
			if err == nil && len(matches) > 0 {
				return b.rankMatches(ctx, req, matches, tr)
			}
			if err != nil {
				slog.Warn("Vector search failed, falling back to recency", "error", err)
			}
		}
	}

	episodes, err := b.graph.RecentReadyEpisodes(ctx, req.UserID, b.cfg.MaxEpisodes+1)
	if err != nil {
		slog.Warn("Episode recency fallback failed", "error", err)
		return nil
	}
	kept := episodes[:0]
	for _, ep := range episodes {
		if ep.SessionID == req.SessionID {
			continue
		}
		kept = append(kept, ep)
	}
	if len(kept) > b.cfg.MaxEpisodes {
		kept = kept[:b.cfg.MaxEpisodes]
	}
	tr.SetSelected("episode_ranking", "recency")
	return kept
}

// rankMatches loads matched episodes and reorders them with the consolidated
// boost applied to the similarity score. Episodes cut from the session being
// served are skipped; the live transcript already covers that ground.
func (b *Builder) rankMatches(ctx context.Context, req *models.RequestContext, matches []vector.Match, tr *trace.Record) []models.Episode {
	ids := make([]string, 0, len(matches))
	score := make(map[string]float64, len(matches))
	for _, m := range matches {
		ids = append(ids, m.EpisodeID)
		score[m.EpisodeID] = m.Score
	}

	episodes, err := b.graph.EpisodesByIDs(ctx, ids)
	if err != nil {
		slog.Warn("Failed to load matched episodes", "error", err)
		return nil
	}

	ranked := make([]models.Episode, 0, len(episodes))
	for _, ep := range episodes {
		if ep.Status != models.EpisodeStatusReady || ep.SessionID == req.SessionID {
			continue
		}
		if ep.Kind == models.EpisodeKindConsolidated {
			score[ep.ID] *= b.cfg.ConsolidatedBoost
		}
		ranked = append(ranked, ep)
	}
	for i := 0; i < len(ranked); i++ {
		for j := i + 1; j < len(ranked); j++ {
			if score[ranked[j].ID] > score[ranked[i].ID] {
				ranked[i], ranked[j] = ranked[j], ranked[i]
			}
		}
	}
	if len(ranked) > b.cfg.MaxEpisodes {
		ranked = ranked[:b.cfg.MaxEpisodes]
	}
	tr.SetSelected("episode_ranking", "vector")
	return ranked
}

// renderTranscript emits the recent exchange, newest last, trimming oldest
// turns first when over budget. A pronoun-led message gets a reference line
// tying it to the previous user turn.
func (b *Builder) renderTranscript(turns []models.Turn, message string, budget int) string {
	if len(turns) == 0 || budget <= 0 {
		return ""
	}

	var lines []string
	for _, t := range turns {
		role := "Kullanıcı"
		if t.Role == models.RoleAssistant {
			role = "Asistan"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", role, t.Content))
	}

	if ref := referenceLine(turns, message); ref != "" {
		lines = append(lines, ref)
	}

	for len(lines) > 0 {
		block := headerRecent + "\n" + strings.Join(lines, "\n")
		if len(block) <= budget {
			return block
		}
		lines = lines[1:]
	}
	return ""
}

// referenceLine marks what a pronoun-led message most likely refers to.
func referenceLine(turns []models.Turn, message string) string {
	words := strings.Fields(strings.ToLower(strings.TrimSpace(message)))
	if len(words) == 0 || len(words) > 6 {
		return ""
	}
	first := strings.Trim(words[0], ".,!?")
	if !followUpPronouns[strings.ToUpper(strings.Map(foldTurkish, first))] {
		return ""
	}
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == models.RoleUser {
			return fmt.Sprintf("%s \"%s\" ifadesi büyük olasılıkla şuna gönderme yapıyor: %q",
				dstReferenceTag, message, turns[i].Content)
		}
	}
	return ""
}

func foldTurkish(r rune) rune {
	switch r {
	case 'ı':
		return 'i'
	case 'ş':
		return 's'
	case 'ğ':
		return 'g'
	case 'ç':
		return 'c'
	case 'ö':
		return 'o'
	case 'ü':
		return 'u'
	}
	return r
}

func (b *Builder) renderTranscriptOnly(turns []models.Turn) string {
	return b.renderTranscript(turns, "", b.cfg.MaxTotalChars)
}

func formatFact(f models.FactRelation) string {
	return "- " + factText(f)
}

// factText renders a relation as a readable line, hiding the anchor's
// internal name.
func factText(f models.FactRelation) string {
	subject := f.Subject
	if models.IsAnchor(subject) {
		subject = "Kullanıcı"
	}
	return fmt.Sprintf("%s %s: %s", subject, f.Predicate, f.Object)
}

// lineSet deduplicates rendered lines ignoring case and whitespace runs.
type lineSet struct{ seen map[string]bool }

func newLineSet() *lineSet { return &lineSet{seen: map[string]bool{}} }

func (l *lineSet) add(line string) bool {
	key := strings.Join(strings.Fields(strings.ToLower(line)), " ")
	key = strings.TrimPrefix(key, "- ")
	if l.seen[key] {
		return false
	}
	l.seen[key] = true
	return true
}
