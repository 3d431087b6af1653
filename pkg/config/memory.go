package config

import "time"

// MemoryConfig controls the write gate, lifecycle engine, episode pipeline,
// and decay behavior.
type MemoryConfig struct {
	// UtilityThreshold (θ_u), StabilityThreshold (θ_s) and
	// ConfidenceThreshold (θ_c) gate LONG_TERM admission.
	UtilityThreshold    float64 `yaml:"utility_threshold"`
	StabilityThreshold  float64 `yaml:"stability_threshold"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// SoftSignalThreshold demotes low-confidence personal facts to
	// soft_signal at sanitization time.
	SoftSignalThreshold float64 `yaml:"soft_signal_threshold"`

	// MinExtractionConfidence drops extractor candidates outright.
	MinExtractionConfidence float64 `yaml:"min_extraction_confidence"`

	// ConflictThreshold: when both the existing ACTIVE fact and the incoming
	// triple meet it, the pair is marked CONFLICTED instead of superseding.
	ConflictThreshold float64 `yaml:"conflict_threshold"`

	// TTLs for the short-lived buckets.
	EphemeralTTL time.Duration `yaml:"ephemeral_ttl"`
	SessionTTL   time.Duration `yaml:"session_ttl"`

	// EpisodeWindow is the number of turns per REGULAR episode.
	EpisodeWindow int `yaml:"episode_window"`

	// MinSummaryChars below which an episode skips embedding (SKIPPED).
	MinSummaryChars int `yaml:"min_summary_chars"`

	// ConsolidationWindow (W) is how many consecutive REGULAR episodes a
	// CONSOLIDATED episode spans; ConsolidationMinAge is how old they must be.
	ConsolidationWindow int           `yaml:"consolidation_window"`
	ConsolidationMinAge time.Duration `yaml:"consolidation_min_age"`

	// EpisodeClaimTimeout: IN_PROGRESS episodes older than this are reclaimed
	// to PENDING by the next worker pass.
	EpisodeClaimTimeout time.Duration `yaml:"episode_claim_timeout"`

	// DecayRatePerDay shrinks soft-signal confidence daily; below DecayFloor
	// the fact moves to DEPRECATED.
	DecayRatePerDay float64 `yaml:"decay_rate_per_day"`
	DecayFloor      float64 `yaml:"decay_floor"`
}

// DefaultMemoryConfig returns the built-in memory defaults.
func DefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{
		UtilityThreshold:        0.6,
		StabilityThreshold:      0.6,
		ConfidenceThreshold:     0.6,
		SoftSignalThreshold:     0.7,
		MinExtractionConfidence: 0.4,
		ConflictThreshold:       0.7,
		EphemeralTTL:            1 * time.Hour,
		SessionTTL:              24 * time.Hour,
		EpisodeWindow:           8,
		MinSummaryChars:         40,
		ConsolidationWindow:     5,
		ConsolidationMinAge:     7 * 24 * time.Hour,
		EpisodeClaimTimeout:     10 * time.Minute,
		DecayRatePerDay:         0.02,
		DecayFloor:              0.2,
	}
}

// ContextConfig controls the context builder's budgets.
type ContextConfig struct {
	// MaxTotalChars is the overall context budget B_total.
	MaxTotalChars int `yaml:"max_total_chars"`

	// MaxTranscriptTurns bounds the recent-history layer.
	MaxTranscriptTurns int `yaml:"max_transcript_turns"`

	// MaxEpisodes bounds episodic retrieval.
	MaxEpisodes int `yaml:"max_episodes"`

	// Per-section line caps.
	MaxIdentityLines     int `yaml:"max_identity_lines"`
	MaxHardFactLines     int `yaml:"max_hard_fact_lines"`
	MaxSoftSignalLines   int `yaml:"max_soft_signal_lines"`
	MaxOpenQuestionLines int `yaml:"max_open_question_lines"`

	// ConsolidatedBoost multiplies the similarity score of CONSOLIDATED
	// episodes during ranking.
	ConsolidatedBoost float64 `yaml:"consolidated_boost"`

	// CacheSimilarityThreshold gates semantic cache hits.
	CacheSimilarityThreshold float64 `yaml:"cache_similarity_threshold"`

	// CacheTTL bounds cached responses.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// DefaultContextConfig returns the built-in context defaults.
func DefaultContextConfig() *ContextConfig {
	return &ContextConfig{
		MaxTotalChars:            6000,
		MaxTranscriptTurns:       12,
		MaxEpisodes:              10,
		MaxIdentityLines:         10,
		MaxHardFactLines:         20,
		MaxSoftSignalLines:       20,
		MaxOpenQuestionLines:     10,
		ConsolidatedBoost:        1.1,
		CacheSimilarityThreshold: 0.92,
		CacheTTL:                 6 * time.Hour,
	}
}
