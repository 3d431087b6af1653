package models

// RequestContext carries the process-local state of one chat request through
// the pipeline: orchestrator, context builder, executor, synthesizer. It is
// constructed once per request and never persisted.
type RequestContext struct {
	RequestID   string
	UserID      string
	SessionID   string
	UserMessage string

	// IdentityFacts are pre-fetched anchor facts used by the synthesizer's
	// memory-voice preamble.
	IdentityFacts []FactRelation

	// ContextInjection is the prebuilt context string from the context builder.
	ContextInjection string

	// History is the recent transcript slice, chronological.
	History []Turn

	// Intent and topic as resolved by the orchestrator.
	Intent string
	Topic  string

	// HasConflicts is set when the injected context carries CONFLICTED
	// markers; the synthesizer appends a clarification instruction.
	HasConflicts bool
}

// Intent labels produced by the context builder's classifier.
const (
	IntentPersonal = "PERSONAL"
	IntentTask     = "TASK"
	IntentFollowup = "FOLLOWUP"
	IntentGeneral  = "GENERAL"
	IntentMixed    = "MIXED"
)
