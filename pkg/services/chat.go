package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atlas-agent/atlas/pkg/catalog"
	"github.com/atlas-agent/atlas/pkg/config"
	"github.com/atlas-agent/atlas/pkg/events"
	"github.com/atlas-agent/atlas/pkg/extractor"
	"github.com/atlas-agent/atlas/pkg/memory"
	"github.com/atlas-agent/atlas/pkg/models"
	"github.com/atlas-agent/atlas/pkg/semcache"
	"github.com/atlas-agent/atlas/pkg/synthesizer"
	"github.com/atlas-agent/atlas/pkg/trace"
)

// chatGraph is the graph slice the chat pipeline needs.
type chatGraph interface {
	GetOrCreateSession(ctx context.Context, sessionID, userID string) (*models.Session, error)
	GetOrCreateUserPolicy(ctx context.Context, userID string, defaultMode models.MemoryMode) (models.UserPolicy, error)
	AppendTurn(ctx context.Context, turn models.Turn, userID string) (int, error)
	CreateTask(ctx context.Context, userID, rawText, dueAtRaw string, dueAt *time.Time) (string, error)
}

type contextBuilder interface {
	Build(ctx context.Context, req *models.RequestContext, policy models.UserPolicy, tr *trace.Record) error
}

type planner interface {
	Plan(ctx context.Context, req *models.RequestContext, tr *trace.Record) *models.Plan
}

type planExecutor interface {
	Execute(ctx context.Context, req *models.RequestContext, plan *models.Plan, stream *events.Stream, tr *trace.Record) []models.TaskResult
}

type replySynthesizer interface {
	Synthesize(ctx context.Context, in synthesizer.Input, stream *events.Stream, tr *trace.Record) (string, error)
}

type tripleExtractor interface {
	Extract(ctx context.Context, userID, message string, tr *trace.Record) ([]extractor.Result, error)
}

type factGate interface {
	Evaluate(ctx context.Context, userID string, t models.Triple, entry *catalog.Entry, policy models.UserPolicy) memory.Verdict
}

type lifecycleEngine interface {
	Apply(ctx context.Context, userID, turnID string, candidates []memory.Candidate) (map[string]memory.Outcome, error)
}

type queryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

type episodeCutter interface {
	MaybeCut(ctx context.Context, session *models.Session) error
}

// ChatDeps wires the chat service.
type ChatDeps struct {
	Graph       chatGraph
	Builder     contextBuilder
	Planner     planner
	Executor    planExecutor
	Synthesizer replySynthesizer
	Extractor   tripleExtractor
	Gate        factGate
	Engine      lifecycleEngine
	Embedder    queryEmbedder
	Cutter      episodeCutter
	Cache       *semcache.Cache
	Flags       *config.Flags
	Memory      *config.MemoryConfig
}

// ChatService runs one user message through the full pipeline.
type ChatService struct {
	deps ChatDeps
}

// NewChatService builds the chat service.
func NewChatService(deps ChatDeps) *ChatService {
	return &ChatService{deps: deps}
}

// ChatRequest is one incoming user message.
type ChatRequest struct {
	UserID    string `json:"-"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Style     string `json:"style,omitempty"`
}

// ChatResponse is the pipeline outcome for one message.
type ChatResponse struct {
	RequestID string        `json:"request_id"`
	Reply     string        `json:"reply"`
	Intent    string        `json:"intent,omitempty"`
	Topic     string        `json:"topic,omitempty"`
	Cached    bool          `json:"cached,omitempty"`
	Trace     *trace.Record `json:"trace,omitempty"`
}

// Chat executes the pipeline: cache check, context build, plan, execute,
// synthesize, transcript persistence, episode cut, async memory write. When
// stream is non-nil, events are published along the way.
func (s *ChatService) Chat(ctx context.Context, req ChatRequest, stream *events.Stream) (*ChatResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, NewValidationError("message", "mesaj boş olamaz")
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, NewValidationError("session_id", "oturum kimliği gerekli")
	}

	requestID := uuid.NewString()
	var tr *trace.Record
	if s.deps.Flags.Debug {
		tr = trace.New(requestID)
	}

	session, err := s.deps.Graph.GetOrCreateSession(ctx, req.SessionID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	policy, err := s.deps.Graph.GetOrCreateUserPolicy(ctx, req.UserID, s.deps.Flags.DefaultMemoryMode)
	if err != nil {
		return nil, fmt.Errorf("failed to load user policy: %w", err)
	}
	policy.SessionTTL = s.deps.Memory.SessionTTL
	policy.EphemeralTTL = s.deps.Memory.EphemeralTTL

	if violatesInputPolicy(req.Message) {
		return s.serveRefusal(ctx, req, requestID, session, stream, tr)
	}

	var queryEmbedding []float64
	if !s.deps.Flags.BypassSemanticCache {
		if s.deps.Embedder != nil {
			if emb, err := s.deps.Embedder.Embed(ctx, req.Message); err == nil {
				queryEmbedding = emb
			}
		}
		if entry, ok := s.deps.Cache.Get(ctx, req.UserID, req.Message, queryEmbedding); ok {
			return s.serveCached(ctx, req, requestID, session, entry, stream, tr)
		}
	}

	rc := &models.RequestContext{
		RequestID:   requestID,
		UserID:      req.UserID,
		SessionID:   req.SessionID,
		UserMessage: req.Message,
	}
	if err := s.deps.Builder.Build(ctx, rc, policy, tr); err != nil {
		// Context is an enhancement, not a prerequisite.
		slog.Warn("Context build failed, answering without memory", "request_id", requestID, "error", err)
	}

	turnCount, err := s.deps.Graph.AppendTurn(ctx, models.Turn{
		SessionID: req.SessionID,
		Role:      models.RoleUser,
		Content:   req.Message,
	}, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to persist user turn: %w", err)
	}
	turnID := fmt.Sprintf("%s:%d", req.SessionID, turnCount)

	plan := s.deps.Planner.Plan(ctx, rc, tr)
	if stream != nil {
		if plan.UserThought != "" {
			stream.Publish(events.Event{Type: events.TypeThought, Data: plan.UserThought})
		}
		stream.Publish(events.Event{Type: events.TypePlan, Data: plan})
	}

	results := s.deps.Executor.Execute(ctx, rc, plan, stream, tr)

	reply, err := s.deps.Synthesizer.Synthesize(ctx, synthesizer.Input{
		Req:          rc,
		Results:      results,
		Style:        req.Style,
		TurnCount:    session.TurnCount,
		TopicChanged: session.TurnCount > 0 && rc.Topic != session.Topic,
	}, stream, tr)
	if err != nil {
		return nil, fmt.Errorf("synthesis failed: %w", err)
	}

	if _, err := s.deps.Graph.AppendTurn(ctx, models.Turn{
		SessionID: req.SessionID,
		Role:      models.RoleAssistant,
		Content:   reply,
	}, req.UserID); err != nil {
		slog.Warn("Failed to persist assistant turn", "request_id", requestID, "error", err)
	}

	if s.deps.Cutter != nil {
		cutSession := *session
		cutSession.TurnCount = turnCount
		if err := s.deps.Cutter.MaybeCut(ctx, &cutSession); err != nil {
			slog.Warn("Episode cut failed", "session_id", req.SessionID, "error", err)
		}
	}

	// Conflicted answers ask the user a question; caching those would pin
	// the question past its resolution.
	if !s.deps.Flags.BypassSemanticCache && !rc.HasConflicts && len(queryEmbedding) > 0 {
		s.deps.Cache.Set(ctx, req.UserID, req.Message, reply, queryEmbedding)
	}

	go s.writeMemory(context.WithoutCancel(ctx), req.UserID, turnID, req.Message, policy)

	if stream != nil {
		stream.Publish(events.Event{Type: events.TypeDone, Data: map[string]string{"request_id": requestID}})
	}
	return &ChatResponse{
		RequestID: requestID,
		Reply:     reply,
		Intent:    rc.Intent,
		Topic:     rc.Topic,
		Trace:     tr,
	}, nil
}

// refusalText is the canned answer for requests the input gate rejects.
const refusalText = "Bu isteğe yardımcı olamıyorum. Başka bir konuda seve seve yardımcı olurum."

// injectionMarkers are normalized fragments of prompt-injection attempts.
// The gate is deliberately narrow: false positives cost real conversations.
var injectionMarkers = []string{
	"IGNORE_PREVIOUS_INSTRUCTIONS",
	"IGNORE_ALL_PREVIOUS_INSTRUCTIONS",
	"ONCEKI_TALIMATLARI_YOKSAY",
	"SISTEM_ISTEMINI_GOSTER",
	"SHOW_YOUR_SYSTEM_PROMPT",
}

// violatesInputPolicy screens the raw message before any model sees it.
func violatesInputPolicy(message string) bool {
	normalized := catalog.Normalize(message)
	for _, marker := range injectionMarkers {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}

// serveRefusal short-circuits to the canned refusal: the transcript stays
// complete, nothing reaches the planner, the memory, or the cache.
func (s *ChatService) serveRefusal(ctx context.Context, req ChatRequest, requestID string, session *models.Session, stream *events.Stream, tr *trace.Record) (*ChatResponse, error) {
	if _, err := s.deps.Graph.AppendTurn(ctx, models.Turn{
		SessionID: req.SessionID, Role: models.RoleUser, Content: req.Message,
	}, req.UserID); err != nil {
		return nil, fmt.Errorf("failed to persist user turn: %w", err)
	}
	if _, err := s.deps.Graph.AppendTurn(ctx, models.Turn{
		SessionID: req.SessionID, Role: models.RoleAssistant, Content: refusalText,
	}, req.UserID); err != nil {
		slog.Warn("Failed to persist assistant turn", "request_id", requestID, "error", err)
	}

	if stream != nil {
		stream.Publish(events.Event{Type: events.TypeChunk, Data: refusalText})
		stream.Publish(events.Event{Type: events.TypeDone, Data: map[string]string{"request_id": requestID}})
	}
	tr.AddStep("safety_gate", "blocked", 0)
	slog.Info("Input policy gate blocked message", "request_id", requestID, "user_id", req.UserID)
	return &ChatResponse{
		RequestID: requestID,
		Reply:     refusalText,
		Topic:     session.Topic,
		Trace:     tr,
	}, nil
}

// serveCached replays a cached answer while keeping the transcript complete.
func (s *ChatService) serveCached(ctx context.Context, req ChatRequest, requestID string, session *models.Session, entry *semcache.Entry, stream *events.Stream, tr *trace.Record) (*ChatResponse, error) {
	if _, err := s.deps.Graph.AppendTurn(ctx, models.Turn{
		SessionID: req.SessionID, Role: models.RoleUser, Content: req.Message,
	}, req.UserID); err != nil {
		return nil, fmt.Errorf("failed to persist user turn: %w", err)
	}
	if _, err := s.deps.Graph.AppendTurn(ctx, models.Turn{
		SessionID: req.SessionID, Role: models.RoleAssistant, Content: entry.Answer,
	}, req.UserID); err != nil {
		slog.Warn("Failed to persist assistant turn", "request_id", requestID, "error", err)
	}

	if stream != nil {
		stream.Publish(events.Event{Type: events.TypeChunk, Data: entry.Answer})
		stream.Publish(events.Event{Type: events.TypeDone, Data: map[string]string{"request_id": requestID}})
	}
	tr.AddStep("semantic_cache", "hit", 0)
	return &ChatResponse{
		RequestID: requestID,
		Reply:     entry.Answer,
		Topic:     session.Topic,
		Cached:    true,
		Trace:     tr,
	}, nil
}

// minExtractableRunes is the message length below which extraction is not
// attempted; greetings and acknowledgements carry no facts.
const minExtractableRunes = 10

// writeMemory is the background persistence pass: extract, gate, resolve,
// write, and invalidate the cache. It runs detached from the request.
func (s *ChatService) writeMemory(ctx context.Context, userID, turnID, message string, policy models.UserPolicy) {
	var results []extractor.Result
	if len([]rune(strings.TrimSpace(message))) >= minExtractableRunes {
		var err error
		results, err = s.deps.Extractor.Extract(ctx, userID, message, nil)
		if err != nil {
			slog.Warn("Fact extraction failed", "user_id", userID, "error", err)
		}
	}

	var candidates []memory.Candidate
	prospectiveSeen := false
	for _, r := range results {
		verdict := s.deps.Gate.Evaluate(ctx, userID, r.Triple, r.Entry, policy)
		switch verdict.Action {
		case memory.ActionStoreProspective:
			prospectiveSeen = true
			s.createReminder(ctx, userID, r.Triple.Object, message)
		case memory.ActionStore:
			t := r.Triple
			t.SourceTurnID = turnID
			candidates = append(candidates, memory.Candidate{Triple: t, Entry: r.Entry, Verdict: verdict})
		}
	}

	// Reminder requests pass even in memory-off mode and even when the
	// extractor saw nothing structured in the message.
	if !prospectiveSeen && hasReminderIntent(message) {
		s.createReminder(ctx, userID, message, message)
	}

	if len(candidates) == 0 {
		return
	}
	outcomes, err := s.deps.Engine.Apply(ctx, userID, turnID, candidates)
	if err != nil {
		slog.Error("Memory write failed", "user_id", userID, "error", err)
		return
	}
	slog.Info("Memory write finished", "user_id", userID, "facts", len(outcomes))

	if err := s.deps.Cache.PurgeUser(ctx, userID); err != nil {
		slog.Warn("Failed to purge semantic cache", "user_id", userID, "error", err)
	}
}

func (s *ChatService) createReminder(ctx context.Context, userID, text, source string) {
	due, raw := ParseDueDate(source, time.Now())
	id, err := s.deps.Graph.CreateTask(ctx, userID, text, raw, due)
	if err != nil {
		slog.Warn("Failed to create prospective task", "user_id", userID, "error", err)
		return
	}
	slog.Info("Prospective task created", "task_id", id, "user_id", userID, "dated", due != nil)
}
