// Package executor runs a validated plan as a layered DAG: every pass runs
// all tasks whose dependencies are complete, in parallel, until the plan is
// exhausted. Task failures degrade into failed results instead of aborting
// the request.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atlas-agent/atlas/pkg/catalog"
	"github.com/atlas-agent/atlas/pkg/config"
	"github.com/atlas-agent/atlas/pkg/events"
	"github.com/atlas-agent/atlas/pkg/llm"
	"github.com/atlas-agent/atlas/pkg/models"
	"github.com/atlas-agent/atlas/pkg/semcache"
	"github.com/atlas-agent/atlas/pkg/trace"
)

// failedDepText replaces a {tX.output} placeholder whose source task failed.
const failedDepText = "[Hata: %s verisi alınamadı]"

var (
	placeholderRe = regexp.MustCompile(`\{([A-Za-z0-9_-]+)\.output\}`)
	thoughtRe     = regexp.MustCompile(`(?s)^\s*<thought>(.*?)</thought>\s*`)
)

// completer is the slice of the model router the executor needs.
type completer interface {
	Complete(ctx context.Context, role string, req llm.Request, tr *trace.Record) (string, config.ModelRef, error)
}

// factOps are the privileged graph operations behind memory_control tasks.
type factOps interface {
	DeprecateEntity(ctx context.Context, userID, entity string) (int64, error)
	DeprecateUserFacts(ctx context.Context, userID string) (int64, error)
	DeleteUserFacts(ctx context.Context, userID string) (int64, error)
}

// corrector applies an explicit user correction to the fact graph.
type corrector interface {
	Correct(ctx context.Context, userID, turnID, subject, predicateRaw, newObject string, cat *catalog.Catalog) (int64, error)
}

// Executor runs plans.
type Executor struct {
	llm         completer
	facts       factOps
	corrector   corrector
	cache       *semcache.Cache
	cat         *catalog.Catalog
	tools       *Registry
	parallelism int
}

// New builds an executor. A nil registry gets the built-in tool set.
func New(llmClient completer, facts factOps, corr corrector, cache *semcache.Cache, cat *catalog.Catalog, tools *Registry) *Executor {
	if tools == nil {
		tools = DefaultRegistry()
	}
	return &Executor{
		llm:         llmClient,
		facts:       facts,
		corrector:   corr,
		cache:       cache,
		cat:         cat,
		tools:       tools,
		parallelism: 4,
	}
}

// Execute runs the plan and returns one result per task, in plan order.
// Events for thoughts and finished tasks go to stream when it is non-nil.
func (e *Executor) Execute(ctx context.Context, req *models.RequestContext, plan *models.Plan, stream *events.Stream, tr *trace.Record) []models.TaskResult {
	var mu sync.Mutex
	results := make(map[string]models.TaskResult, len(plan.Tasks))

	remaining := make([]models.PlanTask, len(plan.Tasks))
	copy(remaining, plan.Tasks)

	for len(remaining) > 0 {
		ready, blocked := partitionReady(remaining, results)
		if len(ready) == 0 {
			// Unreachable for validated plans; guard against a stall anyway.
			for _, task := range blocked {
				results[task.ID] = failure(task, "çözülemeyen görev bağımlılığı")
			}
			break
		}

		start := time.Now()
		g, layerCtx := errgroup.WithContext(ctx)
		g.SetLimit(e.parallelism)
		for _, task := range ready {
			task := task
			g.Go(func() error {
				mu.Lock()
				snapshot := snapshotResults(results)
				mu.Unlock()

				res := e.runTask(layerCtx, req, task, snapshot, stream, tr)

				mu.Lock()
				results[task.ID] = res
				mu.Unlock()
				publish(stream, events.Event{Type: events.TypeTaskResult, Data: res})
				return nil
			})
		}
		_ = g.Wait()
		if tr != nil {
			tr.AddStep("executor_layer", fmt.Sprintf("%d task", len(ready)), time.Since(start))
		}
		remaining = blocked
	}

	ordered := make([]models.TaskResult, 0, len(plan.Tasks))
	for _, task := range plan.Tasks {
		if res, ok := results[task.ID]; ok {
			ordered = append(ordered, res)
		}
	}
	publish(stream, events.Event{Type: events.TypeTasksDone})
	return ordered
}

// partitionReady splits tasks into those whose dependencies are all complete
// and the rest.
func partitionReady(tasks []models.PlanTask, done map[string]models.TaskResult) (ready, blocked []models.PlanTask) {
	for _, task := range tasks {
		ok := true
		for _, dep := range task.Dependencies {
			if _, complete := done[dep]; !complete {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, task)
		} else {
			blocked = append(blocked, task)
		}
	}
	return ready, blocked
}

func snapshotResults(results map[string]models.TaskResult) map[string]models.TaskResult {
	out := make(map[string]models.TaskResult, len(results))
	for id, res := range results {
		out[id] = res
	}
	return out
}

func (e *Executor) runTask(ctx context.Context, req *models.RequestContext, task models.PlanTask, done map[string]models.TaskResult, stream *events.Stream, tr *trace.Record) models.TaskResult {
	switch task.Type {
	case models.TaskTypeTool:
		return e.runTool(ctx, task)
	case models.TaskTypeGeneration, models.TaskTypeContextClarification:
		return e.runGeneration(ctx, req, task, done, stream, tr)
	case models.TaskTypeMemoryControl:
		return e.runMemoryControl(ctx, req, task)
	default:
		return failure(task, fmt.Sprintf("bilinmeyen görev türü: %s", task.Type))
	}
}

func (e *Executor) runTool(ctx context.Context, task models.PlanTask) models.TaskResult {
	tool, ok := e.tools.Get(task.ToolName)
	if !ok {
		return failure(task, fmt.Sprintf("bilinmeyen araç: %s", task.ToolName))
	}
	if err := validateParams(tool.Schema(), task.Params); err != nil {
		return failure(task, fmt.Sprintf("geçersiz araç parametreleri: %v", err))
	}
	output, err := tool.Invoke(ctx, task.Params)
	if err != nil {
		slog.Warn("Tool invocation failed", "tool", task.ToolName, "task_id", task.ID, "error", err)
		return failure(task, err.Error())
	}
	return success(task, output)
}

func (e *Executor) runGeneration(ctx context.Context, req *models.RequestContext, task models.PlanTask, done map[string]models.TaskResult, stream *events.Stream, tr *trace.Record) models.TaskResult {
	prompt := Substitute(task.Prompt, done)

	raw, _, err := e.llm.Complete(ctx, task.Specialist, llm.Request{
		System:      req.ContextInjection,
		Prompt:      prompt,
		Temperature: 0.7,
	}, tr)
	if err != nil {
		slog.Warn("Generation task failed", "task_id", task.ID, "error", err)
		return failure(task, "üretim görevi tamamlanamadı")
	}

	thought, body := SplitThought(raw)
	if thought != "" {
		publish(stream, events.Event{Type: events.TypeThought, Data: thought})
	}
	return success(task, body)
}

func (e *Executor) runMemoryControl(ctx context.Context, req *models.RequestContext, task models.PlanTask) models.TaskResult {
	switch task.Instruction {
	case "forget_entity":
		entity, _ := task.Params["entity"].(string)
		if strings.TrimSpace(entity) == "" {
			return failure(task, "forget_entity için 'entity' parametresi gerekli")
		}
		n, err := e.facts.DeprecateEntity(ctx, req.UserID, entity)
		if err != nil {
			slog.Error("Failed to forget entity", "user_id", req.UserID, "error", err)
			return failure(task, "bellek işlemi başarısız oldu")
		}
		e.purgeCache(ctx, req.UserID)
		return success(task, fmt.Sprintf("%q ile ilgili %d kayıt arşivlendi.", entity, n))

	case "forget_all":
		hardDelete, _ := task.Params["hard_delete"].(bool)
		var (
			n   int64
			err error
		)
		if hardDelete {
			n, err = e.facts.DeleteUserFacts(ctx, req.UserID)
		} else {
			n, err = e.facts.DeprecateUserFacts(ctx, req.UserID)
		}
		if err != nil {
			slog.Error("Failed to forget user facts", "user_id", req.UserID, "hard_delete", hardDelete, "error", err)
			return failure(task, "bellek işlemi başarısız oldu")
		}
		e.purgeCache(ctx, req.UserID)
		return success(task, fmt.Sprintf("Hakkında bildiğim %d kayıt silindi.", n))

	case "correct":
		subject, _ := task.Params["subject"].(string)
		predicate, _ := task.Params["predicate"].(string)
		newObject, _ := task.Params["new_object"].(string)
		if subject == "" || predicate == "" {
			return failure(task, "correct için 'subject' ve 'predicate' parametreleri gerekli")
		}
		if subject == "kullanıcı" || subject == "ben" {
			subject = models.AnchorName(req.UserID)
		}
		n, err := e.corrector.Correct(ctx, req.UserID, req.RequestID, subject, predicate, newObject, e.cat)
		if err != nil {
			slog.Error("Failed to apply correction", "user_id", req.UserID, "error", err)
			return failure(task, "düzeltme uygulanamadı")
		}
		e.purgeCache(ctx, req.UserID)
		return success(task, fmt.Sprintf("Düzeltme uygulandı, %d eski kayıt geri çekildi.", n))

	default:
		return failure(task, fmt.Sprintf("bilinmeyen bellek komutu: %s", task.Instruction))
	}
}

// purgeCache invalidates the user's semantic cache after any memory write.
// Best effort; a stale cache entry is worse than a missed one.
func (e *Executor) purgeCache(ctx context.Context, userID string) {
	if err := e.cache.PurgeUser(ctx, userID); err != nil {
		slog.Warn("Failed to purge semantic cache", "user_id", userID, "error", err)
	}
}

// Substitute replaces {tX.output} placeholders with prior task outputs.
// A missing or failed dependency yields a Turkish error marker instead of
// aborting, so downstream prompts stay coherent.
func Substitute(prompt string, done map[string]models.TaskResult) string {
	return placeholderRe.ReplaceAllStringFunc(prompt, func(match string) string {
		id := placeholderRe.FindStringSubmatch(match)[1]
		res, ok := done[id]
		if !ok || !res.Succeeded() {
			return fmt.Sprintf(failedDepText, id)
		}
		return res.Output
	})
}

// SplitThought peels a leading <thought>...</thought> block off a model
// response, returning the thought and the remaining body.
func SplitThought(raw string) (thought, body string) {
	m := thoughtRe.FindStringSubmatch(raw)
	if m == nil {
		return "", strings.TrimSpace(raw)
	}
	return strings.TrimSpace(m[1]), strings.TrimSpace(raw[len(m[0]):])
}

func publish(stream *events.Stream, e events.Event) {
	if stream != nil {
		stream.Publish(e)
	}
}

func success(task models.PlanTask, output string) models.TaskResult {
	return models.TaskResult{
		TaskID:   task.ID,
		Type:     task.Type,
		ToolName: task.ToolName,
		Output:   output,
		Status:   models.TaskResultOK,
	}
}

func failure(task models.PlanTask, msg string) models.TaskResult {
	return models.TaskResult{
		TaskID:   task.ID,
		Type:     task.Type,
		ToolName: task.ToolName,
		Error:    msg,
		Status:   models.TaskResultFailed,
	}
}
