package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/atlas-agent/atlas/pkg/config"
	"github.com/atlas-agent/atlas/pkg/graph"
	"github.com/atlas-agent/atlas/pkg/models"
)

// HeartbeatJob keeps the database connection hot on every instance.
type HeartbeatJob struct {
	DB interface {
		HealthCheck(ctx context.Context) error
	}
	Every time.Duration
}

func (j *HeartbeatJob) Name() string            { return "heartbeat" }
func (j *HeartbeatJob) Interval() time.Duration { return j.Every }
func (j *HeartbeatJob) LeaderOnly() bool        { return false }

func (j *HeartbeatJob) Run(ctx context.Context) error {
	return j.DB.HealthCheck(ctx)
}

// decayStore is the graph slice the decay job needs.
type decayStore interface {
	DecaySoftSignals(ctx context.Context, rate, floor float64) (decayed, deprecated int64, err error)
	ExpireFacts(ctx context.Context) (int64, error)
}

// DecayJob ages soft signals and expires time-bounded facts. It runs on any
// instance; both operations are idempotent per day.
type DecayJob struct {
	Facts decayStore
	Cfg   *config.MemoryConfig
	Every time.Duration
}

func (j *DecayJob) Name() string            { return "decay" }
func (j *DecayJob) Interval() time.Duration { return j.Every }
func (j *DecayJob) LeaderOnly() bool        { return false }

func (j *DecayJob) Run(ctx context.Context) error {
	decayed, deprecated, err := j.Facts.DecaySoftSignals(ctx, j.Cfg.DecayRatePerDay, j.Cfg.DecayFloor)
	if err != nil {
		return fmt.Errorf("soft-signal decay failed: %w", err)
	}
	expired, err := j.Facts.ExpireFacts(ctx)
	if err != nil {
		return fmt.Errorf("fact expiry failed: %w", err)
	}
	if decayed > 0 || deprecated > 0 || expired > 0 {
		slog.Info("Decay sweep finished",
			"decayed", decayed, "deprecated", deprecated, "expired", expired)
	}
	return nil
}

// retentionStore is the graph slice the maintenance job needs.
type retentionStore interface {
	ApplyRetention(ctx context.Context, w graph.RetentionWindows) (graph.RetentionResult, error)
}

// MaintenanceJob prunes aged rows per the retention windows.
type MaintenanceJob struct {
	Store retentionStore
	Cfg   *config.SchedulerConfig
}

func (j *MaintenanceJob) Name() string            { return "maintenance" }
func (j *MaintenanceJob) Interval() time.Duration { return j.Cfg.MaintenanceInterval }
func (j *MaintenanceJob) LeaderOnly() bool        { return true }

func (j *MaintenanceJob) Run(ctx context.Context) error {
	result, err := j.Store.ApplyRetention(ctx, graph.RetentionWindows{
		Turns:         j.Cfg.TurnRetention,
		Episodes:      j.Cfg.EpisodeRetention,
		Notifications: j.Cfg.NotificationRetention,
		Tasks:         j.Cfg.DoneTaskRetention,
		Facts:         j.Cfg.FactRetention,
		Moods:         j.Cfg.MoodRetention,
	})
	if err != nil {
		return err
	}
	slog.Info("Retention sweep finished",
		"turns", result.Turns,
		"episodes", result.Episodes,
		"notifications", result.Notifications,
		"tasks", result.Tasks,
		"facts", result.Facts,
		"moods", result.Moods)
	return nil
}

// episodeRunner processes one pending episode per call.
type episodeRunner interface {
	RunOnce(ctx context.Context) (bool, error)
}

// EpisodeJob drains the episode queue, bounded per tick.
type EpisodeJob struct {
	Worker     episodeRunner
	Every      time.Duration
	MaxPerTick int
}

func (j *EpisodeJob) Name() string            { return "episode_worker" }
func (j *EpisodeJob) Interval() time.Duration { return j.Every }
func (j *EpisodeJob) LeaderOnly() bool        { return true }

func (j *EpisodeJob) Run(ctx context.Context) error {
	limit := j.MaxPerTick
	if limit <= 0 {
		limit = 10
	}
	for i := 0; i < limit; i++ {
		processed, err := j.Worker.RunOnce(ctx)
		if err != nil {
			return err
		}
		if !processed {
			return nil
		}
	}
	return nil
}

// consolidationRunner folds old episode windows.
type consolidationRunner interface {
	RunOnce(ctx context.Context) (int, error)
}

// ConsolidationJob creates long-range episode summaries.
type ConsolidationJob struct {
	Consolidator consolidationRunner
	Every        time.Duration
}

func (j *ConsolidationJob) Name() string            { return "consolidation" }
func (j *ConsolidationJob) Interval() time.Duration { return j.Every }
func (j *ConsolidationJob) LeaderOnly() bool        { return true }

func (j *ConsolidationJob) Run(ctx context.Context) error {
	_, err := j.Consolidator.RunOnce(ctx)
	return err
}

// dueStore is the graph slice the due scanner needs.
type dueStore interface {
	DueTasks(ctx context.Context, cooldown time.Duration) ([]models.ProspectiveTask, error)
	InsertNotification(ctx context.Context, n models.Notification) (string, error)
	MarkTaskNotified(ctx context.Context, id string) error
}

// DueScannerJob notifies users about due reminders, honoring the cooldown.
type DueScannerJob struct {
	Store dueStore
	Cfg   *config.SchedulerConfig
}

func (j *DueScannerJob) Name() string            { return "due_scanner" }
func (j *DueScannerJob) Interval() time.Duration { return j.Cfg.DueScannerInterval }
func (j *DueScannerJob) LeaderOnly() bool        { return true }

func (j *DueScannerJob) Run(ctx context.Context) error {
	tasks, err := j.Store.DueTasks(ctx, j.Cfg.DueNotifyCooldown)
	if err != nil {
		return fmt.Errorf("due-task scan failed: %w", err)
	}
	for _, task := range tasks {
		taskID := task.ID
		_, err := j.Store.InsertNotification(ctx, models.Notification{
			UserID:        task.UserID,
			Message:       "Hatırlatma: " + task.RawText,
			Type:          models.NotificationTypeTaskDue,
			Reason:        "due_task",
			RelatedTaskID: &taskID,
		})
		if err != nil {
			slog.Warn("Failed to insert due notification", "task_id", task.ID, "error", err)
			continue
		}
		if err := j.Store.MarkTaskNotified(ctx, task.ID); err != nil {
			slog.Warn("Failed to mark task notified", "task_id", task.ID, "error", err)
		}
	}
	return nil
}

// observerStore is the graph slice the observer batch needs.
type observerStore interface {
	AllUserIDs(ctx context.Context) ([]string, error)
	GetOrCreateUserPolicy(ctx context.Context, userID string, defaultMode models.MemoryMode) (models.UserPolicy, error)
	UnreadNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	OpenTasks(ctx context.Context, userID string) ([]models.ProspectiveTask, error)
	InsertNotification(ctx context.Context, n models.Notification) (string, error)
}

// observerNudgeAge is how long an undated reminder may sit before the
// observer nudges its owner.
const observerNudgeAge = 24 * time.Hour

// ObserverJob fans out over opted-in users and emits proactive nudges for
// reminders that never got a due date. One unread observer notification per
// user at a time keeps the job idempotent across ticks.
type ObserverJob struct {
	Store       observerStore
	Cfg         *config.SchedulerConfig
	DefaultMode models.MemoryMode
}

func (j *ObserverJob) Name() string            { return "observer" }
func (j *ObserverJob) Interval() time.Duration { return j.Cfg.ObserverInterval }
func (j *ObserverJob) LeaderOnly() bool        { return true }

func (j *ObserverJob) Run(ctx context.Context) error {
	users, err := j.Store.AllUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("observer user scan failed: %w", err)
	}

	sem := semaphore.NewWeighted(int64(j.Cfg.FanoutConcurrency))
	var wg sync.WaitGroup
	for _, userID := range users {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			defer sem.Release(1)
			if err := j.observeUser(ctx, userID); err != nil {
				slog.Warn("Observer pass failed for user", "user_id", userID, "error", err)
			}
		}(userID)
	}
	wg.Wait()
	return nil
}

func (j *ObserverJob) observeUser(ctx context.Context, userID string) error {
	policy, err := j.Store.GetOrCreateUserPolicy(ctx, userID, j.DefaultMode)
	if err != nil {
		return err
	}
	if !policy.NotifyOptIn {
		return nil
	}

	unread, err := j.Store.UnreadNotifications(ctx, userID, 50)
	if err != nil {
		return err
	}
	for _, n := range unread {
		if n.Type == models.NotificationTypeObserver {
			return nil
		}
	}

	tasks, err := j.Store.OpenTasks(ctx, userID)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-observerNudgeAge)
	for _, task := range tasks {
		if task.DueAt != nil || task.CreatedAt.After(cutoff) {
			continue
		}
		taskID := task.ID
		_, err := j.Store.InsertNotification(ctx, models.Notification{
			UserID:        userID,
			Message:       fmt.Sprintf("Bekleyen hatırlatıcın var: %s. Bir zaman belirlemek ister misin?", task.RawText),
			Type:          models.NotificationTypeObserver,
			Reason:        "stale_open_task",
			RelatedTaskID: &taskID,
		})
		return err
	}
	return nil
}
