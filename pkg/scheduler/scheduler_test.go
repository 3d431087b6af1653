package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-agent/atlas/pkg/config"
	"github.com/atlas-agent/atlas/pkg/graph"
	"github.com/atlas-agent/atlas/pkg/models"
)

type fakeLocks struct {
	mu       sync.Mutex
	grant    bool
	err      error
	released bool
}

func (f *fakeLocks) TryAcquireLock(context.Context, string, string, time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.grant, f.err
}

func (f *fakeLocks) ReleaseLock(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = true
	return nil
}

func (f *fakeLocks) setGrant(grant bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grant = grant
}

func testConfig() *config.SchedulerConfig {
	cfg := config.DefaultSchedulerConfig()
	cfg.ElectionInterval = 10 * time.Millisecond
	cfg.JitterFraction = 0
	return cfg
}

type countingJob struct {
	mu         sync.Mutex
	runs       int
	leaderOnly bool
	every      time.Duration
}

func (j *countingJob) Name() string            { return "counting" }
func (j *countingJob) Interval() time.Duration { return j.every }
func (j *countingJob) LeaderOnly() bool        { return j.leaderOnly }

func (j *countingJob) Run(context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.runs++
	return nil
}

func (j *countingJob) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runs
}

func TestCoordinatorPromotionAndDemotion(t *testing.T) {
	locks := &fakeLocks{grant: true}
	c := NewCoordinator(locks, testConfig())
	c.Start()
	defer c.Stop(context.Background())

	require.Eventually(t, c.IsLeader, time.Second, 5*time.Millisecond)

	locks.setGrant(false)
	require.Eventually(t, func() bool { return !c.IsLeader() }, time.Second, 5*time.Millisecond)
}

func TestCoordinatorElectionErrorDropsLeadership(t *testing.T) {
	locks := &fakeLocks{grant: true}
	c := NewCoordinator(locks, testConfig())
	c.Start()
	require.Eventually(t, c.IsLeader, time.Second, 5*time.Millisecond)

	locks.mu.Lock()
	locks.err = fmt.Errorf("db down")
	locks.mu.Unlock()
	require.Eventually(t, func() bool { return !c.IsLeader() }, time.Second, 5*time.Millisecond)
	c.Stop(context.Background())
}

func TestLeaderOnlyJobGated(t *testing.T) {
	locks := &fakeLocks{grant: false}
	c := NewCoordinator(locks, testConfig())
	job := &countingJob{leaderOnly: true, every: 10 * time.Millisecond}
	c.Register(job)
	c.Start()

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, job.count(), "leader-only job never runs on a follower")

	locks.setGrant(true)
	require.Eventually(t, func() bool { return job.count() > 0 }, time.Second, 5*time.Millisecond)
	c.Stop(context.Background())
}

func TestStopReleasesLockWhenLeader(t *testing.T) {
	locks := &fakeLocks{grant: true}
	c := NewCoordinator(locks, testConfig())
	c.Start()
	require.Eventually(t, c.IsLeader, time.Second, 5*time.Millisecond)

	c.Stop(context.Background())
	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.True(t, locks.released)
}

type fakeDecay struct {
	decayed, deprecated, expired int64
}

func (f *fakeDecay) DecaySoftSignals(context.Context, float64, float64) (int64, int64, error) {
	f.decayed = 4
	f.deprecated = 1
	return 4, 1, nil
}

func (f *fakeDecay) ExpireFacts(context.Context) (int64, error) {
	f.expired = 2
	return 2, nil
}

func TestDecayJob(t *testing.T) {
	facts := &fakeDecay{}
	job := &DecayJob{Facts: facts, Cfg: config.DefaultMemoryConfig(), Every: time.Hour}
	require.NoError(t, job.Run(context.Background()))
	assert.EqualValues(t, 4, facts.decayed)
	assert.EqualValues(t, 1, facts.deprecated)
	assert.EqualValues(t, 2, facts.expired)
}

type fakeRetention struct{ windows graph.RetentionWindows }

func (f *fakeRetention) ApplyRetention(_ context.Context, w graph.RetentionWindows) (graph.RetentionResult, error) {
	f.windows = w
	return graph.RetentionResult{Turns: 10}, nil
}

func TestMaintenanceJob(t *testing.T) {
	store := &fakeRetention{}
	cfg := config.DefaultSchedulerConfig()
	job := &MaintenanceJob{Store: store, Cfg: cfg}
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, cfg.TurnRetention, store.windows.Turns)
	assert.Equal(t, cfg.FactRetention, store.windows.Facts)
	assert.Equal(t, cfg.MoodRetention, store.windows.Moods)
}

type fakeEpisodeRunner struct{ queue, runs int }

func (f *fakeEpisodeRunner) RunOnce(context.Context) (bool, error) {
	f.runs++
	if f.queue == 0 {
		return false, nil
	}
	f.queue--
	return true, nil
}

func TestEpisodeJobDrainsBounded(t *testing.T) {
	t.Run("stops when queue is empty", func(t *testing.T) {
		runner := &fakeEpisodeRunner{queue: 3}
		job := &EpisodeJob{Worker: runner, Every: time.Minute, MaxPerTick: 10}
		require.NoError(t, job.Run(context.Background()))
		assert.Equal(t, 4, runner.runs)
	})

	t.Run("honors per-tick bound", func(t *testing.T) {
		runner := &fakeEpisodeRunner{queue: 100}
		job := &EpisodeJob{Worker: runner, Every: time.Minute, MaxPerTick: 5}
		require.NoError(t, job.Run(context.Background()))
		assert.Equal(t, 5, runner.runs)
	})
}

type fakeDueStore struct {
	mu       sync.Mutex
	tasks    []models.ProspectiveTask
	inserted []models.Notification
	notified []string

	users  []string
	policy models.UserPolicy
	unread []models.Notification
	open   []models.ProspectiveTask
}

func (f *fakeDueStore) DueTasks(context.Context, time.Duration) ([]models.ProspectiveTask, error) {
	return f.tasks, nil
}

func (f *fakeDueStore) InsertNotification(_ context.Context, n models.Notification) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, n)
	return "n1", nil
}

func (f *fakeDueStore) MarkTaskNotified(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, id)
	return nil
}

func (f *fakeDueStore) AllUserIDs(context.Context) ([]string, error) { return f.users, nil }

func (f *fakeDueStore) GetOrCreateUserPolicy(context.Context, string, models.MemoryMode) (models.UserPolicy, error) {
	return f.policy, nil
}

func (f *fakeDueStore) UnreadNotifications(context.Context, string, int) ([]models.Notification, error) {
	return f.unread, nil
}

func (f *fakeDueStore) OpenTasks(context.Context, string) ([]models.ProspectiveTask, error) {
	return f.open, nil
}

func TestDueScannerJob(t *testing.T) {
	store := &fakeDueStore{tasks: []models.ProspectiveTask{
		{ID: "t1", UserID: "u1", RawText: "ilaç al"},
		{ID: "t2", UserID: "u2", RawText: "fatura öde"},
	}}
	job := &DueScannerJob{Store: store, Cfg: config.DefaultSchedulerConfig()}
	require.NoError(t, job.Run(context.Background()))

	require.Len(t, store.inserted, 2)
	assert.Equal(t, models.NotificationTypeTaskDue, store.inserted[0].Type)
	assert.Contains(t, store.inserted[0].Message, "ilaç al")
	assert.Equal(t, []string{"t1", "t2"}, store.notified)
}

func TestObserverJob(t *testing.T) {
	stale := models.ProspectiveTask{
		ID: "t1", UserID: "u1", RawText: "kitap iade et",
		CreatedAt: time.Now().Add(-48 * time.Hour),
	}

	t.Run("nudges stale undated task", func(t *testing.T) {
		store := &fakeDueStore{
			users:  []string{"u1"},
			policy: models.UserPolicy{NotifyOptIn: true},
			open:   []models.ProspectiveTask{stale},
		}
		job := &ObserverJob{Store: store, Cfg: config.DefaultSchedulerConfig(), DefaultMode: models.MemoryModeStandard}
		require.NoError(t, job.Run(context.Background()))
		require.Len(t, store.inserted, 1)
		assert.Equal(t, models.NotificationTypeObserver, store.inserted[0].Type)
	})

	t.Run("skips opted-out user", func(t *testing.T) {
		store := &fakeDueStore{
			users:  []string{"u1"},
			policy: models.UserPolicy{NotifyOptIn: false},
			open:   []models.ProspectiveTask{stale},
		}
		job := &ObserverJob{Store: store, Cfg: config.DefaultSchedulerConfig(), DefaultMode: models.MemoryModeStandard}
		require.NoError(t, job.Run(context.Background()))
		assert.Empty(t, store.inserted)
	})

	t.Run("unread observer notification keeps job idempotent", func(t *testing.T) {
		store := &fakeDueStore{
			users:  []string{"u1"},
			policy: models.UserPolicy{NotifyOptIn: true},
			unread: []models.Notification{{Type: models.NotificationTypeObserver}},
			open:   []models.ProspectiveTask{stale},
		}
		job := &ObserverJob{Store: store, Cfg: config.DefaultSchedulerConfig(), DefaultMode: models.MemoryModeStandard}
		require.NoError(t, job.Run(context.Background()))
		assert.Empty(t, store.inserted)
	})

	t.Run("recent or dated tasks ignored", func(t *testing.T) {
		due := time.Now().Add(time.Hour)
		store := &fakeDueStore{
			users:  []string{"u1"},
			policy: models.UserPolicy{NotifyOptIn: true},
			open: []models.ProspectiveTask{
				{ID: "t2", UserID: "u1", RawText: "yeni görev", CreatedAt: time.Now()},
				{ID: "t3", UserID: "u1", RawText: "tarihli görev", DueAt: &due, CreatedAt: time.Now().Add(-72 * time.Hour)},
			},
		}
		job := &ObserverJob{Store: store, Cfg: config.DefaultSchedulerConfig(), DefaultMode: models.MemoryModeStandard}
		require.NoError(t, job.Run(context.Background()))
		assert.Empty(t, store.inserted)
	})
}
