// Package scheduler runs the periodic background jobs of the service.
// Every instance ticks its own jobs; jobs marked leader-only run on the
// single instance currently holding the scheduler lock.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/atlas-agent/atlas/pkg/config"
)

// Job is one periodic unit of background work. Runs must be idempotent: a
// leader change can replay a tick on another instance.
type Job interface {
	Name() string
	Interval() time.Duration
	LeaderOnly() bool
	Run(ctx context.Context) error
}

// lockStore is the graph slice used for leader election.
type lockStore interface {
	TryAcquireLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, holder string) error
}

// Coordinator owns the job loops and the leadership flag.
type Coordinator struct {
	locks  lockStore
	cfg    *config.SchedulerConfig
	holder string
	jobs   []Job

	leader   atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCoordinator builds a coordinator with a unique holder identity.
func NewCoordinator(locks lockStore, cfg *config.SchedulerConfig) *Coordinator {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "atlas"
	}
	return &Coordinator{
		locks:  locks,
		cfg:    cfg,
		holder: hostname + "-" + uuid.NewString()[:8],
		stopCh: make(chan struct{}),
	}
}

// Register adds jobs before Start.
func (c *Coordinator) Register(jobs ...Job) {
	c.jobs = append(c.jobs, jobs...)
}

// IsLeader reports the current leadership state.
func (c *Coordinator) IsLeader() bool {
	return c.leader.Load()
}

// Holder returns the election identity of this instance.
func (c *Coordinator) Holder() string {
	return c.holder
}

// Start launches the election loop and one goroutine per registered job.
func (c *Coordinator) Start() {
	c.elect()

	c.wg.Add(1)
	go c.electionLoop()

	for _, job := range c.jobs {
		c.wg.Add(1)
		go c.jobLoop(job)
	}
	slog.Info("Scheduler started", "holder", c.holder, "jobs", len(c.jobs), "leader", c.IsLeader())
}

// Stop shuts the loops down and releases the lock if held.
func (c *Coordinator) Stop(ctx context.Context) {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()

	if c.leader.Load() {
		if err := c.locks.ReleaseLock(ctx, c.cfg.LockName, c.holder); err != nil {
			slog.Warn("Failed to release scheduler lock", "error", err)
		}
		c.leader.Store(false)
	}
	slog.Info("Scheduler stopped", "holder", c.holder)
}

func (c *Coordinator) electionLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.ElectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.elect()
		}
	}
}

// elect attempts the lock once and updates leadership, logging transitions.
func (c *Coordinator) elect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	acquired, err := c.locks.TryAcquireLock(ctx, c.cfg.LockName, c.holder, c.cfg.LockTTL)
	if err != nil {
		// A failed attempt drops leadership: better to stall leader-only
		// jobs than to run them on two instances.
		slog.Warn("Leader election attempt failed", "holder", c.holder, "error", err)
		acquired = false
	}

	was := c.leader.Swap(acquired)
	switch {
	case acquired && !was:
		slog.Info("Promoted to scheduler leader", "holder", c.holder)
	case !acquired && was:
		slog.Info("Demoted from scheduler leader", "holder", c.holder)
	}
}

func (c *Coordinator) jobLoop(job Job) {
	defer c.wg.Done()

	timer := time.NewTimer(c.jittered(job.Interval()))
	defer timer.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-timer.C:
		}

		if !job.LeaderOnly() || c.IsLeader() {
			c.runJob(job)
		}
		timer.Reset(c.jittered(job.Interval()))
	}
}

func (c *Coordinator) runJob(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), job.Interval())
	defer cancel()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		slog.Error("Background job failed", "job", job.Name(), "duration", time.Since(start), "error", err)
		return
	}
	slog.Debug("Background job finished", "job", job.Name(), "duration", time.Since(start))
}

// jittered spreads an interval by ±JitterFraction so replicas drift apart.
func (c *Coordinator) jittered(d time.Duration) time.Duration {
	frac := c.cfg.JitterFraction
	if frac <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * frac * float64(d)
	return d + time.Duration(delta)
}
