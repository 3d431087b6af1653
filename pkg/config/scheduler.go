package config

import "time"

// SchedulerConfig contains background job intervals and the leader election
// parameters. Intervals carry jitter so replicas don't tick in lockstep.
type SchedulerConfig struct {
	// ElectionInterval is how often every instance attempts the lock.
	ElectionInterval time.Duration `yaml:"election_interval"`

	// LockTTL is the scheduler lock lease; a dead leader is replaced within
	// one TTL window.
	LockTTL time.Duration `yaml:"lock_ttl"`

	// LockName identifies the global scheduler lock row.
	LockName string `yaml:"lock_name"`

	// HeartbeatInterval keeps the graph connection hot on all instances.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// Leader-only job intervals.
	EpisodeWorkerInterval time.Duration `yaml:"episode_worker_interval"`
	ConsolidationInterval time.Duration `yaml:"consolidation_interval"`
	MaintenanceInterval   time.Duration `yaml:"maintenance_interval"`
	ObserverInterval      time.Duration `yaml:"observer_interval"`
	DueScannerInterval    time.Duration `yaml:"due_scanner_interval"`

	// DecayInterval runs on any instance (idempotent).
	DecayInterval time.Duration `yaml:"decay_interval"`

	// JitterFraction randomizes each interval by ±fraction.
	JitterFraction float64 `yaml:"jitter_fraction"`

	// FanoutConcurrency bounds per-user fan-out in observer/due-scanner jobs.
	FanoutConcurrency int `yaml:"fanout_concurrency"`

	// DueNotifyCooldown suppresses repeat due-task notifications.
	DueNotifyCooldown time.Duration `yaml:"due_notify_cooldown"`

	// Retention windows used by the maintenance job.
	TurnRetention         time.Duration `yaml:"turn_retention"`
	EpisodeRetention      time.Duration `yaml:"episode_retention"`
	NotificationRetention time.Duration `yaml:"notification_retention"`
	DoneTaskRetention     time.Duration `yaml:"done_task_retention"`
	FactRetention         time.Duration `yaml:"fact_retention"`
	MoodRetention         time.Duration `yaml:"mood_retention"`
}

// DefaultSchedulerConfig returns the built-in scheduler defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		ElectionInterval:      30 * time.Second,
		LockTTL:               90 * time.Second,
		LockName:              "global_scheduler",
		HeartbeatInterval:     9 * time.Minute,
		EpisodeWorkerInterval: 2 * time.Minute,
		ConsolidationInterval: 60 * time.Minute,
		MaintenanceInterval:   24 * time.Hour,
		ObserverInterval:      15 * time.Minute,
		DueScannerInterval:    5 * time.Minute,
		DecayInterval:         24 * time.Hour,
		JitterFraction:        0.1,
		FanoutConcurrency:     4,
		DueNotifyCooldown:     60 * time.Minute,
		TurnRetention:         90 * 24 * time.Hour,
		EpisodeRetention:      180 * 24 * time.Hour,
		NotificationRetention: 30 * 24 * time.Hour,
		DoneTaskRetention:     30 * 24 * time.Hour,
		FactRetention:         180 * 24 * time.Hour,
		MoodRetention:         7 * 24 * time.Hour,
	}
}
