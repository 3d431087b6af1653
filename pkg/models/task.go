package models

import "time"

// TaskStatus is the lifecycle state of a prospective task.
type TaskStatus string

// Prospective task statuses.
const (
	TaskStatusOpen   TaskStatus = "OPEN"
	TaskStatusDone   TaskStatus = "DONE"
	TaskStatusClosed TaskStatus = "CLOSED"
)

// ProspectiveTask is a user reminder captured from conversation, scanned by
// the due-task job.
type ProspectiveTask struct {
	ID             string     `db:"id"`
	UserID         string     `db:"user_id"`
	RawText        string     `db:"raw_text"`
	DueAtRaw       string     `db:"due_at_raw"`
	DueAt          *time.Time `db:"due_at"`
	Status         TaskStatus `db:"status"`
	LastNotifiedAt *time.Time `db:"last_notified_at"`
	NotifiedCount  int        `db:"notified_count"`
	CreatedAt      time.Time  `db:"created_at"`
}

// Notification is a message surfaced to the user outside the chat flow.
type Notification struct {
	ID            string    `db:"id"`
	UserID        string    `db:"user_id"`
	Message       string    `db:"message"`
	Type          string    `db:"type"`
	Read          bool      `db:"read"`
	Reason        string    `db:"reason"`
	RelatedTaskID *string   `db:"related_task_id"`
	CreatedAt     time.Time `db:"created_at"`
}

// Notification types.
const (
	NotificationTypeTaskDue  = "task_due"
	NotificationTypeObserver = "observer"
)

// UserPolicy is the per-user memory and notification policy.
type UserPolicy struct {
	UserID       string     `db:"user_id"`
	Mode         MemoryMode `db:"memory_mode"`
	Timezone     string     `db:"timezone"`
	NotifyOptIn  bool       `db:"notify_opt_in"`
	EphemeralTTL time.Duration
	SessionTTL   time.Duration
}

// WriteEnabled reports whether long-term memory writes are allowed.
func (p UserPolicy) WriteEnabled() bool {
	return p.Mode != MemoryModeOff
}

// Mood is the last detected emotional state of a user, used by the
// synthesizer for emotional continuity across sessions.
type Mood struct {
	UserID     string    `db:"user_id"`
	Label      string    `db:"label"`
	DetectedAt time.Time `db:"detected_at"`
}
