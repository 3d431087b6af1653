package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atlas-agent/atlas/pkg/models"
)

// CreateTask records a prospective task captured from conversation.
func (s *Store) CreateTask(ctx context.Context, userID, rawText, dueAtRaw string, dueAt *time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prospective_tasks (id, user_id, raw_text, due_at_raw, due_at, status)
		VALUES ($1, $2, $3, $4, $5, 'OPEN')`,
		id, userID, rawText, dueAtRaw, dueAt)
	if err != nil {
		return "", fmt.Errorf("failed to create task: %w", err)
	}
	return id, nil
}

// OpenTasks lists a user's OPEN tasks, soonest due first, undated last.
func (s *Store) OpenTasks(ctx context.Context, userID string) ([]models.ProspectiveTask, error) {
	var tasks []models.ProspectiveTask
	err := s.db.SelectContext(ctx, &tasks, `
		SELECT * FROM prospective_tasks
		WHERE user_id = $1 AND status = 'OPEN'
		ORDER BY due_at ASC NULLS LAST, created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open tasks: %w", err)
	}
	return tasks, nil
}

// DueTasks returns OPEN tasks whose due time has passed and which were not
// notified within the cooldown window.
func (s *Store) DueTasks(ctx context.Context, cooldown time.Duration) ([]models.ProspectiveTask, error) {
	cutoff := now().Add(-cooldown)
	var tasks []models.ProspectiveTask
	err := s.db.SelectContext(ctx, &tasks, `
		SELECT * FROM prospective_tasks
		WHERE status = 'OPEN' AND due_at IS NOT NULL AND due_at <= now()
		  AND (last_notified_at IS NULL OR last_notified_at < $1)
		ORDER BY due_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch due tasks: %w", err)
	}
	return tasks, nil
}

// MarkTaskNotified stamps the notification time and bumps the counter.
func (s *Store) MarkTaskNotified(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE prospective_tasks
		SET last_notified_at = now(), notified_count = notified_count + 1
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark task notified: %w", err)
	}
	return nil
}

// SetTaskStatus moves a task to DONE or CLOSED. Ownership is enforced in the
// query so one user cannot complete another's task.
func (s *Store) SetTaskStatus(ctx context.Context, userID, id string, status models.TaskStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE prospective_tasks SET status = $3
		WHERE id = $1 AND user_id = $2 AND status = 'OPEN'`, id, userID, status)
	if err != nil {
		return false, fmt.Errorf("failed to update task status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// InsertNotification stores a notification for later delivery.
func (s *Store) InsertNotification(ctx context.Context, n models.Notification) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, message, type, reason, related_task_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, n.UserID, n.Message, n.Type, n.Reason, n.RelatedTaskID)
	if err != nil {
		return "", fmt.Errorf("failed to insert notification: %w", err)
	}
	return id, nil
}

// UnreadNotifications lists a user's unread notifications, newest first.
func (s *Store) UnreadNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	var list []models.Notification
	err := s.db.SelectContext(ctx, &list, `
		SELECT * FROM notifications
		WHERE user_id = $1 AND read = FALSE
		ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return list, nil
}

// MarkNotificationRead acknowledges a notification for its owner.
func (s *Store) MarkNotificationRead(ctx context.Context, userID, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read = TRUE
		WHERE id = $1 AND user_id = $2 AND read = FALSE`, id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to mark notification read: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
