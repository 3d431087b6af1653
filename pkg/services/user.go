package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/atlas-agent/atlas/pkg/config"
	"github.com/atlas-agent/atlas/pkg/models"
)

// userGraph is the graph slice the user-facing resource operations need.
type userGraph interface {
	GetOrCreateUserPolicy(ctx context.Context, userID string, defaultMode models.MemoryMode) (models.UserPolicy, error)
	UpdateUserPolicy(ctx context.Context, policy models.UserPolicy) error
	UnreadNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) (bool, error)
	OpenTasks(ctx context.Context, userID string) ([]models.ProspectiveTask, error)
	SetTaskStatus(ctx context.Context, userID, id string, status models.TaskStatus) (bool, error)
}

// UserService serves notifications, reminders, and the memory policy.
type UserService struct {
	graph userGraph
	flags *config.Flags
}

// NewUserService builds the user resource service.
func NewUserService(graph userGraph, flags *config.Flags) *UserService {
	return &UserService{graph: graph, flags: flags}
}

// Notifications lists the user's unread notifications, newest first.
func (s *UserService) Notifications(ctx context.Context, userID string) ([]models.Notification, error) {
	return s.graph.UnreadNotifications(ctx, userID, 50)
}

// AckNotification marks one notification read. Ownership is enforced by the
// store; acking someone else's notification reads as not found.
func (s *UserService) AckNotification(ctx context.Context, userID, id string) error {
	if strings.TrimSpace(id) == "" {
		return NewValidationError("id", "bildirim kimliği gerekli")
	}
	ok, err := s.graph.MarkNotificationRead(ctx, userID, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Tasks lists the user's open reminders.
func (s *UserService) Tasks(ctx context.Context, userID string) ([]models.ProspectiveTask, error) {
	return s.graph.OpenTasks(ctx, userID)
}

// CompleteTask marks an open reminder done.
func (s *UserService) CompleteTask(ctx context.Context, userID, id string) error {
	if strings.TrimSpace(id) == "" {
		return NewValidationError("id", "görev kimliği gerekli")
	}
	ok, err := s.graph.SetTaskStatus(ctx, userID, id, models.TaskStatusDone)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Policy returns the user's memory policy, creating the default on first
// contact.
func (s *UserService) Policy(ctx context.Context, userID string) (models.UserPolicy, error) {
	return s.graph.GetOrCreateUserPolicy(ctx, userID, s.flags.DefaultMemoryMode)
}

// PolicyUpdate is the mutable slice of the user policy.
type PolicyUpdate struct {
	Mode        string `json:"memory_mode"`
	Timezone    string `json:"timezone"`
	NotifyOptIn *bool  `json:"notify_opt_in"`
}

// UpdatePolicy applies a partial policy update.
func (s *UserService) UpdatePolicy(ctx context.Context, userID string, update PolicyUpdate) (models.UserPolicy, error) {
	policy, err := s.graph.GetOrCreateUserPolicy(ctx, userID, s.flags.DefaultMemoryMode)
	if err != nil {
		return models.UserPolicy{}, err
	}

	if update.Mode != "" {
		mode := models.MemoryMode(strings.ToUpper(update.Mode))
		switch mode {
		case models.MemoryModeOff, models.MemoryModeStandard, models.MemoryModeFull:
			policy.Mode = mode
		default:
			return models.UserPolicy{}, NewValidationError("memory_mode", fmt.Sprintf("geçersiz mod: %s", update.Mode))
		}
	}
	if update.Timezone != "" {
		policy.Timezone = update.Timezone
	}
	if update.NotifyOptIn != nil {
		policy.NotifyOptIn = *update.NotifyOptIn
	}

	if err := s.graph.UpdateUserPolicy(ctx, policy); err != nil {
		return models.UserPolicy{}, err
	}
	return policy, nil
}
