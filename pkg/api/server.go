// Package api is the HTTP surface: chat (blocking and SSE), auth, user
// resources, and the privileged memory operations.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/atlas-agent/atlas/pkg/config"
	"github.com/atlas-agent/atlas/pkg/events"
	"github.com/atlas-agent/atlas/pkg/models"
	"github.com/atlas-agent/atlas/pkg/services"
)

// healthChecker is the slice of the database client the health endpoint needs.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// chatService runs one message through the pipeline.
type chatService interface {
	Chat(ctx context.Context, req services.ChatRequest, stream *events.Stream) (*services.ChatResponse, error)
}

// userService serves the user's notifications, reminders, and policy.
type userService interface {
	Notifications(ctx context.Context, userID string) ([]models.Notification, error)
	AckNotification(ctx context.Context, userID, id string) error
	Tasks(ctx context.Context, userID string) ([]models.ProspectiveTask, error)
	CompleteTask(ctx context.Context, userID, id string) error
	Policy(ctx context.Context, userID string) (models.UserPolicy, error)
	UpdatePolicy(ctx context.Context, userID string, update services.PolicyUpdate) (models.UserPolicy, error)
}

// memoryService exposes the privileged memory operations.
type memoryService interface {
	Correct(ctx context.Context, userID, subject, predicate, newObject string) (int64, error)
	ForgetAll(ctx context.Context, userID string) error
}

// Server wires the HTTP surface to the services.
type Server struct {
	chat   chatService
	users  userService
	memory memoryService
	db     healthChecker
	flags  *config.Flags
}

// NewServer creates the API server.
func NewServer(chat chatService, users userService, memory memoryService, db healthChecker, flags *config.Flags) *Server {
	return &Server{chat: chat, users: users, memory: memory, db: db, flags: flags}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	if s.flags.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.Health)

	auth := r.Group("/api/auth")
	auth.POST("/login", s.Login)
	auth.POST("/logout", s.Logout)
	auth.GET("/me", authRequired(s.flags), s.Me)

	api := r.Group("/api", authRequired(s.flags), internalOnly(s.flags))
	api.POST("/chat", s.Chat)
	api.POST("/chat/stream", s.ChatStream)
	api.GET("/notifications", s.Notifications)
	api.POST("/notifications/ack", s.AckNotification)
	api.GET("/tasks", s.Tasks)
	api.POST("/tasks/done", s.CompleteTask)
	api.GET("/policy", s.Policy)
	api.POST("/policy", s.UpdatePolicy)
	api.POST("/memory/correct", s.MemoryCorrect)
	api.POST("/memory/forget_all", s.MemoryForgetAll)

	return r
}

// Health reports process and database liveness.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// writeError maps service errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	var vErr *services.ValidationError
	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Message, "field": vErr.Field})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "kayıt bulunamadı"})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "erişim kapalı"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "beklenmeyen bir hata oluştu"})
	}
}
