package api

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/atlas-agent/atlas/pkg/events"
	"github.com/atlas-agent/atlas/pkg/services"
)

// LoginRequest identifies the user to open a session for. There is no
// password layer here; identity is asserted by the fronting gateway.
type LoginRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// Login issues the signed session cookie.
func (s *Server) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id gerekli"})
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id gerekli"})
		return
	}

	expiry := time.Now().Add(SessionDuration)
	token := SignSession(s.flags.SessionSecret, userID, expiry)
	c.SetCookie(SessionCookie, token, int(SessionDuration.Seconds()), "/", "", s.flags.Production, true)
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "expires_at": expiry.UTC()})
}

// Logout clears the session cookie.
func (s *Server) Logout(c *gin.Context) {
	c.SetCookie(SessionCookie, "", -1, "/", "", s.flags.Production, true)
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

// Me returns the authenticated identity.
func (s *Server) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user_id": currentUser(c)})
}

// Chat handles POST /api/chat: the full pipeline, blocking, one JSON reply.
func (s *Server) Chat(c *gin.Context) {
	var req services.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "geçersiz istek gövdesi"})
		return
	}
	req.UserID = currentUser(c)

	resp, err := s.chat.Chat(c.Request.Context(), req, nil)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ChatStream handles POST /api/chat/stream: the same pipeline with
// intermediate events delivered over SSE. Input validation failures are
// reported as a plain 400 before the stream opens; later failures arrive
// as an error event on the stream itself.
func (s *Server) ChatStream(c *gin.Context) {
	var req services.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "geçersiz istek gövdesi"})
		return
	}
	req.UserID = currentUser(c)
	if strings.TrimSpace(req.Message) == "" || strings.TrimSpace(req.SessionID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message ve session_id gerekli"})
		return
	}

	stream := events.NewStream(64)
	go func() {
		defer stream.Close()
		if _, err := s.chat.Chat(c.Request.Context(), req, stream); err != nil {
			stream.Publish(events.Event{Type: events.TypeError, Data: gin.H{"error": err.Error()}})
		}
	}()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		ev, ok := <-stream.Events()
		if !ok {
			return false
		}
		c.SSEvent(string(ev.Type), ev.Data)
		return ev.Type != events.TypeDone && ev.Type != events.TypeError
	})
}

// Notifications handles GET /api/notifications.
func (s *Server) Notifications(c *gin.Context) {
	notifs, err := s.users.Notifications(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifs})
}

type ackRequest struct {
	ID string `json:"id" binding:"required"`
}

// AckNotification handles POST /api/notifications/ack.
func (s *Server) AckNotification(c *gin.Context) {
	var req ackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id gerekli"})
		return
	}
	if err := s.users.AckNotification(c.Request.Context(), currentUser(c), req.ID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
}

// Tasks handles GET /api/tasks.
func (s *Server) Tasks(c *gin.Context) {
	tasks, err := s.users.Tasks(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// CompleteTask handles POST /api/tasks/done.
func (s *Server) CompleteTask(c *gin.Context) {
	var req ackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id gerekli"})
		return
	}
	if err := s.users.CompleteTask(c.Request.Context(), currentUser(c), req.ID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "done"})
}

// Policy handles GET /api/policy.
func (s *Server) Policy(c *gin.Context) {
	policy, err := s.users.Policy(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, policy)
}

// UpdatePolicy handles POST /api/policy.
func (s *Server) UpdatePolicy(c *gin.Context) {
	var update services.PolicyUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "geçersiz istek gövdesi"})
		return
	}
	policy, err := s.users.UpdatePolicy(c.Request.Context(), currentUser(c), update)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, policy)
}

type correctRequest struct {
	Subject   string `json:"subject" binding:"required"`
	Predicate string `json:"predicate" binding:"required"`
	NewObject string `json:"new_object"`
}

// MemoryCorrect handles POST /api/memory/correct: retract the matching facts
// and optionally write the replacement.
func (s *Server) MemoryCorrect(c *gin.Context) {
	var req correctRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subject ve predicate gerekli"})
		return
	}
	n, err := s.memory.Correct(c.Request.Context(), currentUser(c), req.Subject, req.Predicate, req.NewObject)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"retracted": n})
}

type forgetRequest struct {
	Confirm bool `json:"confirm"`
}

// MemoryForgetAll handles POST /api/memory/forget_all. Requires an explicit
// confirm flag; the wipe is irreversible.
func (s *Server) MemoryForgetAll(c *gin.Context) {
	var req forgetRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Confirm {
		c.JSON(http.StatusBadRequest, gin.H{"error": "silme işlemi için confirm=true gerekli"})
		return
	}
	if err := s.memory.ForgetAll(c.Request.Context(), currentUser(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "erased"})
}
