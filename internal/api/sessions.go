package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kestrelsec/kestrel/internal/auth"
	"github.com/kestrelsec/kestrel/internal/session"
	"github.com/kestrelsec/kestrel/internal/threat"
	"github.com/kestrelsec/kestrel/internal/webhooks"
)

// SessionStore is the session store surface the handler needs.
type SessionStore interface {
	ListByUser(ctx context.Context, userID string) ([]session.Session, error)
	Terminate(ctx context.Context, userID, sessionID string) error
	TerminateAll(ctx context.Context, userID string) (int, error)
}

// SessionHandler exposes active sessions over HTTP.
type SessionHandler struct {
	store     SessionStore
	tokens    *auth.TokenIssuer
	onWebhook threat.WebhookDispatchFunc
	logger    *zap.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(store SessionStore, tokens *auth.TokenIssuer, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{store: store, tokens: tokens, logger: logger}
}

// SetWebhookDispatch configures the webhook dispatch callback fired on
// session termination.
func (h *SessionHandler) SetWebhookDispatch(fn threat.WebhookDispatchFunc) {
	h.onWebhook = fn
}

// Register mounts the session routes on the given router group.
func (h *SessionHandler) Register(rg *gin.RouterGroup) {
	s := rg.Group("/sessions")
	s.Use(requireToken(h.tokens))
	{
		s.GET("", h.List)
		s.DELETE("", h.TerminateAll)
		s.DELETE("/:id", h.Terminate)
	}
}

func (h *SessionHandler) userIDParam(c *gin.Context) (string, bool) {
	userID := c.Query("user_id")
	if userID == "" {
		if claims := auth.ClaimsFromCtx(c); claims != nil {
			userID = claims.UserID
		}
	}
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id query parameter required"})
		return "", false
	}
	if !canAccess(c, userID) {
		return "", false
	}
	return userID, true
}

// List handles GET /sessions?user_id=.
func (h *SessionHandler) List(c *gin.Context) {
	userID, ok := h.userIDParam(c)
	if !ok {
		return
	}

	sessions, err := h.store.ListByUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list sessions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}
	if sessions == nil {
		sessions = []session.Session{}
	}

	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

// Terminate handles DELETE /sessions/:id?user_id=.
func (h *SessionHandler) Terminate(c *gin.Context) {
	userID, ok := h.userIDParam(c)
	if !ok {
		return
	}

	sessionID := c.Param("id")
	if err := h.store.Terminate(c.Request.Context(), userID, sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		h.logger.Error("terminate session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to terminate session"})
		return
	}

	if h.onWebhook != nil {
		h.onWebhook(c.Request.Context(), webhooks.EventSessionTerminated, map[string]string{
			"user_id":    userID,
			"session_id": sessionID,
		})
	}

	c.Status(http.StatusNoContent)
}

// TerminateAll handles DELETE /sessions?user_id= — terminates every active
// session for the account.
func (h *SessionHandler) TerminateAll(c *gin.Context) {
	userID, ok := h.userIDParam(c)
	if !ok {
		return
	}

	n, err := h.store.TerminateAll(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("terminate all sessions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to terminate sessions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"terminated": n})
}
