package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kestrelsec/kestrel/internal/auth"
	"github.com/kestrelsec/kestrel/internal/threat"
	"github.com/kestrelsec/kestrel/internal/webhooks"
)

// ThreatBrowser reads and resolves persisted findings.
type ThreatBrowser interface {
	ListByUser(ctx context.Context, userID string, resolved *bool, limit, offset int) ([]threat.Finding, error)
	GetByID(ctx context.Context, id string) (*threat.Finding, error)
	Resolve(ctx context.Context, id string) error
	CountUnresolvedBySeverity(ctx context.Context, userID string) (map[threat.Severity]int, error)
}

// ThreatHandler exposes persisted findings over HTTP.
type ThreatHandler struct {
	repo      ThreatBrowser
	tokens    *auth.TokenIssuer
	onWebhook threat.WebhookDispatchFunc
	logger    *zap.Logger
}

// NewThreatHandler creates a new ThreatHandler.
func NewThreatHandler(repo ThreatBrowser, tokens *auth.TokenIssuer, logger *zap.Logger) *ThreatHandler {
	return &ThreatHandler{repo: repo, tokens: tokens, logger: logger}
}

// SetWebhookDispatch configures the webhook dispatch callback fired on resolve.
func (h *ThreatHandler) SetWebhookDispatch(fn threat.WebhookDispatchFunc) {
	h.onWebhook = fn
}

// Register mounts the threat routes on the given router group.
func (h *ThreatHandler) Register(rg *gin.RouterGroup) {
	t := rg.Group("/threats")
	t.Use(requireToken(h.tokens))
	{
		t.GET("", h.List)
		t.GET("/summary", h.Summary)
		t.GET("/:id", h.Get)
		t.POST("/:id/resolve", h.Resolve)
	}
}

// List handles GET /threats?user_id=&resolved=&limit=&offset=.
func (h *ThreatHandler) List(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id query parameter required"})
		return
	}
	if !canAccess(c, userID) {
		return
	}

	var resolved *bool
	if v := c.Query("resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "resolved must be a boolean"})
			return
		}
		resolved = &b
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	findings, err := h.repo.ListByUser(c.Request.Context(), userID, resolved, limit, offset)
	if err != nil {
		h.logger.Error("list threats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list threats"})
		return
	}
	if findings == nil {
		findings = []threat.Finding{}
	}

	c.JSON(http.StatusOK, gin.H{"threats": findings, "count": len(findings)})
}

// Summary handles GET /threats/summary?user_id= — unresolved counts by severity.
func (h *ThreatHandler) Summary(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id query parameter required"})
		return
	}
	if !canAccess(c, userID) {
		return
	}

	counts, err := h.repo.CountUnresolvedBySeverity(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("threat summary", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to summarize threats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID, "unresolved": counts})
}

// Get handles GET /threats/:id.
func (h *ThreatHandler) Get(c *gin.Context) {
	f, err := h.repo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, threat.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "threat not found"})
			return
		}
		h.logger.Error("get threat", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load threat"})
		return
	}
	if !canAccess(c, f.UserID) {
		return
	}

	c.JSON(http.StatusOK, f)
}

// Resolve handles POST /threats/:id/resolve — marks a finding resolved.
// Resolving an already-resolved finding returns 409.
func (h *ThreatHandler) Resolve(c *gin.Context) {
	id := c.Param("id")

	f, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, threat.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "threat not found"})
			return
		}
		h.logger.Error("get threat", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load threat"})
		return
	}
	if !canAccess(c, f.UserID) {
		return
	}

	if err := h.repo.Resolve(c.Request.Context(), id); err != nil {
		if errors.Is(err, threat.ErrNotFound) {
			c.JSON(http.StatusConflict, gin.H{"error": "threat already resolved"})
			return
		}
		h.logger.Error("resolve threat", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve threat"})
		return
	}

	if h.onWebhook != nil {
		h.onWebhook(c.Request.Context(), webhooks.EventThreatResolved, map[string]string{
			"user_id":   f.UserID,
			"threat_id": f.ID,
			"type":      string(f.Type),
			"severity":  string(f.Severity),
		})
	}

	c.Status(http.StatusNoContent)
}
