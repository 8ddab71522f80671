// Package api exposes the HTTP surface of the detection service: the
// detection endpoint itself, threat/device/session management, webhook
// subscriptions, the response audit chain, and operational endpoints.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kestrelsec/kestrel/internal/auth"
	"github.com/kestrelsec/kestrel/internal/threat"
)

// FindingWriter persists findings produced by a detection cycle.
type FindingWriter interface {
	CreateBatch(ctx context.Context, findings []threat.Finding) error
}

// DetectRequest is the payload for running a detection cycle.
type DetectRequest struct {
	UserID   string                 `json:"user_id"`
	Behavior *threat.BehaviorSignal `json:"behavior,omitempty"`
	Device   *threat.DeviceSignal   `json:"device,omitempty"`
	Session  *threat.SessionSignal  `json:"session,omitempty"`

	// EnableRealTimeResponse opts in to automated remediation.
	EnableRealTimeResponse bool `json:"enable_real_time_response"`
	// Persist stores the cycle's findings for later review and resolution.
	Persist bool `json:"persist"`
}

// DetectHandler handles detection cycle requests.
type DetectHandler struct {
	svc    *threat.Service
	writer FindingWriter
	tokens *auth.TokenIssuer
	logger *zap.Logger
}

// NewDetectHandler creates a new DetectHandler. writer may be nil when
// persistence is not configured.
func NewDetectHandler(svc *threat.Service, writer FindingWriter, tokens *auth.TokenIssuer, logger *zap.Logger) *DetectHandler {
	return &DetectHandler{svc: svc, writer: writer, tokens: tokens, logger: logger}
}

// Register mounts the detection route on the given router group.
func (h *DetectHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/detect", requireToken(h.tokens), h.Detect)
}

// Detect handles POST /detect — runs one detection cycle.
func (h *DetectHandler) Detect(c *gin.Context) {
	var req DetectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !canAccess(c, req.UserID) {
		return
	}

	sig := threat.Signals{
		Behavior: req.Behavior,
		Device:   req.Device,
		Session:  req.Session,
	}
	opts := threat.Options{EnableRealTimeResponse: req.EnableRealTimeResponse}

	res, err := h.svc.Detect(c.Request.Context(), req.UserID, sig, opts)
	if err != nil {
		if errors.Is(err, threat.ErrEmptyUserID) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("detection cycle", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "detection failed"})
		return
	}

	// Only findings extracted this cycle get stored; the ones merged in from
	// the store already have rows.
	persisted := false
	if fresh := res.Fresh(); req.Persist && h.writer != nil && len(fresh) > 0 {
		if err := h.writer.CreateBatch(c.Request.Context(), fresh); err != nil {
			h.logger.Error("persist findings", zap.Error(err))
		} else {
			persisted = true
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"result":    res,
		"persisted": persisted,
	})
}

// requireToken wraps auth.RequireToken, passing requests through when no
// issuer is configured (tests).
func requireToken(tokens *auth.TokenIssuer) gin.HandlerFunc {
	if tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return auth.RequireToken(tokens)
}

// canAccess enforces that the caller may act on userID's account. It writes
// the error response itself and returns false when access is denied. Requests
// without claims (auth disabled) pass.
func canAccess(c *gin.Context, userID string) bool {
	claims := auth.ClaimsFromCtx(c)
	if claims == nil {
		return true
	}
	if !auth.CanAccess(claims, userID) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not authorized for this account"})
		return false
	}
	return true
}
