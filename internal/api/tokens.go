package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kestrelsec/kestrel/internal/auth"
)

// TokenHandler exchanges the static API secret for session tokens. Tokens
// are issued only against this secret — there is no password login flow.
type TokenHandler struct {
	tokens    *auth.TokenIssuer
	apiSecret string
	logger    *zap.Logger
}

// NewTokenHandler creates a TokenHandler. An empty apiSecret disables
// token issuance entirely.
func NewTokenHandler(tokens *auth.TokenIssuer, apiSecret string, logger *zap.Logger) *TokenHandler {
	return &TokenHandler{tokens: tokens, apiSecret: apiSecret, logger: logger}
}

// Register mounts the token route on the given router group.
func (h *TokenHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/auth/token", h.IssueToken)
}

type tokenRequest struct {
	Secret string `json:"secret" binding:"required"`
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// IssueToken handles POST /auth/token.
func (h *TokenHandler) IssueToken(c *gin.Context) {
	if h.apiSecret == "" || h.tokens == nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "token issuance is disabled"})
		return
	}

	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.apiSecret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid secret"})
		return
	}

	var (
		token string
		err   error
	)
	switch {
	case req.Role == auth.RoleOperator:
		token, err = h.tokens.IssueOperator(8 * time.Hour)
	case req.UserID != "":
		token, err = h.tokens.Issue(req.UserID)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id or role=operator required"})
		return
	}
	if err != nil {
		h.logger.Error("issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}
