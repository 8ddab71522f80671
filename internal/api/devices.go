package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kestrelsec/kestrel/internal/auth"
	"github.com/kestrelsec/kestrel/internal/device"
	"github.com/kestrelsec/kestrel/internal/threat"
	"github.com/kestrelsec/kestrel/internal/webhooks"
)

// DeviceStore is the device registry surface the handler needs.
type DeviceStore interface {
	Register(ctx context.Context, d *device.Device) error
	List(ctx context.Context, userID string) ([]device.Device, error)
	GetByID(ctx context.Context, userID, id string) (*device.Device, error)
	RevokeTrust(ctx context.Context, userID, id string) error
	Delete(ctx context.Context, userID, id string) error
}

// DeviceHandler exposes the device registry over HTTP. All routes are scoped
// to a user account via the user_id query parameter or token claims.
type DeviceHandler struct {
	store     DeviceStore
	tokens    *auth.TokenIssuer
	onWebhook threat.WebhookDispatchFunc
	logger    *zap.Logger
}

// NewDeviceHandler creates a new DeviceHandler.
func NewDeviceHandler(store DeviceStore, tokens *auth.TokenIssuer, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{store: store, tokens: tokens, logger: logger}
}

// SetWebhookDispatch configures the webhook dispatch callback fired on
// trust revocation.
func (h *DeviceHandler) SetWebhookDispatch(fn threat.WebhookDispatchFunc) {
	h.onWebhook = fn
}

// Register mounts the device routes on the given router group.
func (h *DeviceHandler) Register(rg *gin.RouterGroup) {
	d := rg.Group("/devices")
	d.Use(requireToken(h.tokens))
	{
		d.GET("", h.List)
		d.POST("", h.RegisterDevice)
		d.GET("/:id", h.Get)
		d.POST("/:id/revoke-trust", h.RevokeTrust)
		d.DELETE("/:id", h.Delete)
	}
}

// userIDParam resolves the acting user ID from the query, falling back to
// the token subject, and enforces account access.
func (h *DeviceHandler) userIDParam(c *gin.Context) (string, bool) {
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

// List handles GET /devices?user_id=.
func (h *DeviceHandler) List(c *gin.Context) {
	userID, ok := h.userIDParam(c)
	if !ok {
		return
	}

	devices, err := h.store.List(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list devices", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list devices"})
		return
	}
	if devices == nil {
		devices = []device.Device{}
	}

	c.JSON(http.StatusOK, gin.H{"devices": devices, "count": len(devices)})
}

// RegisterDevice handles POST /devices — registers or updates a device.
func (h *DeviceHandler) RegisterDevice(c *gin.Context) {
	userID, ok := h.userIDParam(c)
	if !ok {
		return
	}

	var req device.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d := &device.Device{
		ID:        req.ID,
		UserID:    userID,
		Name:      req.Name,
		UserAgent: req.UserAgent,
		Trusted:   req.Trusted,
		SecurityStatus: device.SecurityStatus{
			Jailbroken:        req.Jailbroken,
			ScreenLockEnabled: req.ScreenLockEnabled,
		},
	}
	if err := h.store.Register(c.Request.Context(), d); err != nil {
		h.logger.Error("register device", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register device"})
		return
	}

	c.JSON(http.StatusCreated, d)
}

// Get handles GET /devices/:id?user_id=.
func (h *DeviceHandler) Get(c *gin.Context) {
	userID, ok := h.userIDParam(c)
	if !ok {
		return
	}

	d, err := h.store.GetByID(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}
		h.logger.Error("get device", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load device"})
		return
	}

	c.JSON(http.StatusOK, d)
}

// RevokeTrust handles POST /devices/:id/revoke-trust.
func (h *DeviceHandler) RevokeTrust(c *gin.Context) {
	userID, ok := h.userIDParam(c)
	if !ok {
		return
	}

	deviceID := c.Param("id")
	if err := h.store.RevokeTrust(c.Request.Context(), userID, deviceID); err != nil {
		if errors.Is(err, device.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}
		h.logger.Error("revoke device trust", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke trust"})
		return
	}

	if h.onWebhook != nil {
		h.onWebhook(c.Request.Context(), webhooks.EventDeviceTrustRevoked, map[string]string{
			"user_id":   userID,
			"device_id": deviceID,
		})
	}

	c.Status(http.StatusNoContent)
}

// Delete handles DELETE /devices/:id?user_id=.
func (h *DeviceHandler) Delete(c *gin.Context) {
	userID, ok := h.userIDParam(c)
	if !ok {
		return
	}

	if err := h.store.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		if errors.Is(err, device.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}
		h.logger.Error("delete device", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete device"})
		return
	}

	c.Status(http.StatusNoContent)
}
