package device

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a device does not exist for the given user.
var ErrNotFound = errors.New("device not found")

// SecurityStatus captures the client-reported security posture of a device.
type SecurityStatus struct {
	Jailbroken        bool `json:"jailbroken"          db:"jailbroken"`
	ScreenLockEnabled bool `json:"screen_lock_enabled" db:"screen_lock_enabled"`
}

// Device is a device on file for a user account. The ID is the opaque
// fingerprint presented by the client at sign-in, not a server-generated key;
// devices are therefore keyed by (user_id, id).
type Device struct {
	ID             string         `json:"id"              db:"id"`
	UserID         string         `json:"user_id"         db:"user_id"`
	Name           string         `json:"name"            db:"name"`
	UserAgent      string         `json:"user_agent"      db:"user_agent"`
	Trusted        bool           `json:"trusted"         db:"trusted"`
	SecurityStatus SecurityStatus `json:"security_status"`
	LastActivity   time.Time      `json:"last_activity"   db:"last_activity"`
	CreatedAt      time.Time      `json:"created_at"      db:"created_at"`
}

// RegisterRequest is the payload for registering or updating a device.
type RegisterRequest struct {
	ID                string `json:"id"   binding:"required"`
	Name              string `json:"name"`
	UserAgent         string `json:"user_agent"`
	Trusted           bool   `json:"trusted"`
	Jailbroken        bool   `json:"jailbroken"`
	ScreenLockEnabled bool   `json:"screen_lock_enabled"`
}
