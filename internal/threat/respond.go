package threat

import (
	"context"

	"github.com/kestrelsec/kestrel/internal/audit"
	"go.uber.org/zap"
)

// Remediation action names, as recorded in the audit chain and metrics.
const (
	ActionTerminateSession  = "terminate_session"
	ActionRevokeDeviceTrust = "revoke_device_trust"
)

// SessionTerminator terminates one of a user's sessions.
// *session.Store satisfies this interface.
type SessionTerminator interface {
	Terminate(ctx context.Context, userID, sessionID string) error
}

// TrustRevoker clears the trusted flag on one of a user's devices.
// *device.Repository satisfies this interface.
type TrustRevoker interface {
	RevokeTrust(ctx context.Context, userID, deviceID string) error
}

// ActionRecordFunc is an optional callback for recording remediation outcomes.
type ActionRecordFunc func(action string, ok bool)

// Responder is the auto-response orchestrator. Given the findings of a
// detection cycle it decides which remediation actions to dispatch. It only
// ever acts on CRITICAL findings, and only for the types it knows:
//
//	SESSION_HIJACKING → terminate the referenced session
//	DEVICE_ANOMALY    → revoke device trust, but only when the finding says
//	                    the device is jailbroken — unknown-device anomalies
//	                    are never auto-remediated
//
// Other critical types are currently no-ops.
type Responder struct {
	sessions SessionTerminator
	devices  TrustRevoker
	ledger   audit.Ledger // nil = no audit trail
	onAction ActionRecordFunc
	logger   *zap.Logger
}

// NewResponder creates a Responder.
func NewResponder(sessions SessionTerminator, devices TrustRevoker, logger *zap.Logger) *Responder {
	return &Responder{sessions: sessions, devices: devices, logger: logger}
}

// SetAuditLedger configures the audit chain that records executed actions.
func (r *Responder) SetAuditLedger(l audit.Ledger) {
	r.ledger = l
}

// SetActionRecorder configures the metrics callback.
func (r *Responder) SetActionRecorder(fn ActionRecordFunc) {
	r.onAction = fn
}

// Execute dispatches remediation for the critical findings and reports
// whether every dispatch completed without a caught failure. It never
// returns an error: a failed collaborator call degrades to "remediation not
// applied", is logged, and flips the verdict to false. Per-action outcomes
// are not reported; callers that need them must inspect the collaborators.
func (r *Responder) Execute(ctx context.Context, userID string, findings []Finding) (clean bool) {
	clean = true
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("auto-response: remediation panic",
				zap.String("user_id", userID),
				zap.Any("panic", p),
			)
			clean = false
		}
	}()

	for _, f := range findings {
		if f.Severity != SeverityCritical {
			continue
		}

		switch f.Type {
		case TypeSessionHijacking:
			if f.Session == nil || f.Session.SessionID == "" {
				continue
			}
			if !r.terminateSession(ctx, userID, f.Session.SessionID) {
				clean = false
			}

		case TypeDeviceAnomaly:
			// Jailbreak is the required trigger: a critical unknown-device
			// finding without it is left for manual review.
			if f.Device == nil || f.Device.DeviceID == "" || !f.Device.Jailbroken {
				continue
			}
			if !r.revokeDeviceTrust(ctx, userID, f.Device.DeviceID) {
				clean = false
			}
		}
	}
	return clean
}

func (r *Responder) terminateSession(ctx context.Context, userID, sessionID string) bool {
	if r.sessions == nil {
		return true
	}
	if err := r.sessions.Terminate(ctx, userID, sessionID); err != nil {
		r.logger.Warn("auto-response: terminate session failed",
			zap.String("user_id", userID),
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		r.record(ActionTerminateSession, false)
		return false
	}

	r.logger.Info("auto-response: session terminated",
		zap.String("user_id", userID),
		zap.String("session_id", sessionID),
	)
	r.record(ActionTerminateSession, true)
	r.recordAudit(ctx, userID, ActionTerminateSession, sessionID)
	return true
}

func (r *Responder) revokeDeviceTrust(ctx context.Context, userID, deviceID string) bool {
	if r.devices == nil {
		return true
	}
	if err := r.devices.RevokeTrust(ctx, userID, deviceID); err != nil {
		r.logger.Warn("auto-response: revoke device trust failed",
			zap.String("user_id", userID),
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		r.record(ActionRevokeDeviceTrust, false)
		return false
	}

	r.logger.Info("auto-response: device trust revoked",
		zap.String("user_id", userID),
		zap.String("device_id", deviceID),
	)
	r.record(ActionRevokeDeviceTrust, true)
	r.recordAudit(ctx, userID, ActionRevokeDeviceTrust, deviceID)
	return true
}

func (r *Responder) record(action string, ok bool) {
	if r.onAction != nil {
		r.onAction(action, ok)
	}
}

// recordAudit appends to the audit chain, best-effort. A failed append never
// fails the remediation that already happened.
func (r *Responder) recordAudit(ctx context.Context, userID, action, target string) {
	if r.ledger == nil {
		return
	}
	if _, err := r.ledger.Append(ctx, userID, action, target, nil); err != nil {
		r.logger.Warn("auto-response: audit append failed",
			zap.String("action", action),
			zap.Error(err),
		)
	}
}
