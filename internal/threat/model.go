// Package threat implements the account threat detection engine: it extracts
// findings from behavioural, device, and session signals, aggregates them
// with persisted unresolved threats into an overall threat level, generates
// user-facing recommendations, and can fire automated remediation (session
// termination, device-trust revocation) when the risk is high enough.
//
// The engine is a pure computation module: it owns no wire format and no
// storage. Persistence, the device registry, and the session store are
// collaborators reached through the narrow interfaces declared next to the
// Service and the Responder.
package threat

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyUserID is returned by Detect when no user ID is supplied.
// It is the only validation failure the engine reports.
var ErrEmptyUserID = errors.New("user id is required")

// ThreatType classifies a finding. The set is closed; the auto-response
// orchestrator dispatches on it.
type ThreatType string

const (
	TypeMultipleFailedAttempts ThreatType = "MULTIPLE_FAILED_ATTEMPTS"
	TypeUnusualLocation        ThreatType = "UNUSUAL_LOCATION"
	TypeDeviceAnomaly          ThreatType = "DEVICE_ANOMALY"
	TypeSessionHijacking       ThreatType = "SESSION_HIJACKING"
	TypeSuspiciousLogin        ThreatType = "SUSPICIOUS_LOGIN"
	TypeCredentialStuffing     ThreatType = "CREDENTIAL_STUFFING"
	TypeAccountTakeover        ThreatType = "ACCOUNT_TAKEOVER"
	TypeDataBreachExposure     ThreatType = "DATA_BREACH_EXPOSURE"
)

// Severity grades a single finding. Severities are totally ordered:
// LOW < MEDIUM < HIGH < CRITICAL.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Level is the overall threat level derived from the findings of one
// detection cycle. Totally ordered: NONE < LOW < MEDIUM < HIGH < CRITICAL.
// Levels are derived, never stored.
type Level string

const (
	LevelNone     Level = "NONE"
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

var levelRank = map[Level]int{
	LevelNone:     0,
	LevelLow:      1,
	LevelMedium:   2,
	LevelHigh:     3,
	LevelCritical: 4,
}

// AtLeast reports whether l is equal to or above other in the level order.
func (l Level) AtLeast(other Level) bool {
	return levelRank[l] >= levelRank[other]
}

// SessionContext carries the session identifiers a SESSION_HIJACKING finding
// needs for later remediation. Present only on findings of that type.
type SessionContext struct {
	SessionID string   `json:"session_id"`
	Anomalies []string `json:"anomalies,omitempty"`
}

// DeviceContext carries the device identifiers a DEVICE_ANOMALY finding
// needs for later remediation. Present only on findings of that type.
// Jailbroken is the trigger condition for automated trust revocation;
// an unknown-device finding carries Jailbroken=false.
type DeviceContext struct {
	DeviceID   string `json:"device_id"`
	Jailbroken bool   `json:"jailbroken"`
}

// Finding is one detected security-relevant fact about a user, session, or
// device. Resolved and ResolvedAt are mutated only by the repository's
// Resolve operation, never by the engine: both are set together or not at all.
type Finding struct {
	ID          string     `json:"id"                    db:"id"`
	UserID      string     `json:"user_id"               db:"user_id"`
	Type        ThreatType `json:"type"                  db:"type"`
	Severity    Severity   `json:"severity"              db:"severity"`
	Title       string     `json:"title"                 db:"title"`
	Description string     `json:"description"           db:"description"`
	DetectedAt  time.Time  `json:"detected_at"           db:"detected_at"`
	Resolved    bool       `json:"resolved"              db:"resolved"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`

	// Per-type context. A tagged pair of optional structs instead of an
	// open string map, so remediation inputs are statically present on the
	// variants that need them.
	Session *SessionContext `json:"session,omitempty"`
	Device  *DeviceContext  `json:"device,omitempty"`
}

// newFinding constructs an unresolved finding with a fresh ID and timestamp.
func newFinding(userID string, t ThreatType, sev Severity, title, description string) Finding {
	return Finding{
		ID:          uuid.New().String(),
		UserID:      userID,
		Type:        t,
		Severity:    sev,
		Title:       title,
		Description: description,
		DetectedAt:  time.Now().UTC(),
	}
}

// BehaviorSignal is a caller-supplied snapshot of recent authentication
// behaviour counters. All counters are non-negative.
type BehaviorSignal struct {
	LoginAttempts   int `json:"login_attempts"`
	FailedAttempts  int `json:"failed_attempts"`
	LocationChanges int `json:"location_changes"`
	DeviceChanges   int `json:"device_changes"`
}

// DeviceSignal describes the device presented on the current request.
type DeviceSignal struct {
	DeviceID  string `json:"device_id"`
	IPAddress string `json:"ip_address"`
	Location  string `json:"location"`
	UserAgent string `json:"user_agent"`
}

// SessionSignal describes the active session under evaluation. A non-empty
// Anomalies list implies suspicion.
type SessionSignal struct {
	SessionID       string   `json:"session_id"`
	DurationSeconds int64    `json:"duration_seconds"`
	Anomalies       []string `json:"anomalies"`
}

// Signals bundles the optional per-source inputs for one detection call.
// Nil members mean that source is absent and its extractor does not run.
// The engine never retains these beyond the call.
type Signals struct {
	Behavior *BehaviorSignal
	Device   *DeviceSignal
	Session  *SessionSignal
}

// Options controls per-call engine behaviour.
type Options struct {
	// EnableRealTimeResponse opts the caller in to automated remediation
	// when the overall level reaches HIGH.
	EnableRealTimeResponse bool
}

// ResultMeta is the bookkeeping attached to every detection result.
type ResultMeta struct {
	ElapsedMS      int64            `json:"elapsed_ms"`
	SeverityCounts map[Severity]int `json:"severity_counts"`

	// StoredFindings is the number of findings carried over from the
	// persisted store. They occupy the head of Result.Findings; everything
	// after them was extracted fresh this cycle.
	StoredFindings int `json:"stored_findings"`

	// AutoResponseTriggered is true when the orchestrator ran at all;
	// AutoResponseClean is its verdict — remediation dispatched without a
	// caught failure. Callers needing per-action outcomes must consult the
	// collaborators directly.
	AutoResponseTriggered bool `json:"auto_response_triggered"`
	AutoResponseClean     bool `json:"auto_response_clean"`
}

// Result is the outcome of one detection cycle.
type Result struct {
	UserID           string     `json:"user_id"`
	Findings         []Finding  `json:"findings"`
	OverallLevel     Level      `json:"overall_level"`
	Recommendations  []string   `json:"recommendations"`
	ImmediateActions []string   `json:"immediate_actions"`
	Meta             ResultMeta `json:"meta"`
}

// Fresh returns the findings extracted this cycle, excluding the ones that
// were already in the store. Persisting a cycle must use this slice, or the
// carried-over findings would be inserted a second time.
func (r *Result) Fresh() []Finding {
	if r.Meta.StoredFindings >= len(r.Findings) {
		return nil
	}
	return r.Findings[r.Meta.StoredFindings:]
}
