package threat

import (
	"fmt"
	"strings"

	"github.com/kestrelsec/kestrel/internal/device"
)

// Fixed policy thresholds for the behavioural extractor. These are
// deliberately not configurable per call.
const (
	failedAttemptsThreshold  = 5
	failedAttemptsHighwater  = 10
	locationChangesThreshold = 3
)

// ExtractBehavior inspects authentication behaviour counters and returns the
// findings they imply. Pure: no I/O, no shared state.
func ExtractBehavior(userID string, sig BehaviorSignal) []Finding {
	var findings []Finding

	if sig.FailedAttempts > failedAttemptsThreshold {
		sev := SeverityMedium
		if sig.FailedAttempts > failedAttemptsHighwater {
			sev = SeverityHigh
		}
		findings = append(findings, newFinding(userID,
			TypeMultipleFailedAttempts, sev,
			"Multiple failed login attempts",
			fmt.Sprintf("%d failed login attempts detected", sig.FailedAttempts),
		))
	}

	if sig.LocationChanges > locationChangesThreshold {
		findings = append(findings, newFinding(userID,
			TypeUnusualLocation, SeverityMedium,
			"Unusual location activity",
			fmt.Sprintf("%d location changes detected in the recent activity window", sig.LocationChanges),
		))
	}

	return findings
}

// ExtractDevice compares the presented device against the devices already on
// file for the user. An unrecognised device ID yields a HIGH anomaly; a known
// device whose client-reported security status says it is jailbroken yields a
// CRITICAL anomaly carrying the jailbreak flag that arms auto-remediation.
// Pure: the registry lookup happens in the caller.
func ExtractDevice(userID string, sig DeviceSignal, known []device.Device) []Finding {
	var match *device.Device
	for i := range known {
		if known[i].ID == sig.DeviceID {
			match = &known[i]
			break
		}
	}

	if match == nil {
		f := newFinding(userID,
			TypeDeviceAnomaly, SeverityHigh,
			"Unknown device access",
			"Sign-in from a device not previously seen on this account",
		)
		f.Device = &DeviceContext{DeviceID: sig.DeviceID}
		return []Finding{f}
	}

	if match.SecurityStatus.Jailbroken {
		f := newFinding(userID,
			TypeDeviceAnomaly, SeverityCritical,
			"Compromised device",
			"Known device is jailbroken or rooted and cannot be trusted",
		)
		f.Device = &DeviceContext{DeviceID: match.ID, Jailbroken: true}
		return []Finding{f}
	}

	return nil
}

// ExtractSession inspects the active session. Any reported anomalies collapse
// into exactly one hijacking finding; the session context is carried through
// for remediation. Pure: no I/O, no shared state.
func ExtractSession(userID string, sig SessionSignal) []Finding {
	if len(sig.Anomalies) == 0 {
		return nil
	}

	f := newFinding(userID,
		TypeSessionHijacking, SeverityHigh,
		"Possible session hijacking",
		"Session anomalies detected: "+strings.Join(sig.Anomalies, ", "),
	)
	f.Session = &SessionContext{
		SessionID: sig.SessionID,
		Anomalies: sig.Anomalies,
	}
	return []Finding{f}
}
