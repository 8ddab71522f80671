package threat_test

import (
	"strings"
	"testing"

	"github.com/kestrelsec/kestrel/internal/device"
	"github.com/kestrelsec/kestrel/internal/threat"
)

func TestExtractBehavior_quietSignalEmitsNothing(t *testing.T) {
	cases := []threat.BehaviorSignal{
		{},
		{LoginAttempts: 20, FailedAttempts: 5, LocationChanges: 3},
		{FailedAttempts: 4, LocationChanges: 1, DeviceChanges: 2},
	}
	for _, sig := range cases {
		if got := threat.ExtractBehavior("user-1", sig); len(got) != 0 {
			t.Errorf("signal %+v: expected no findings, got %d", sig, len(got))
		}
	}
}

func TestExtractBehavior_failedAttemptSeverity(t *testing.T) {
	// 6 failures crosses the threshold at MEDIUM; 11 crosses the highwater at HIGH.
	cases := []struct {
		failed int
		want   threat.Severity
	}{
		{6, threat.SeverityMedium},
		{10, threat.SeverityMedium},
		{11, threat.SeverityHigh},
	}

	for _, tc := range cases {
		findings := threat.ExtractBehavior("user-1", threat.BehaviorSignal{FailedAttempts: tc.failed})
		if len(findings) != 1 {
			t.Fatalf("failed=%d: expected 1 finding, got %d", tc.failed, len(findings))
		}
		f := findings[0]
		if f.Type != threat.TypeMultipleFailedAttempts {
			t.Errorf("failed=%d: got type %q", tc.failed, f.Type)
		}
		if f.Severity != tc.want {
			t.Errorf("failed=%d: got severity %q, want %q", tc.failed, f.Severity, tc.want)
		}
		if !strings.Contains(f.Description, "failed login attempts") {
			t.Errorf("description %q should mention failed login attempts", f.Description)
		}
	}
}

func TestExtractBehavior_descriptionInterpolatesCount(t *testing.T) {
	findings := threat.ExtractBehavior("user-1", threat.BehaviorSignal{FailedAttempts: 11})
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
	if !strings.Contains(findings[0].Description, "11") {
		t.Errorf("description %q should contain the literal count", findings[0].Description)
	}
}

func TestExtractBehavior_locationChanges(t *testing.T) {
	findings := threat.ExtractBehavior("user-1", threat.BehaviorSignal{LocationChanges: 4})
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
	if findings[0].Type != threat.TypeUnusualLocation {
		t.Errorf("got type %q, want UNUSUAL_LOCATION", findings[0].Type)
	}
	if findings[0].Severity != threat.SeverityMedium {
		t.Errorf("got severity %q, want MEDIUM", findings[0].Severity)
	}
}

func TestExtractDevice_unknownDevice(t *testing.T) {
	known := []device.Device{{ID: "dev-known", UserID: "user-1"}}

	findings := threat.ExtractDevice("user-1", threat.DeviceSignal{DeviceID: "dev-stranger"}, known)
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
	f := findings[0]
	if f.Type != threat.TypeDeviceAnomaly || f.Severity != threat.SeverityHigh {
		t.Errorf("got %q/%q, want DEVICE_ANOMALY/HIGH", f.Type, f.Severity)
	}
	if f.Device == nil || f.Device.DeviceID != "dev-stranger" {
		t.Errorf("device context missing or wrong: %+v", f.Device)
	}
	if f.Device.Jailbroken {
		t.Error("unknown-device finding must not carry the jailbroken flag")
	}
}

func TestExtractDevice_knownJailbrokenDevice(t *testing.T) {
	known := []device.Device{{
		ID:             "dev-1",
		UserID:         "user-1",
		Trusted:        true,
		SecurityStatus: device.SecurityStatus{Jailbroken: true},
	}}

	findings := threat.ExtractDevice("user-1", threat.DeviceSignal{DeviceID: "dev-1"}, known)

	var critical, high int
	for _, f := range findings {
		switch f.Severity {
		case threat.SeverityCritical:
			critical++
		case threat.SeverityHigh:
			high++
		}
	}
	if critical != 1 {
		t.Errorf("expected exactly 1 CRITICAL finding, got %d", critical)
	}
	if high != 0 {
		t.Errorf("expected 0 HIGH findings for a known device, got %d", high)
	}
	if findings[0].Device == nil || !findings[0].Device.Jailbroken {
		t.Errorf("jailbreak finding must carry the jailbroken flag: %+v", findings[0].Device)
	}
}

func TestExtractDevice_knownHealthyDevice(t *testing.T) {
	known := []device.Device{{ID: "dev-1", UserID: "user-1", Trusted: true}}

	if got := threat.ExtractDevice("user-1", threat.DeviceSignal{DeviceID: "dev-1"}, known); len(got) != 0 {
		t.Errorf("expected no findings for a known healthy device, got %d", len(got))
	}
}

func TestExtractSession_noAnomalies(t *testing.T) {
	sig := threat.SessionSignal{SessionID: "sess-1", DurationSeconds: 3600}
	if got := threat.ExtractSession("user-1", sig); len(got) != 0 {
		t.Errorf("expected no findings, got %d", len(got))
	}
}

func TestExtractSession_anomalies(t *testing.T) {
	sig := threat.SessionSignal{
		SessionID: "sess-1",
		Anomalies: []string{"ip_change", "user_agent_change"},
	}

	findings := threat.ExtractSession("user-1", sig)
	if len(findings) != 1 {
		t.Fatalf("expected exactly 1 finding, got %d", len(findings))
	}
	f := findings[0]
	if f.Type != threat.TypeSessionHijacking || f.Severity != threat.SeverityHigh {
		t.Errorf("got %q/%q, want SESSION_HIJACKING/HIGH", f.Type, f.Severity)
	}
	if !strings.Contains(f.Description, "ip_change, user_agent_change") {
		t.Errorf("description %q should join anomalies with a comma", f.Description)
	}
	if f.Session == nil || f.Session.SessionID != "sess-1" || len(f.Session.Anomalies) != 2 {
		t.Errorf("session context missing or incomplete: %+v", f.Session)
	}
}
