package threat_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/kestrelsec/kestrel/internal/device"
	"github.com/kestrelsec/kestrel/internal/threat"
	"go.uber.org/zap"
)

// ── Stubs ────────────────────────────────────────────────────────────────

type stubStore struct {
	findings []threat.Finding
	err      error
}

func (s *stubStore) ListUnresolved(_ context.Context, _ string) ([]threat.Finding, error) {
	return s.findings, s.err
}

type stubRegistry struct {
	devices []device.Device
	err     error
}

func (s *stubRegistry) List(_ context.Context, _ string) ([]device.Device, error) {
	return s.devices, s.err
}

func allSignals() threat.Signals {
	return threat.Signals{
		Behavior: &threat.BehaviorSignal{FailedAttempts: 11},
		Device:   &threat.DeviceSignal{DeviceID: "dev-stranger"},
		Session:  &threat.SessionSignal{SessionID: "sess-1", Anomalies: []string{"ip_change"}},
	}
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestDetect_rejectsEmptyUserID(t *testing.T) {
	svc := threat.NewService(&stubStore{}, &stubRegistry{}, zap.NewNop())

	for _, userID := range []string{"", "   "} {
		_, err := svc.Detect(context.Background(), userID, threat.Signals{}, threat.Options{})
		if !errors.Is(err, threat.ErrEmptyUserID) {
			t.Errorf("userID %q: got %v, want ErrEmptyUserID", userID, err)
		}
	}
}

func TestDetect_mergesAllSourcesInStableOrder(t *testing.T) {
	stored := threat.Finding{
		ID: "stored-1", UserID: "user-1",
		Type: threat.TypeCredentialStuffing, Severity: threat.SeverityMedium,
	}
	svc := threat.NewService(
		&stubStore{findings: []threat.Finding{stored}},
		&stubRegistry{devices: []device.Device{{ID: "dev-known"}}},
		zap.NewNop(),
	)

	res, err := svc.Detect(context.Background(), "user-1", allSignals(), threat.Options{})
	if err != nil {
		t.Fatal(err)
	}

	// stored, behavior, device, session — fixed concatenation order.
	wantTypes := []threat.ThreatType{
		threat.TypeCredentialStuffing,
		threat.TypeMultipleFailedAttempts,
		threat.TypeDeviceAnomaly,
		threat.TypeSessionHijacking,
	}
	if len(res.Findings) != len(wantTypes) {
		t.Fatalf("expected %d findings, got %d", len(wantTypes), len(res.Findings))
	}
	for i, want := range wantTypes {
		if res.Findings[i].Type != want {
			t.Errorf("finding %d: got %q, want %q", i, res.Findings[i].Type, want)
		}
	}
}

func TestDetect_freshExcludesStoredFindings(t *testing.T) {
	stored := threat.Finding{
		ID: "stored-1", UserID: "user-1",
		Type: threat.TypeCredentialStuffing, Severity: threat.SeverityMedium,
	}
	svc := threat.NewService(&stubStore{findings: []threat.Finding{stored}}, &stubRegistry{}, zap.NewNop())

	res, err := svc.Detect(context.Background(), "user-1",
		threat.Signals{Behavior: &threat.BehaviorSignal{FailedAttempts: 7}},
		threat.Options{},
	)
	if err != nil {
		t.Fatal(err)
	}

	if res.Meta.StoredFindings != 1 {
		t.Errorf("stored findings: got %d, want 1", res.Meta.StoredFindings)
	}
	fresh := res.Fresh()
	if len(fresh) != 1 {
		t.Fatalf("fresh findings: got %d, want 1", len(fresh))
	}
	if fresh[0].Type != threat.TypeMultipleFailedAttempts {
		t.Errorf("fresh finding type: got %q", fresh[0].Type)
	}
	for _, f := range fresh {
		if f.ID == stored.ID {
			t.Errorf("stored finding %q leaked into the fresh slice", f.ID)
		}
	}
}

func TestDetect_emptyFindingsMeansNone(t *testing.T) {
	svc := threat.NewService(&stubStore{}, &stubRegistry{}, zap.NewNop())

	res, err := svc.Detect(context.Background(), "user-1",
		threat.Signals{Behavior: &threat.BehaviorSignal{FailedAttempts: 2}},
		threat.Options{},
	)
	if err != nil {
		t.Fatal(err)
	}

	if res.OverallLevel != threat.LevelNone {
		t.Errorf("got level %q, want NONE", res.OverallLevel)
	}
	if len(res.Recommendations) != 1 || res.Recommendations[0] != threat.RecommendationAllClear {
		t.Errorf("got recommendations %v, want exactly the all-clear message", res.Recommendations)
	}
	if len(res.ImmediateActions) != 0 {
		t.Errorf("unexpected immediate actions: %v", res.ImmediateActions)
	}
}

func TestDetect_degradesWhenDeviceLookupFails(t *testing.T) {
	svc := threat.NewService(
		&stubStore{},
		&stubRegistry{err: errors.New("registry unavailable")},
		zap.NewNop(),
	)

	res, err := svc.Detect(context.Background(), "user-1", allSignals(), threat.Options{})
	if err != nil {
		t.Fatalf("degraded lookup must not fail detection: %v", err)
	}

	// Behaviour and session findings survive; the device source contributes nothing.
	for _, f := range res.Findings {
		if f.Type == threat.TypeDeviceAnomaly {
			t.Errorf("unexpected device finding from a failed lookup: %+v", f)
		}
	}
	if len(res.Findings) != 2 {
		t.Errorf("expected 2 findings from the healthy sources, got %d", len(res.Findings))
	}
}

func TestDetect_degradesWhenStoreFails(t *testing.T) {
	svc := threat.NewService(
		&stubStore{err: errors.New("db down")},
		&stubRegistry{},
		zap.NewNop(),
	)

	res, err := svc.Detect(context.Background(), "user-1",
		threat.Signals{Session: &threat.SessionSignal{SessionID: "sess-1", Anomalies: []string{"ip_change"}}},
		threat.Options{},
	)
	if err != nil {
		t.Fatalf("degraded store must not fail detection: %v", err)
	}
	if len(res.Findings) != 1 {
		t.Errorf("expected the session finding to survive, got %d findings", len(res.Findings))
	}
}

func TestDetect_autoResponseRevokesJailbrokenDevice(t *testing.T) {
	devices := &stubRevoker{}
	sessions := &stubTerminator{}

	svc := threat.NewService(
		&stubStore{},
		&stubRegistry{devices: []device.Device{{
			ID:             "dev-1",
			SecurityStatus: device.SecurityStatus{Jailbroken: true},
		}}},
		zap.NewNop(),
	)
	svc.SetResponder(threat.NewResponder(sessions, devices, zap.NewNop()))

	res, err := svc.Detect(context.Background(), "user-1",
		threat.Signals{Device: &threat.DeviceSignal{DeviceID: "dev-1"}},
		threat.Options{EnableRealTimeResponse: true},
	)
	if err != nil {
		t.Fatal(err)
	}

	if res.OverallLevel != threat.LevelCritical {
		t.Fatalf("got level %q, want CRITICAL", res.OverallLevel)
	}
	if !res.Meta.AutoResponseTriggered || !res.Meta.AutoResponseClean {
		t.Errorf("auto-response meta: %+v", res.Meta)
	}
	if len(devices.calls) != 1 || devices.calls[0] != "dev-1" {
		t.Errorf("expected exactly one trust revocation for dev-1, got %v", devices.calls)
	}
	if len(sessions.calls) != 0 {
		t.Errorf("unexpected session terminations: %v", sessions.calls)
	}
}

func TestDetect_autoResponseRequiresOptIn(t *testing.T) {
	devices := &stubRevoker{}

	svc := threat.NewService(
		&stubStore{},
		&stubRegistry{devices: []device.Device{{
			ID:             "dev-1",
			SecurityStatus: device.SecurityStatus{Jailbroken: true},
		}}},
		zap.NewNop(),
	)
	svc.SetResponder(threat.NewResponder(&stubTerminator{}, devices, zap.NewNop()))

	res, err := svc.Detect(context.Background(), "user-1",
		threat.Signals{Device: &threat.DeviceSignal{DeviceID: "dev-1"}},
		threat.Options{}, // real-time response not enabled
	)
	if err != nil {
		t.Fatal(err)
	}

	if res.Meta.AutoResponseTriggered {
		t.Error("auto-response must not run without opt-in")
	}
	if len(devices.calls) != 0 {
		t.Errorf("unexpected revocations: %v", devices.calls)
	}
	// The advisory action list is still produced.
	if len(res.ImmediateActions) != 1 {
		t.Errorf("expected 1 advisory immediate action, got %v", res.ImmediateActions)
	}
}

func TestDetect_autoResponseSkippedBelowHigh(t *testing.T) {
	sessions := &stubTerminator{}

	svc := threat.NewService(&stubStore{}, &stubRegistry{}, zap.NewNop())
	svc.SetResponder(threat.NewResponder(sessions, &stubRevoker{}, zap.NewNop()))

	// One MEDIUM finding only: overall LOW, below the response threshold.
	res, err := svc.Detect(context.Background(), "user-1",
		threat.Signals{Behavior: &threat.BehaviorSignal{FailedAttempts: 6}},
		threat.Options{EnableRealTimeResponse: true},
	)
	if err != nil {
		t.Fatal(err)
	}

	if res.OverallLevel != threat.LevelLow {
		t.Fatalf("got level %q, want LOW", res.OverallLevel)
	}
	if res.Meta.AutoResponseTriggered {
		t.Error("auto-response must not trigger below HIGH")
	}
}

func TestDetect_idempotentVerdict(t *testing.T) {
	svc := threat.NewService(
		&stubStore{},
		&stubRegistry{devices: []device.Device{{ID: "dev-known"}}},
		zap.NewNop(),
	)

	fingerprint := func(res *threat.Result) []string {
		var keys []string
		for _, f := range res.Findings {
			keys = append(keys, fmt.Sprintf("%s|%s|%s", f.Type, f.Severity, f.Description))
		}
		sort.Strings(keys)
		return keys
	}

	first, err := svc.Detect(context.Background(), "user-1", allSignals(), threat.Options{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Detect(context.Background(), "user-1", allSignals(), threat.Options{})
	if err != nil {
		t.Fatal(err)
	}

	a, b := fingerprint(first), fingerprint(second)
	if len(a) != len(b) {
		t.Fatalf("finding counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("verdict differs at %d: %q vs %q", i, a[i], b[i])
		}
	}
	if first.OverallLevel != second.OverallLevel {
		t.Errorf("levels differ: %q vs %q", first.OverallLevel, second.OverallLevel)
	}
}

func TestDetect_metaCountsAndHooks(t *testing.T) {
	var metricked *threat.Result
	var webhookEvents []string
	var alerted bool

	svc := threat.NewService(
		&stubStore{},
		&stubRegistry{devices: []device.Device{{
			ID:             "dev-1",
			SecurityStatus: device.SecurityStatus{Jailbroken: true},
		}}},
		zap.NewNop(),
	)
	svc.SetMetricsRecorder(func(res *threat.Result) { metricked = res })
	svc.SetWebhookDispatch(func(_ context.Context, eventType string, _ map[string]string) {
		webhookEvents = append(webhookEvents, eventType)
	})
	svc.SetAlertFunc(func(_ context.Context, _ *threat.Result) { alerted = true })

	res, err := svc.Detect(context.Background(), "user-1",
		threat.Signals{
			Behavior: &threat.BehaviorSignal{FailedAttempts: 6},
			Device:   &threat.DeviceSignal{DeviceID: "dev-1"},
		},
		threat.Options{},
	)
	if err != nil {
		t.Fatal(err)
	}

	if res.Meta.SeverityCounts[threat.SeverityCritical] != 1 ||
		res.Meta.SeverityCounts[threat.SeverityMedium] != 1 {
		t.Errorf("severity counts: %v", res.Meta.SeverityCounts)
	}
	if metricked == nil {
		t.Error("metrics recorder not invoked")
	}
	if len(webhookEvents) != 2 || webhookEvents[0] != "threat.detected" || webhookEvents[1] != "threat.critical" {
		t.Errorf("webhook events: %v", webhookEvents)
	}
	if !alerted {
		t.Error("alert hook not invoked for a critical verdict")
	}
}
