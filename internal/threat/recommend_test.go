package threat_test

import (
	"testing"

	"github.com/kestrelsec/kestrel/internal/threat"
)

func TestRecommendations_allClear(t *testing.T) {
	recs := threat.Recommendations(nil, threat.LevelNone)
	if len(recs) != 1 || recs[0] != threat.RecommendationAllClear {
		t.Errorf("got %v, want exactly [%q]", recs, threat.RecommendationAllClear)
	}
}

func TestRecommendations_deduplicatesPreservingOrder(t *testing.T) {
	findings := []threat.Finding{
		{Type: threat.TypeSessionHijacking, Severity: threat.SeverityHigh},
		{Type: threat.TypeMultipleFailedAttempts, Severity: threat.SeverityMedium},
		{Type: threat.TypeSessionHijacking, Severity: threat.SeverityHigh},
	}

	recs := threat.Recommendations(findings, threat.LevelHigh)
	if len(recs) != 2 {
		t.Fatalf("expected 2 deduplicated recommendations, got %d: %v", len(recs), recs)
	}
	// First occurrence order: session hijacking advice first.
	if recs[0] != "Terminate all active sessions and change your password" {
		t.Errorf("first recommendation out of order: %q", recs[0])
	}
}

func TestRecommendations_coversEveryType(t *testing.T) {
	types := []threat.ThreatType{
		threat.TypeMultipleFailedAttempts,
		threat.TypeUnusualLocation,
		threat.TypeDeviceAnomaly,
		threat.TypeSessionHijacking,
		threat.TypeSuspiciousLogin,
		threat.TypeCredentialStuffing,
		threat.TypeAccountTakeover,
		threat.TypeDataBreachExposure,
	}
	for _, tt := range types {
		recs := threat.Recommendations([]threat.Finding{{Type: tt, Severity: threat.SeverityMedium}}, threat.LevelLow)
		if len(recs) != 1 || recs[0] == "" {
			t.Errorf("type %q has no recommendation", tt)
		}
	}
}

func TestImmediateActions_onlyCriticalHandledTypes(t *testing.T) {
	findings := []threat.Finding{
		{Type: threat.TypeDeviceAnomaly, Severity: threat.SeverityHigh},      // not critical
		{Type: threat.TypeAccountTakeover, Severity: threat.SeverityCritical}, // critical but unhandled
		{Type: threat.TypeDeviceAnomaly, Severity: threat.SeverityCritical},
		{Type: threat.TypeSessionHijacking, Severity: threat.SeverityCritical},
		{Type: threat.TypeSessionHijacking, Severity: threat.SeverityCritical}, // duplicate
	}

	actions := threat.ImmediateActions(findings)
	if len(actions) != 2 {
		t.Fatalf("expected 2 actions, got %d: %v", len(actions), actions)
	}
}
