package threat_test

import (
	"testing"

	"github.com/kestrelsec/kestrel/internal/threat"
)

func withSeverities(sevs ...threat.Severity) []threat.Finding {
	findings := make([]threat.Finding, len(sevs))
	for i, s := range sevs {
		findings[i] = threat.Finding{UserID: "user-1", Type: threat.TypeSuspiciousLogin, Severity: s}
	}
	return findings
}

func TestOverallLevel_decisionTable(t *testing.T) {
	cases := []struct {
		name string
		in   []threat.Finding
		want threat.Level
	}{
		{"empty", nil, threat.LevelNone},
		{"single critical wins", withSeverities(threat.SeverityLow, threat.SeverityCritical), threat.LevelCritical},
		{"two highs escalate", withSeverities(threat.SeverityHigh, threat.SeverityHigh), threat.LevelHigh},
		{"one high stays medium", withSeverities(threat.SeverityHigh), threat.LevelMedium},
		{"one high plus two mediums", withSeverities(threat.SeverityHigh, threat.SeverityMedium, threat.SeverityMedium), threat.LevelMedium},
		{"three mediums reach medium", withSeverities(threat.SeverityMedium, threat.SeverityMedium, threat.SeverityMedium), threat.LevelMedium},
		{"two mediums only low", withSeverities(threat.SeverityMedium, threat.SeverityMedium), threat.LevelLow},
		{"one medium is low", withSeverities(threat.SeverityMedium), threat.LevelLow},
		{"lows alone do not register", withSeverities(threat.SeverityLow, threat.SeverityLow), threat.LevelNone},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := threat.OverallLevel(tc.in); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestLevel_AtLeast(t *testing.T) {
	if !threat.LevelCritical.AtLeast(threat.LevelHigh) {
		t.Error("CRITICAL should be at least HIGH")
	}
	if !threat.LevelHigh.AtLeast(threat.LevelHigh) {
		t.Error("HIGH should be at least HIGH")
	}
	if threat.LevelMedium.AtLeast(threat.LevelHigh) {
		t.Error("MEDIUM should not be at least HIGH")
	}
}
