package threat

// RecommendationAllClear is the single recommendation returned when the
// overall level is NONE. The exact wording is load-bearing: clients match
// on it to render the "all good" state.
const RecommendationAllClear = "Security status is good - continue monitoring"

var recommendationByType = map[ThreatType]string{
	TypeMultipleFailedAttempts: "Change your password immediately and enable two-factor authentication",
	TypeUnusualLocation:        "Review recent sign-in locations and enable login notifications",
	TypeDeviceAnomaly:          "Review your registered devices and remove any you do not recognize",
	TypeSessionHijacking:       "Terminate all active sessions and change your password",
	TypeSuspiciousLogin:        "Verify your recent login activity and update your credentials",
	TypeCredentialStuffing:     "Use a unique password for this account and enable two-factor authentication",
	TypeAccountTakeover:        "Contact support immediately - your account may be compromised",
	TypeDataBreachExposure:     "Your credentials may have appeared in a data breach - change your password now",
}

var actionByType = map[ThreatType]string{
	TypeDeviceAnomaly:    "Revoke trust for the compromised device and require re-verification",
	TypeSessionHijacking: "Terminate the hijacked session immediately",
}

// Recommendations maps findings to canned remediation advice, deduplicated
// with first-occurrence order preserved. An overall level of NONE
// short-circuits to the all-clear message.
func Recommendations(findings []Finding, overall Level) []string {
	if overall == LevelNone {
		return []string{RecommendationAllClear}
	}

	seen := make(map[string]struct{}, len(findings))
	var recs []string
	for _, f := range findings {
		rec, ok := recommendationByType[f.Type]
		if !ok {
			continue
		}
		if _, dup := seen[rec]; dup {
			continue
		}
		seen[rec] = struct{}{}
		recs = append(recs, rec)
	}
	return recs
}

// ImmediateActions lists the advisory remediation texts for CRITICAL
// findings of the types the orchestrator knows how to handle, deduplicated.
// The list is advisory even when auto-response did not run: a caller may act
// on it manually.
func ImmediateActions(findings []Finding) []string {
	seen := make(map[string]struct{}, 2)
	var actions []string
	for _, f := range findings {
		if f.Severity != SeverityCritical {
			continue
		}
		action, ok := actionByType[f.Type]
		if !ok {
			continue
		}
		if _, dup := seen[action]; dup {
			continue
		}
		seen[action] = struct{}{}
		actions = append(actions, action)
	}
	return actions
}
