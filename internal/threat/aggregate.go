package threat

// mergeFindings concatenates per-source findings in a fixed order — stored,
// behaviour, device, session — so the result ordering is stable regardless of
// which extractor goroutine finished first. The order carries no other
// meaning.
func mergeFindings(stored, behavior, device, session []Finding) []Finding {
	merged := make([]Finding, 0, len(stored)+len(behavior)+len(device)+len(session))
	merged = append(merged, stored...)
	merged = append(merged, behavior...)
	merged = append(merged, device...)
	merged = append(merged, session...)
	return merged
}

// OverallLevel derives the single worst-case threat level from the severity
// multiset of one detection cycle's findings:
//
//	no findings                     → NONE
//	any CRITICAL                    → CRITICAL
//	more than one HIGH              → HIGH
//	one HIGH, or more than 2 MEDIUM → MEDIUM
//	at least one MEDIUM             → LOW
//	otherwise                       → NONE
//
// Note the asymmetry: two HIGH findings escalate to HIGH, but a single HIGH
// only reaches MEDIUM. That is long-standing behaviour callers depend on;
// do not "fix" it without product sign-off.
func OverallLevel(findings []Finding) Level {
	if len(findings) == 0 {
		return LevelNone
	}

	var high, medium int
	for _, f := range findings {
		switch f.Severity {
		case SeverityCritical:
			return LevelCritical
		case SeverityHigh:
			high++
		case SeverityMedium:
			medium++
		}
	}

	switch {
	case high > 1:
		return LevelHigh
	case high >= 1 || medium > 2:
		return LevelMedium
	case medium >= 1:
		return LevelLow
	default:
		return LevelNone
	}
}

// severityCounts tallies findings per severity for result metadata.
func severityCounts(findings []Finding) map[Severity]int {
	counts := make(map[Severity]int, 4)
	for _, f := range findings {
		counts[f.Severity]++
	}
	return counts
}
