package engine

import "sort"

// aggregate combines the firing signals for one transaction into a
// RiskScore using a noisy-OR: score = 1 - product(1 - severity). Weak
// independent signals compound toward high risk without any single
// detector needing to saturate, and the result stays in [0, 1) for any
// finite set of sub-1.0 severities without manual normalization.
//
// Reasons are ordered by descending severity; ties keep the detectors'
// registration order (amount deviation, velocity, device change,
// location change), so output is deterministic and reproducible.
func aggregate(txID string, signals []AnomalySignal, flagThreshold float64) RiskScore {
	rs := RiskScore{TransactionID: txID, Reasons: []string{}}
	if len(signals) == 0 {
		return rs
	}

	product := 1.0
	for _, sig := range signals {
		product *= 1 - sig.Severity
	}
	rs.Score = 1 - product
	rs.Flagged = rs.Score >= flagThreshold

	ordered := make([]AnomalySignal, len(signals))
	copy(ordered, signals)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Severity > ordered[j].Severity
	})
	for _, sig := range ordered {
		rs.Reasons = append(rs.Reasons, sig.Evidence)
	}
	return rs
}
