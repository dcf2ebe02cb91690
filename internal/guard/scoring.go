package guard

// score computes the faithfulness fraction and the list of flagged
// (contradicted or unverified) claim texts from a set of per-claim
// verdicts. Faithfulness is supported_claims / total_claims, or 1.0 for
// an empty claim set (nothing to contradict, so nothing to flag).
func score(checks []ClaimCheck) (faithfulness float64, flagged []string) {
	if len(checks) == 0 {
		return 1, nil
	}

	supported := 0
	for _, c := range checks {
		switch c.Verdict {
		case VerdictSupported:
			supported++
		default:
			flagged = append(flagged, c.Claim)
		}
	}
	return float64(supported) / float64(len(checks)), flagged
}

// isUnsafe applies the single condition that governs BOTH the is_safe
// flag and whether a rewrite is built. Must never be evaluated two
// different ways in the same guard run (spec §4.10's pinned invariant).
func isUnsafe(checks []ClaimCheck, faithfulness, threshold float64) bool {
	for _, c := range checks {
		if c.Verdict == VerdictContradicted {
			return true
		}
	}
	return faithfulness < threshold
}
