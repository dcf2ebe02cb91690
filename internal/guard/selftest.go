package guard

import (
	"context"
	"fmt"

	"github.com/Aman-CERP/hybridrag3/internal/config"
)

// SelfTest runs a fast structural check with no model load and no
// network: it builds a trivial supported-claim example using the
// LexicalVerifier and asserts it scores above threshold. Administrative
// entry points (spec §4.10, §6.7's diag command) must respect its
// return value before relying on the guard.
func SelfTest(cfg config.GuardConfig) SelfTestResult {
	g := New(cfg, func() (NLIVerifier, error) {
		return NewLexicalVerifier(), nil
	})

	const chunk = "The warranty period is 24 months from the date of purchase."
	const answer = "The warranty period is 24 months from the date of purchase."

	result, err := g.Run(context.Background(), answer, []string{chunk})
	if err != nil {
		return SelfTestResult{Passed: false, Detail: fmt.Sprintf("guard pipeline construction failed: %v", err)}
	}
	if !result.IsSafe || result.Faithfulness < cfg.FaithfulnessThreshold {
		return SelfTestResult{
			Passed: false,
			Detail: fmt.Sprintf("trivial supported claim scored faithfulness=%.2f safe=%v, expected a pass", result.Faithfulness, result.IsSafe),
		}
	}
	return SelfTestResult{Passed: true, Detail: "lexical verifier self-test passed"}
}
