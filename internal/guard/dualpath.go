package guard

import (
	"context"

	"github.com/Aman-CERP/hybridrag3/internal/llm"
)

// DualPathCheck implements the guard's optional dual-path mode: the same
// prompt is sent to two distinct models (typically local and remote),
// and if their answers disagree beyond disagreeThreshold (by token
// overlap, the same heuristic LexicalVerifier uses), the caller should
// fall back to a conservative response rather than trust either one.
// Disabled by default; callers opt in by wiring two distinct routers.
func DualPathCheck(ctx context.Context, primary, secondary Caller, req llm.Request, disagreeThreshold float64) (agree bool, primaryText, secondaryText string, err error) {
	primaryResp, err := primary.Call(ctx, llm.ModeLocal, req)
	if err != nil {
		return false, "", "", err
	}
	secondaryResp, err := secondary.Call(ctx, llm.ModeRemote, req)
	if err != nil {
		return false, "", "", err
	}

	overlap := tokenOverlapRatio(primaryResp.AnswerText, secondaryResp.AnswerText)
	return overlap >= (1 - disagreeThreshold), primaryResp.AnswerText, secondaryResp.AnswerText, nil
}

func tokenOverlapRatio(a, b string) float64 {
	aTokens := tokenSet(tokenize(a))
	bTokens := tokenize(b)
	if len(aTokens) == 0 || len(bTokens) == 0 {
		return 0
	}
	matched := 0
	for _, t := range bTokens {
		if aTokens[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(bTokens))
}
