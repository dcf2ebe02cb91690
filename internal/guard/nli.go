package guard

import (
	"context"
	"fmt"
	"strings"

	hyerr "github.com/Aman-CERP/hybridrag3/internal/errors"
	"github.com/Aman-CERP/hybridrag3/internal/llm"
)

// Caller is the subset of llm.Router the ModelVerifier needs. Declared
// locally so tests can supply a fake without constructing a real Router.
type Caller interface {
	Call(ctx context.Context, mode llm.Mode, req llm.Request) (llm.Response, error)
}

// classificationPrompt asks the local model to pick exactly one NLI
// label for a (claim, chunk) pair. Constrained to a single-word answer
// so the response is cheap to parse without a JSON round trip.
const classificationPrompt = `Decide whether the PASSAGE entails, contradicts, or is neutral toward the CLAIM.
Respond with exactly one word: ENTAILMENT, CONTRADICTION, or NEUTRAL.

PASSAGE:
%s

CLAIM:
%s`

// ModelVerifier delegates classification to the LLMRouter's local
// backend, mirroring how embed.Embedder has a model-backed
// implementation behind an interface other layers can swap out.
type ModelVerifier struct {
	router Caller
	model  string
}

// NewModelVerifier constructs a ModelVerifier that classifies via the
// router's local backend using model.
func NewModelVerifier(router Caller, model string) *ModelVerifier {
	return &ModelVerifier{router: router, model: model}
}

func (v *ModelVerifier) Name() string { return "model" }

// Classify asks the local model for a single label and maps it onto a
// one-hot NLIResult. A malformed or empty response is reported as an
// error so the caller (the guard's verify loop) can fall back rather
// than silently guessing.
func (v *ModelVerifier) Classify(ctx context.Context, claim, chunk string) (NLIResult, error) {
	prompt := fmt.Sprintf(classificationPrompt, chunk, claim)

	resp, err := v.router.Call(ctx, llm.ModeLocal, llm.Request{
		Prompt:      prompt,
		Model:       v.model,
		Temperature: 0,
		MaxTokens:   8,
	})
	if err != nil {
		return NLIResult{}, err
	}

	label := strings.ToUpper(strings.TrimSpace(resp.AnswerText))
	switch {
	case strings.Contains(label, "CONTRADICTION"):
		return NLIResult{Contradiction: 1}, nil
	case strings.Contains(label, "ENTAILMENT"):
		return NLIResult{Entailment: 1}, nil
	case strings.Contains(label, "NEUTRAL"):
		return NLIResult{Neutral: 1}, nil
	default:
		return NLIResult{}, hyerr.InvalidResponse(fmt.Sprintf("model verifier returned unparseable label %q", label), nil)
	}
}

// LexicalVerifier is a deterministic, model-free fallback: it scores
// entailment by token overlap between claim and chunk, and flags a
// contradiction when overlapping terms co-occur with a mismatched
// negation. Used when guard.enabled is true but no local backend is
// reachable, and by the guard's self-test (no network, no model load).
type LexicalVerifier struct{}

func NewLexicalVerifier() *LexicalVerifier { return &LexicalVerifier{} }

func (v *LexicalVerifier) Name() string { return "lexical" }

var negationWords = map[string]bool{
	"not": true, "no": true, "never": true, "n't": true, "cannot": true, "without": true,
}

func (v *LexicalVerifier) Classify(_ context.Context, claim, chunk string) (NLIResult, error) {
	claimTokens := tokenize(claim)
	chunkTokens := tokenSet(tokenize(chunk))
	if len(claimTokens) == 0 {
		return NLIResult{Neutral: 1}, nil
	}

	overlap := 0
	for _, t := range claimTokens {
		if chunkTokens[t] {
			overlap++
		}
	}
	ratio := float64(overlap) / float64(len(claimTokens))

	claimNegated := hasNegation(claimTokens)
	chunkNegated := hasNegation(tokenize(chunk))

	switch {
	case ratio >= 0.5 && claimNegated != chunkNegated:
		// Same subject matter, opposite polarity: a lexical contradiction
		// signal, not a semantic one, so weighted conservatively.
		return NLIResult{Contradiction: 0.7, Neutral: 0.3}, nil
	case ratio >= 0.6:
		return NLIResult{Entailment: ratio}, nil
	case ratio >= 0.25:
		return NLIResult{Neutral: 1 - ratio, Entailment: ratio}, nil
	default:
		return NLIResult{Neutral: 1}, nil
	}
}

func hasNegation(tokens []string) bool {
	for _, t := range tokens {
		if negationWords[t] {
			return true
		}
	}
	return false
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '\'')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 2 {
			out = append(out, f)
		}
	}
	return out
}

func tokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}
