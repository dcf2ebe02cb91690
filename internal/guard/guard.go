package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/hybridrag3/internal/config"
)

const verdictCacheSize = 2048

// entailmentThreshold and contradictionThreshold turn a continuous
// NLIResult into a discrete per-chunk signal before the per-claim
// verdict is derived from the best chunk seen.
const (
	entailmentThreshold    = 0.5
	contradictionThreshold = 0.5
)

// HallucinationGuard checks an answer's claims against the retrieved
// context and replaces the answer with a safe rewrite when it finds
// claims the context does not support (spec §4.10).
type HallucinationGuard struct {
	cfg config.GuardConfig

	// mu guards lazy construction of the NLI verifier: concurrent
	// Apply calls must not race each other loading the model (spec
	// §4.10's "thread safety: model is loaded lazily under a mutex").
	mu            sync.Mutex
	verifier      NLIVerifier
	buildVerifier func() (NLIVerifier, error)

	cache *lru.Cache[string, NLIResult]
}

// New constructs a HallucinationGuard. buildVerifier is called at most
// once, the first time a verifier is needed, under mu; it typically
// wraps NewModelVerifier or NewLexicalVerifier.
func New(cfg config.GuardConfig, buildVerifier func() (NLIVerifier, error)) *HallucinationGuard {
	cache, _ := lru.New[string, NLIResult](verdictCacheSize)
	return &HallucinationGuard{
		cfg:           cfg,
		buildVerifier: buildVerifier,
		cache:         cache,
	}
}

func (g *HallucinationGuard) verifierInstance() (NLIVerifier, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.verifier != nil {
		return g.verifier, nil
	}
	v, err := g.buildVerifier()
	if err != nil {
		return nil, err
	}
	g.verifier = v
	return v, nil
}

// Apply runs the full guard pipeline over one answer and satisfies
// query.Guard. It never returns a non-nil error for a verifier that is
// merely unavailable; callers that want hard failure should inspect
// errors from New's buildVerifier instead.
func (g *HallucinationGuard) Apply(ctx context.Context, question, answerText string, passages []string) (string, bool, error) {
	result, err := g.Run(ctx, answerText, passages)
	if err != nil {
		return "", false, err
	}
	return result.AnswerText, result.IsSafe, nil
}

// Run is Apply without the query.Guard-shaped return, for callers (and
// tests) that want the full Result.
func (g *HallucinationGuard) Run(ctx context.Context, answerText string, passages []string) (Result, error) {
	verifier, err := g.verifierInstance()
	if err != nil {
		return Result{}, err
	}

	claims := ExtractClaims(answerText)
	hardened := make([]string, len(passages))
	for i, p := range passages {
		hardened[i] = hardenPassage(p)
	}
	pruned := prune(hardened, g.cfg.ChunkPruneK)

	checks := make([]ClaimCheck, 0, len(claims))
	consecutivePasses := 0
	contradictions := 0
	shortCircuited := false

claimLoop:
	for _, claim := range claims {
		verdict, bestChunk := g.verifyClaim(ctx, verifier, claim, pruned)
		checks = append(checks, ClaimCheck{Claim: claim, Verdict: verdict, BestChunk: bestChunk})

		switch verdict {
		case VerdictSupported:
			consecutivePasses++
			if consecutivePasses >= g.cfg.ShortCircuitPassCount {
				shortCircuited = true
				break claimLoop
			}
		case VerdictContradicted:
			consecutivePasses = 0
			contradictions++
			if contradictions >= g.cfg.ShortCircuitFailCount {
				shortCircuited = true
				break claimLoop
			}
		default:
			consecutivePasses = 0
		}
	}

	faithfulness, flagged := score(checks)
	unsafe := isUnsafe(checks, faithfulness, g.cfg.FaithfulnessThreshold)

	out := answerText
	if unsafe {
		out = safeRewrite(flagged)
	}

	return Result{
		AnswerText:     out,
		IsSafe:         !unsafe,
		Faithfulness:   faithfulness,
		Claims:         checks,
		FlaggedClaims:  flagged,
		ShortCircuited: shortCircuited,
	}, nil
}

// verifyClaim checks claim against each chunk (cache-first), returning
// the verdict driven by the single best (highest-magnitude) signal seen
// across chunks: a contradiction anywhere wins over an entailment
// anywhere, matching the conservative stance spec §4.10 takes on
// ambiguous evidence.
func (g *HallucinationGuard) verifyClaim(ctx context.Context, verifier NLIVerifier, claim string, chunks []string) (Verdict, string) {
	bestVerdict := VerdictUnverified
	bestChunk := ""
	sawEntailment := false

	for _, chunk := range chunks {
		res := g.classifyCached(ctx, verifier, claim, chunk)

		if res.Contradiction >= contradictionThreshold {
			return VerdictContradicted, chunk
		}
		if res.Entailment >= entailmentThreshold {
			sawEntailment = true
			bestVerdict = VerdictSupported
			bestChunk = chunk
		}
	}

	if sawEntailment {
		return bestVerdict, bestChunk
	}
	return VerdictUnverified, ""
}

func (g *HallucinationGuard) classifyCached(ctx context.Context, verifier NLIVerifier, claim, chunk string) NLIResult {
	key := cacheKey(claim, chunk)
	if res, ok := g.cache.Get(key); ok {
		return res
	}
	res, err := verifier.Classify(ctx, claim, chunk)
	if err != nil {
		// A classification failure is treated as neutral: the claim
		// stays unverified on this chunk rather than poisoning the
		// verdict with a zero-value false contradiction.
		res = NLIResult{Neutral: 1}
	}
	g.cache.Add(key, res)
	return res
}

// cacheKey follows embed.CachedEmbedder's SHA-256 cache-key pattern:
// fixed-length keys regardless of claim/chunk length.
func cacheKey(claim, chunk string) string {
	h := sha256.Sum256([]byte(claim + "\x00" + chunk))
	return hex.EncodeToString(h[:])
}

// prune keeps at most k chunks, in order, matching the spec's
// "pruned top-M subset for performance" allowance. The caller already
// ranked passages by retrieval score, so this is a prefix, not a
// resort.
func prune(chunks []string, k int) []string {
	if k <= 0 || k >= len(chunks) {
		return chunks
	}
	return chunks[:k]
}

// safeRewrite builds the response shown to the caller when the guard
// determines the answer is unsafe. It never restates the flagged claim
// text verbatim, only the count, so a contradicted claim can't leak
// back out through the rewrite.
func safeRewrite(flagged []string) string {
	if len(flagged) == 0 {
		return SafeRewritePhrase
	}
	return fmt.Sprintf("%s (%d statement(s) could not be verified against the retrieved context.)", SafeRewritePhrase, len(flagged))
}

// SafeRewritePhrase is the safe-rewrite text used whenever the guard
// withholds the model's original answer.
const SafeRewritePhrase = "I can't confirm this answer is fully supported by the retrieved context, so I'm withholding it rather than risk stating something inaccurate."
