// Package query implements the end-to-end answer(question) -> QueryResult
// flow: embed, retrieve, assemble the prompt contract, call the LLM
// router, and run the result through the hallucination guard. No exit
// path propagates a raw error to the caller.
package query

import (
	"context"

	hyerr "github.com/Aman-CERP/hybridrag3/internal/errors"
	"github.com/Aman-CERP/hybridrag3/internal/llm"
	"github.com/Aman-CERP/hybridrag3/internal/search"
)

// Source is a single retrieved chunk cited in a QueryResult.
type Source struct {
	ChunkID string
	Path    string
	Score   float64
}

// QueryResult is the sole return type of Engine.Answer. Every exit path
// populates one, even on failure — callers never receive a raw error.
type QueryResult struct {
	AnswerText string
	Sources    []Source
	TokensIn   int
	TokensOut  int
	LatencyMS  int64
	IsSafe     bool
	Error      *hyerr.Error
}

// Retriever is the subset of search.Retriever's surface Engine depends on.
type Retriever interface {
	Search(ctx context.Context, queryVector []float32, opts search.SearchOptions) ([]search.Hit, error)
}

// Router is the subset of llm.Router's surface Engine depends on.
type Router interface {
	Call(ctx context.Context, mode llm.Mode, req llm.Request) (llm.Response, error)
}

// Embedder is the subset of embed.Embedder's surface Engine depends on.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Guard is implemented by internal/guard's HallucinationGuard. Defined here
// (rather than imported) so internal/query has no import-time dependency
// on internal/guard; BootPipeline wires the concrete implementation in.
type Guard interface {
	// Apply verifies answerText against the supplied source passages and
	// returns a possibly-rewritten answer plus the safety determination.
	// The rewrite and the isSafe bool must always agree: the guard's own
	// invariant, not renegotiated here.
	Apply(ctx context.Context, question, answerText string, passages []string) (rewritten string, isSafe bool, err error)
}

// CostRecorder receives one cost-estimate record per answered query.
type CostRecorder interface {
	Record(ctx context.Context, rec CostRecord) error
}
