package query

import (
	"context"
	"strings"
	"time"

	"github.com/Aman-CERP/hybridrag3/internal/config"
	hyerr "github.com/Aman-CERP/hybridrag3/internal/errors"
	"github.com/Aman-CERP/hybridrag3/internal/llm"
	"github.com/Aman-CERP/hybridrag3/internal/search"
)

// Engine implements the end-to-end answer(question) -> QueryResult flow
// (spec §4.9). Every exit path returns a populated QueryResult; no error
// is ever propagated to the caller.
type Engine struct {
	embedder  Embedder
	retriever Retriever
	router    Router
	guard     Guard // nil disables the hallucination guard entirely
	costLog   CostRecorder
	cfg       *config.Config
}

// New constructs an Engine. guard and costLog may be nil: a nil guard
// disables hallucination checking regardless of cfg.Guard.Enabled, a nil
// costLog makes cost recording a no-op.
func New(embedder Embedder, retriever Retriever, router Router, guard Guard, costLog CostRecorder, cfg *config.Config) *Engine {
	return &Engine{
		embedder:  embedder,
		retriever: retriever,
		router:    router,
		guard:     guard,
		costLog:   costLog,
		cfg:       cfg,
	}
}

// Answer runs the full pipeline for one question.
func (e *Engine) Answer(ctx context.Context, question string) QueryResult {
	start := time.Now()

	if strings.TrimSpace(question) == "" {
		return QueryResult{Error: hyerr.New(hyerr.ErrCodeQueryEmpty, "question must not be empty", nil)}
	}

	queryVector, err := e.embedder.Embed(ctx, question)
	if err != nil {
		return QueryResult{Error: asHyerr(err), LatencyMS: time.Since(start).Milliseconds()}
	}

	hits, err := e.retriever.Search(ctx, queryVector, search.SearchOptions{
		Query:        question,
		TopK:         e.cfg.Retrieval.TopK,
		MinScore:     e.cfg.Retrieval.MinScore,
		Mode:         retrievalMode(e.cfg),
		RRFK:         e.cfg.Retrieval.RRFK,
		RerankerTopN: e.cfg.Retrieval.RerankerTopN,
	})
	if err != nil {
		return QueryResult{Error: asHyerr(err), LatencyMS: time.Since(start).Milliseconds()}
	}

	sources := toSources(hits)

	// Zero chunks above min_score: a structured "no relevant documents"
	// result, no LLM call (spec §4.9 step 3).
	if len(hits) == 0 {
		return QueryResult{
			AnswerText: RefusalPhrase,
			Sources:    sources,
			IsSafe:     true,
			LatencyMS:  time.Since(start).Milliseconds(),
		}
	}

	mode := llmModeFor(e.cfg)
	prompt := BuildPrompt(question, hits)

	resp, err := e.router.Call(ctx, mode, llm.Request{
		Prompt:        prompt,
		Model:         modelFor(e.cfg, mode),
		Temperature:   e.cfg.RemoteAPI.Temperature,
		MaxTokens:     e.cfg.RemoteAPI.MaxTokens,
		ContextWindow: e.cfg.LocalBackend.ContextWindow,
	})
	if err != nil {
		// Timeout or any other router failure: retrieval succeeded, so the
		// caller gets the sources back alongside the error flag rather than
		// an ambiguous partial success (spec §4.9 step 5, §5 cancellation
		// semantics).
		return QueryResult{
			Sources:   sources,
			Error:     asHyerr(err),
			LatencyMS: time.Since(start).Milliseconds(),
		}
	}

	answerText := resp.AnswerText
	isSafe := true

	if e.guard != nil && e.cfg.Guard.Enabled && e.cfg.Security.Mode == config.ModeOnline {
		passages := make([]string, len(hits))
		for i, h := range hits {
			passages[i] = h.Chunk.Text
		}
		if rewritten, safe, gerr := e.guard.Apply(ctx, question, answerText, passages); gerr == nil {
			answerText = rewritten
			isSafe = safe
		}
		// A guard failure is not fatal to the query: the ungated answer is
		// returned as-is rather than discarding a successful LLM call.
	}

	if e.costLog != nil {
		rec := EstimateCost(e.cfg.Cost, resp.TokensIn, resp.TokensOut)
		_ = e.costLog.Record(ctx, rec)
	}

	return QueryResult{
		AnswerText: answerText,
		Sources:    sources,
		TokensIn:   resp.TokensIn,
		TokensOut:  resp.TokensOut,
		LatencyMS:  time.Since(start).Milliseconds(),
		IsSafe:     isSafe,
	}
}

func retrievalMode(cfg *config.Config) search.Mode {
	if !cfg.Retrieval.HybridSearch {
		return search.ModeVectorOnly
	}
	return search.ModeHybrid
}

func llmModeFor(cfg *config.Config) llm.Mode {
	if cfg.Security.Mode == config.ModeOffline {
		return llm.ModeLocal
	}
	return llm.ModeRemote
}

func modelFor(cfg *config.Config, mode llm.Mode) string {
	if mode == llm.ModeLocal {
		return cfg.LocalBackend.Model
	}
	return cfg.RemoteAPI.Model
}

func toSources(hits []search.Hit) []Source {
	sources := make([]Source, len(hits))
	for i, h := range hits {
		sources[i] = Source{ChunkID: h.Chunk.ID, Path: h.Chunk.Source, Score: h.Score}
	}
	return sources
}

// asHyerr normalizes any error into *hyerr.Error so QueryResult.Error is
// always the structured type, never a raw error value.
func asHyerr(err error) *hyerr.Error {
	if he, ok := err.(*hyerr.Error); ok {
		return he
	}
	return hyerr.InternalError(err.Error(), err)
}
