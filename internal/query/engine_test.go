package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/hybridrag3/internal/config"
	hyerr "github.com/Aman-CERP/hybridrag3/internal/errors"
	"github.com/Aman-CERP/hybridrag3/internal/llm"
	"github.com/Aman-CERP/hybridrag3/internal/search"
	"github.com/Aman-CERP/hybridrag3/internal/store"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}

type fakeRetriever struct {
	hits []search.Hit
	err  error
}

func (f *fakeRetriever) Search(ctx context.Context, queryVector []float32, opts search.SearchOptions) ([]search.Hit, error) {
	return f.hits, f.err
}

type fakeRouter struct {
	resp llm.Response
	err  error
}

func (f *fakeRouter) Call(ctx context.Context, mode llm.Mode, req llm.Request) (llm.Response, error) {
	return f.resp, f.err
}

type fakeGuard struct {
	rewritten string
	isSafe    bool
	err       error
	called    bool
}

func (f *fakeGuard) Apply(ctx context.Context, question, answerText string, passages []string) (string, bool, error) {
	f.called = true
	if f.err != nil {
		return "", false, f.err
	}
	return f.rewritten, f.isSafe, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Security.Mode = config.ModeOffline
	return cfg
}

func sampleHit(id string) search.Hit {
	return search.Hit{
		Chunk: &store.ChunkRecord{ID: id, Source: "a.md", Text: "some supporting passage text"},
		Score: 0.9,
	}
}

func TestEngine_Answer_EmptyQuestionReturnsQueryEmptyError(t *testing.T) {
	e := New(&fakeEmbedder{}, &fakeRetriever{}, &fakeRouter{}, nil, nil, testConfig())
	result := e.Answer(context.Background(), "   ")
	require.NotNil(t, result.Error)
	assert.Equal(t, hyerr.ErrCodeQueryEmpty, result.Error.Code)
}

func TestEngine_Answer_ZeroHitsReturnsRefusalWithoutCallingRouter(t *testing.T) {
	router := &fakeRouter{resp: llm.Response{AnswerText: "should not be used"}}
	e := New(&fakeEmbedder{vec: []float32{0.1}}, &fakeRetriever{hits: nil}, router, nil, nil, testConfig())

	result := e.Answer(context.Background(), "what is the capital of nowhere?")
	require.Nil(t, result.Error)
	assert.Equal(t, RefusalPhrase, result.AnswerText)
	assert.True(t, result.IsSafe)
	assert.Empty(t, result.Sources)
}

func TestEngine_Answer_HappyPathReturnsAnswerAndSources(t *testing.T) {
	retriever := &fakeRetriever{hits: []search.Hit{sampleHit("a.md#0")}}
	router := &fakeRouter{resp: llm.Response{AnswerText: "the answer", TokensIn: 10, TokensOut: 5}}
	e := New(&fakeEmbedder{vec: []float32{0.1}}, retriever, router, nil, nil, testConfig())

	result := e.Answer(context.Background(), "a real question")
	require.Nil(t, result.Error)
	assert.Equal(t, "the answer", result.AnswerText)
	assert.Equal(t, 10, result.TokensIn)
	assert.Equal(t, 5, result.TokensOut)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, "a.md#0", result.Sources[0].ChunkID)
	assert.True(t, result.IsSafe)
}

func TestEngine_Answer_RouterErrorReturnsSourcesAndErrorFlag(t *testing.T) {
	retriever := &fakeRetriever{hits: []search.Hit{sampleHit("a.md#0")}}
	router := &fakeRouter{err: hyerr.TimedOut("slow", nil)}
	e := New(&fakeEmbedder{vec: []float32{0.1}}, retriever, router, nil, nil, testConfig())

	result := e.Answer(context.Background(), "a real question")
	require.NotNil(t, result.Error)
	assert.Equal(t, hyerr.ErrCodeTimedOut, result.Error.Code)
	require.Len(t, result.Sources, 1)
	assert.Empty(t, result.AnswerText)
}

func TestEngine_Answer_GuardAppliedOnlyWhenEnabledAndOnline(t *testing.T) {
	retriever := &fakeRetriever{hits: []search.Hit{sampleHit("a.md#0")}}
	router := &fakeRouter{resp: llm.Response{AnswerText: "raw answer"}}
	guard := &fakeGuard{rewritten: "safe rewrite", isSafe: false}

	cfg := testConfig()
	cfg.Security.Mode = config.ModeOnline
	cfg.Guard.Enabled = true

	e := New(&fakeEmbedder{vec: []float32{0.1}}, retriever, router, guard, nil, cfg)
	result := e.Answer(context.Background(), "a real question")

	require.Nil(t, result.Error)
	assert.True(t, guard.called)
	assert.Equal(t, "safe rewrite", result.AnswerText)
	assert.False(t, result.IsSafe)
}

func TestEngine_Answer_GuardSkippedInOfflineMode(t *testing.T) {
	retriever := &fakeRetriever{hits: []search.Hit{sampleHit("a.md#0")}}
	router := &fakeRouter{resp: llm.Response{AnswerText: "raw answer"}}
	guard := &fakeGuard{rewritten: "safe rewrite", isSafe: false}

	cfg := testConfig()
	cfg.Guard.Enabled = true // offline mode still skips the guard per spec

	e := New(&fakeEmbedder{vec: []float32{0.1}}, retriever, router, guard, nil, cfg)
	result := e.Answer(context.Background(), "a real question")

	require.Nil(t, result.Error)
	assert.False(t, guard.called)
	assert.Equal(t, "raw answer", result.AnswerText)
	assert.True(t, result.IsSafe)
}

func TestEngine_Answer_EmbedderErrorIsWrapped(t *testing.T) {
	e := New(&fakeEmbedder{err: assertErr{}}, &fakeRetriever{}, &fakeRouter{}, nil, nil, testConfig())
	result := e.Answer(context.Background(), "a real question")
	require.NotNil(t, result.Error)
	assert.Equal(t, hyerr.ErrCodeInternal, result.Error.Code)
}

type assertErr struct{}

func (assertErr) Error() string { return "embedding backend unavailable" }
