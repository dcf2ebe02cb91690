package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hyerr "github.com/Aman-CERP/hybridrag3/internal/errors"
)

func TestRemoteBackend_Call_ReturnsParsedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(chatCompletionResponse{
			Choices: []chatCompletionChoice{{Message: chatMessage{Role: "assistant", Content: "answer text"}}},
			Usage:   chatCompletionUsage{PromptTokens: 10, CompletionTokens: 4},
		})
	}))
	defer srv.Close()

	b := NewRemoteBackend(newOpenGate(), srv.URL, "/v1/chat/completions", "secret-key", "gpt-4o", nil, 5*time.Second)
	resp, err := b.Call(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "answer text", resp.AnswerText)
	assert.Equal(t, 10, resp.TokensIn)
	assert.Equal(t, 4, resp.TokensOut)
}

func TestRemoteBackend_Call_401MapsToAuthRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	b := NewRemoteBackend(newOpenGate(), srv.URL, "/v1/chat/completions", "bad-key", "gpt-4o", nil, 5*time.Second)
	_, err := b.Call(context.Background(), Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, hyerr.ErrCodeAuthRejected, hyerr.Code(err))
	assert.False(t, hyerr.IsRetryable(err))
}

func TestRemoteBackend_Call_429MapsToRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	b := NewRemoteBackend(newOpenGate(), srv.URL, "/v1/chat/completions", "key", "gpt-4o", nil, 5*time.Second)
	_, err := b.Call(context.Background(), Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, hyerr.ErrCodeRateLimited, hyerr.Code(err))
	assert.True(t, hyerr.IsRetryable(err))
}

func TestRemoteBackend_CompletionsURL_CollapsesDoubleVersionSegment(t *testing.T) {
	b := NewRemoteBackend(newOpenGate(), "https://api.example.com/v1", "/v1/chat/completions", "key", "gpt-4o", nil, 5*time.Second)
	url, err := b.completionsURL()
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1/chat/completions", url)
}

func TestRemoteBackend_CompletionsURL_KeepsSingleVersionSegment(t *testing.T) {
	b := NewRemoteBackend(newOpenGate(), "https://api.example.com", "/v1/chat/completions", "key", "gpt-4o", nil, 5*time.Second)
	url, err := b.completionsURL()
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1/chat/completions", url)
}

func TestSelectDeployment_SkipsBannedAndPicksHighestPriority(t *testing.T) {
	available := []string{"gpt-4-32k", "gpt-4o-mini", "gpt-4o"}
	priority := []string{"gpt-4o", "gpt-4o-mini"}
	assert.Equal(t, "gpt-4o", SelectDeployment(available, priority))
}

func TestSelectDeployment_FallsBackWhenFirstChoiceUnavailable(t *testing.T) {
	available := []string{"gpt-4o-mini"}
	priority := []string{"gpt-4o", "gpt-4o-mini"}
	assert.Equal(t, "gpt-4o-mini", SelectDeployment(available, priority))
}

func TestSelectDeployment_ReturnsEmptyWhenNothingAvailable(t *testing.T) {
	assert.Equal(t, "", SelectDeployment([]string{"other"}, []string{"gpt-4o"}))
}

func TestRemoteBackend_Deployments_CachesAfterFirstCall(t *testing.T) {
	calls := 0
	b := NewRemoteBackend(newOpenGate(), "https://api.example.com", "/v1/chat/completions", "key", "gpt-4o", nil, 5*time.Second)

	lister := func(ctx context.Context) ([]string, error) {
		calls++
		return []string{"gpt-4o"}, nil
	}

	first, err := b.Deployments(context.Background(), lister)
	require.NoError(t, err)
	second, err := b.Deployments(context.Background(), lister)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}
