package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hyerr "github.com/Aman-CERP/hybridrag3/internal/errors"
)

type fakeBackend struct {
	name      string
	responses []Response
	errs      []error
	calls     int
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Call(ctx context.Context, req Request) (Response, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return Response{}, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return f.responses[len(f.responses)-1], nil
}

func TestRouter_Call_ReturnsLocalBackendResponse(t *testing.T) {
	local := &fakeBackend{name: "local", responses: []Response{{AnswerText: "ok"}}}
	r := New(local, nil, 3, nil)

	resp, err := r.Call(context.Background(), ModeLocal, Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.AnswerText)
	assert.Equal(t, 0, resp.RetryCount)
}

func TestRouter_Call_RetriesTimedOutThenSucceeds(t *testing.T) {
	local := &fakeBackend{
		name: "local",
		errs: []error{hyerr.TimedOut("slow", nil), nil},
		responses: []Response{{}, {AnswerText: "recovered"}},
	}
	r := New(local, nil, 3, nil)

	resp, err := r.Call(context.Background(), ModeLocal, Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.AnswerText)
	assert.Equal(t, 2, local.calls)
}

func TestRouter_Call_DoesNotRetryAuthRejected(t *testing.T) {
	local := &fakeBackend{
		name: "local",
		errs: []error{hyerr.AuthRejected("bad key", nil)},
	}
	r := New(local, nil, 3, nil)

	_, err := r.Call(context.Background(), ModeLocal, Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, 1, local.calls)
}

func TestRouter_Call_UnconfiguredRemoteReturnsConfigError(t *testing.T) {
	local := &fakeBackend{name: "local", responses: []Response{{AnswerText: "ok"}}}
	r := New(local, nil, 3, nil)

	_, err := r.Call(context.Background(), ModeRemote, Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, hyerr.ErrCodeConfigInvalid, hyerr.Code(err))
}

func TestRouter_Call_GivesUpAfterMaxRetries(t *testing.T) {
	local := &fakeBackend{
		name: "local",
		errs: []error{
			hyerr.TimedOut("slow", nil),
			hyerr.TimedOut("slow", nil),
			hyerr.TimedOut("slow", nil),
			hyerr.TimedOut("slow", nil),
		},
	}
	r := New(local, nil, 2, nil)

	_, err := r.Call(context.Background(), ModeLocal, Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, 3, local.calls) // initial attempt + 2 retries
}
