package llm

import (
	"context"

	"github.com/cenkalti/backoff/v5"

	hyerr "github.com/Aman-CERP/hybridrag3/internal/errors"
)

// Router picks a Backend by Mode and retries retriable failures with
// exponential backoff and jitter, per spec §4.8.
type Router struct {
	local      Backend
	remote     Backend
	remoteCfg  *RemoteBackend // nil if Router has no remote backend configured
	maxRetries uint
	priority   []string
}

// New constructs a Router. remote may be nil if only local inference is
// configured; Call returns a config error if ModeRemote is requested with
// no remote backend.
func New(local Backend, remote *RemoteBackend, maxRetries int, priority []string) *Router {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	r := &Router{
		local:      local,
		maxRetries: uint(maxRetries),
		priority:   priority,
	}
	if remote != nil {
		r.remote = remote
		r.remoteCfg = remote
	}
	return r
}

// Call issues req against the backend selected by mode, retrying
// TimedOut/RateLimited failures with exponential backoff and jitter up to
// MaxRetries times. AuthRejected and InvalidResponse are never retried.
// RetryCount in the returned Response reflects how many retries occurred.
func (r *Router) Call(ctx context.Context, mode Mode, req Request) (Response, error) {
	backend, err := r.backendFor(mode)
	if err != nil {
		return Response{}, err
	}

	if mode == ModeRemote && req.Deployment == "" && r.remoteCfg != nil && len(r.priority) > 0 {
		if deployments, derr := r.remoteCfg.Deployments(ctx, nil); derr == nil {
			if picked := SelectDeployment(deployments, r.priority); picked != "" {
				req.Deployment = picked
			}
		}
		// Deployment discovery failing is not fatal: the call proceeds
		// with the configured default model/deployment instead.
	}

	retries := 0
	op := func() (Response, error) {
		resp, callErr := backend.Call(ctx, req)
		if callErr == nil {
			return resp, nil
		}
		if !hyerr.IsRetryable(callErr) {
			return Response{}, backoff.Permanent(callErr)
		}
		retries++
		return Response{}, callErr
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(r.maxRetries+1),
	)
	if err != nil {
		return Response{}, err
	}

	resp.RetryCount = retries
	return resp, nil
}

func (r *Router) backendFor(mode Mode) (Backend, error) {
	switch mode {
	case ModeLocal:
		if r.local == nil {
			return nil, hyerr.ConfigError("local backend requested but not configured", nil)
		}
		return r.local, nil
	case ModeRemote:
		if r.remote == nil {
			return nil, hyerr.ConfigError("remote backend requested but not configured", nil)
		}
		return r.remote, nil
	default:
		return nil, hyerr.ValidationError("unknown llm mode", nil)
	}
}
