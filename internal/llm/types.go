// Package llm routes a prompt to a local or remote backend, mapping
// backend-specific failures onto the shared error taxonomy and retrying
// the retriable ones with exponential backoff.
package llm

import "context"

// Mode selects which backend a Request is routed to.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// Request is a single completion request, backend-agnostic.
type Request struct {
	Prompt        string
	Model         string
	Temperature   float64
	MaxTokens     int
	ContextWindow int

	// Deployment optionally pins the remote backend to a specific
	// deployment name, bypassing auto-selection. Ignored by the local
	// backend.
	Deployment string
}

// Response is a single completion result, backend-agnostic.
type Response struct {
	AnswerText string
	TokensIn   int
	TokensOut  int
	LatencyMS  int64

	// RetryCount is the number of retries the Router performed before
	// this response was returned, for caller observability.
	RetryCount int
}

// Backend issues one completion call against a specific inference target.
type Backend interface {
	Call(ctx context.Context, req Request) (Response, error)
	Name() string
}
