package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	hyerr "github.com/Aman-CERP/hybridrag3/internal/errors"
	"github.com/Aman-CERP/hybridrag3/internal/netgate"
)

// DefaultLocalTimeout is the default timeout for the local backend: CPU
// inference is slow, so this is far longer than the remote default.
const DefaultLocalTimeout = 300 * time.Second

type localGenerateRequest struct {
	Model         string  `json:"model"`
	Prompt        string  `json:"prompt"`
	Temperature   float64 `json:"temperature"`
	MaxTokens     int     `json:"max_tokens"`
	ContextWindow int     `json:"context_window"`
}

type localGenerateResponse struct {
	Text      string `json:"text"`
	TokensIn  int    `json:"tokens_in"`
	TokensOut int    `json:"tokens_out"`
}

// LocalBackend posts to a loopback inference server (e.g. Ollama running
// on localhost). Every call clears the NetworkGate first, though loopback
// hosts are always allowed regardless of gate mode.
type LocalBackend struct {
	client  *http.Client
	gate    *netgate.Gate
	baseURL string
	path    string
	model   string
	timeout time.Duration
}

// NewLocalBackend constructs a LocalBackend. timeout defaults to
// DefaultLocalTimeout if zero.
func NewLocalBackend(gate *netgate.Gate, baseURL, generateEndpoint, model string, timeout time.Duration) *LocalBackend {
	if timeout <= 0 {
		timeout = DefaultLocalTimeout
	}
	return &LocalBackend{
		client:  &http.Client{},
		gate:    gate,
		baseURL: strings.TrimRight(baseURL, "/"),
		path:    generateEndpoint,
		model:   model,
		timeout: timeout,
	}
}

func (b *LocalBackend) Name() string { return "local" }

func (b *LocalBackend) Call(ctx context.Context, req Request) (Response, error) {
	url := b.baseURL + normalizePath(b.path)

	if err := b.gate.CheckAllowed(url, "llm_generate", "llm.LocalBackend"); err != nil {
		return Response{}, err
	}

	model := req.Model
	if model == "" {
		model = b.model
	}

	body, err := json.Marshal(localGenerateRequest{
		Model:         model,
		Prompt:        req.Prompt,
		Temperature:   req.Temperature,
		MaxTokens:     req.MaxTokens,
		ContextWindow: req.ContextWindow,
	})
	if err != nil {
		return Response{}, hyerr.InternalError("marshaling local backend request", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, hyerr.InternalError("building local backend request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := b.client.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		if callCtx.Err() != nil {
			return Response{}, hyerr.TimedOut("local backend request timed out", err)
		}
		return Response{}, hyerr.New(hyerr.ErrCodeNetworkBlocked, "local backend request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, hyerr.InvalidResponse("reading local backend response body", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Response{}, hyerr.InvalidResponse(fmt.Sprintf("local backend returned status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var parsed localGenerateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Response{}, hyerr.InvalidResponse("decoding local backend response", err)
	}
	if strings.TrimSpace(parsed.Text) == "" {
		return Response{}, hyerr.InvalidResponse("local backend returned an empty response", nil)
	}

	return Response{
		AnswerText: parsed.Text,
		TokensIn:   parsed.TokensIn,
		TokensOut:  parsed.TokensOut,
		LatencyMS:  elapsed.Milliseconds(),
	}, nil
}

// normalizePath ensures path begins with a single leading slash.
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}
