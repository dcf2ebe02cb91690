package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	hyerr "github.com/Aman-CERP/hybridrag3/internal/errors"
	"github.com/Aman-CERP/hybridrag3/internal/netgate"
)

// DefaultRemoteTimeout is the default timeout for the remote backend.
const DefaultRemoteTimeout = 30 * time.Second

// bannedDeployments is the hard-coded exclusion set auto-selection never
// picks, regardless of what the endpoint reports as available — retired
// or deprecated deployments the pack's remote endpoints kept listing long
// after they stopped serving traffic.
var bannedDeployments = map[string]bool{
	"gpt-4-32k":      true,
	"text-davinci-003": true,
	"code-davinci-002": true,
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatCompletionChoice struct {
	Message chatMessage `json:"message"`
}

type chatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type chatCompletionResponse struct {
	Choices []chatCompletionChoice `json:"choices"`
	Usage   chatCompletionUsage    `json:"usage"`
}

type deploymentsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// RemoteBackend posts to an authenticated chat-completions-shaped endpoint.
// Deployment listings are discovered once and cached for the backend's
// lifetime, per spec §4.8.
type RemoteBackend struct {
	client              *http.Client
	gate                *netgate.Gate
	baseURL             string
	chatCompletionsPath string
	apiKey              string
	model               string
	priority            []string
	timeout             time.Duration

	deploymentsOnce sync.Once
	deploymentsErr  error
	deployments     []string
}

// NewRemoteBackend constructs a RemoteBackend. timeout defaults to
// DefaultRemoteTimeout if zero. priority is the auto-selection priority
// list (spec: "configured priority list"); entries in bannedDeployments
// are skipped regardless of position.
func NewRemoteBackend(gate *netgate.Gate, baseURL, chatCompletionsPath, apiKey, model string, priority []string, timeout time.Duration) *RemoteBackend {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	return &RemoteBackend{
		client:              &http.Client{},
		gate:                gate,
		baseURL:             strings.TrimRight(baseURL, "/"),
		chatCompletionsPath: chatCompletionsPath,
		apiKey:              apiKey,
		model:               model,
		priority:            priority,
		timeout:             timeout,
	}
}

func (b *RemoteBackend) Name() string { return "remote" }

func (b *RemoteBackend) Call(ctx context.Context, req Request) (Response, error) {
	url, err := b.completionsURL()
	if err != nil {
		return Response{}, err
	}

	if err := b.gate.CheckAllowed(url, "llm_chat_completion", "llm.RemoteBackend"); err != nil {
		return Response{}, err
	}

	model := req.Model
	if model == "" {
		model = b.model
	}
	if req.Deployment != "" {
		model = req.Deployment
	}

	body, err := json.Marshal(chatCompletionRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return Response{}, hyerr.InternalError("marshaling remote backend request", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, hyerr.InternalError("building remote backend request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)

	start := time.Now()
	resp, err := b.client.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		if callCtx.Err() != nil {
			return Response{}, hyerr.TimedOut("remote backend request timed out", err)
		}
		return Response{}, hyerr.New(hyerr.ErrCodeNetworkBlocked, "remote backend request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, hyerr.InvalidResponse("reading remote backend response body", err)
	}

	if err := mapRemoteStatusError(resp.StatusCode, respBody); err != nil {
		return Response{}, err
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Response{}, hyerr.InvalidResponse("decoding remote backend response", err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return Response{}, hyerr.InvalidResponse("remote backend returned no choices", nil)
	}

	return Response{
		AnswerText: parsed.Choices[0].Message.Content,
		TokensIn:   parsed.Usage.PromptTokens,
		TokensOut:  parsed.Usage.CompletionTokens,
		LatencyMS:  elapsed.Milliseconds(),
	}, nil
}

// mapRemoteStatusError maps an HTTP status onto the shared error taxonomy
// per spec §4.8 step 5: auth rejection, rate-limit hints, or a generic
// invalid-response fallback.
func mapRemoteStatusError(status int, body []byte) error {
	if status == http.StatusOK {
		return nil
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return hyerr.AuthRejected(fmt.Sprintf("remote backend rejected credentials (status %d)", status), nil)
	case http.StatusTooManyRequests:
		return hyerr.RateLimited(fmt.Sprintf("remote backend rate-limited the request (status %d)", status), nil)
	default:
		return hyerr.InvalidResponse(fmt.Sprintf("remote backend returned status %d: %s", status, string(body)), nil)
	}
}

// completionsURL composes the chat-completions URL, guarding against a
// double version-path append (spec §6.2): if the configured path already
// supplies its own version segment and the base URL independently ends in
// one too (e.g. both end in "/v1"), collapse the duplicate.
func (b *RemoteBackend) completionsURL() (string, error) {
	base := b.baseURL
	path := normalizePath(b.chatCompletionsPath)

	baseHasVersion := hasVersionSuffix(base)
	pathHasVersion := hasVersionPrefix(path)

	if baseHasVersion && pathHasVersion {
		path = stripVersionPrefix(path)
	}

	url := base + path
	if strings.Contains(strings.TrimPrefix(url, base), "/v1/v1/") {
		return "", hyerr.New(hyerr.ErrCodeInvalidURL, fmt.Sprintf("composed URL %q double-appends a version path segment", url), nil)
	}
	return url, nil
}

func hasVersionSuffix(base string) bool {
	trimmed := strings.TrimRight(base, "/")
	for _, seg := range []string{"/v1", "/v2", "/v3"} {
		if strings.HasSuffix(trimmed, seg) {
			return true
		}
	}
	return false
}

func hasVersionPrefix(path string) bool {
	for _, seg := range []string{"/v1/", "/v2/", "/v3/"} {
		if strings.HasPrefix(path, seg) {
			return true
		}
	}
	return false
}

func stripVersionPrefix(path string) string {
	for _, seg := range []string{"/v1", "/v2", "/v3"} {
		if strings.HasPrefix(path, seg) {
			return strings.TrimPrefix(path, seg)
		}
	}
	return path
}

// Deployments lists available deployments, caching the result for the
// backend's process lifetime (spec §4.8). The supplied lister performs the
// actual HTTP call; passing nil falls back to the default
// listDeploymentsHTTP implementation.
func (b *RemoteBackend) Deployments(ctx context.Context, lister func(context.Context) ([]string, error)) ([]string, error) {
	b.deploymentsOnce.Do(func() {
		if lister == nil {
			lister = b.listDeploymentsHTTP
		}
		b.deployments, b.deploymentsErr = lister(ctx)
	})
	return b.deployments, b.deploymentsErr
}

func (b *RemoteBackend) listDeploymentsHTTP(ctx context.Context) ([]string, error) {
	url := b.baseURL + "/v1/models"
	if err := b.gate.CheckAllowed(url, "llm_list_deployments", "llm.RemoteBackend"); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, hyerr.InternalError("building deployment list request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, hyerr.New(hyerr.ErrCodeNetworkBlocked, "listing deployments failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, hyerr.InvalidResponse("reading deployment list response", err)
	}
	if err := mapRemoteStatusError(resp.StatusCode, body); err != nil {
		return nil, err
	}

	var parsed deploymentsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, hyerr.InvalidResponse("decoding deployment list response", err)
	}

	ids := make([]string, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// SelectDeployment picks the highest-priority available deployment not in
// bannedDeployments. Returns "" if none of the priority list is available.
func SelectDeployment(available, priority []string) string {
	availableSet := make(map[string]bool, len(available))
	for _, a := range available {
		availableSet[a] = true
	}
	for _, p := range priority {
		if bannedDeployments[p] {
			continue
		}
		if availableSet[p] {
			return p
		}
	}
	return ""
}
