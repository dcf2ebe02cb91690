package boot

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/Aman-CERP/hybridrag3/internal/config"
	"github.com/Aman-CERP/hybridrag3/internal/credential"
	"github.com/Aman-CERP/hybridrag3/internal/lifecycle"
	"github.com/Aman-CERP/hybridrag3/internal/llm"
	"github.com/Aman-CERP/hybridrag3/internal/netgate"
)

// Pipeline composes configuration loading, credential resolution, gate
// configuration, and backend probing into one BootResult.
type Pipeline struct {
	configPath string
	credDir    string
	gate       *netgate.Gate
}

// New constructs a Pipeline. gate is configured in place by Run so the
// caller can share the same *netgate.Gate instance with the rest of the
// engine.
func New(configPath, credDir string, gate *netgate.Gate) *Pipeline {
	return &Pipeline{
		configPath: configPath,
		credDir:    credDir,
		gate:       gate,
	}
}

// Run executes the full boot sequence. It never panics: every failure
// mode downgrades availability and is recorded in Warnings or Errors
// rather than aborting the sequence early, except a configuration file
// that fails to load or validate at all, which is the one genuinely
// fatal step.
func (p *Pipeline) Run(ctx context.Context) (BootResult, *config.Config) {
	result := BootResult{BootTimeUTC: time.Now().UTC().Format(time.RFC3339)}

	cfg, err := config.Load(p.configPath)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("configuration: %v", err))
		return result, nil
	}

	clearMalformedURL(&cfg.LocalBackend.BaseURL, "local_backend.base_url", &result)
	clearMalformedURL(&cfg.RemoteAPI.Endpoint, "remote_api.endpoint", &result)

	var bundle credential.Bundle
	haveCredentials := false
	if cfg.Security.Mode != config.ModeOffline {
		resolver, err := credential.New(&cfg.RemoteAPI, p.credDir, credential.WithWarnFunc(func(msg string) {
			result.Warnings = append(result.Warnings, msg)
		}))
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("credential store unavailable: %v", err))
		} else if b, _, rerr := resolver.Resolve(); rerr != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("no remote credential available: %v", rerr))
		} else {
			bundle = b
			haveCredentials = true
		}
	}

	onlineRequested := cfg.Security.Mode != config.ModeOffline
	onlineResolvable := onlineRequested && cfg.RemoteAPI.Endpoint != "" && haveCredentials

	if onlineRequested && !onlineResolvable {
		result.Warnings = append(result.Warnings, "online mode requested but no resolvable remote endpoint/credential; falling back to offline")
	}

	effectiveMode := netgate.ModeOffline
	var allowedEndpoints []string
	switch {
	case onlineResolvable && cfg.Security.Mode == config.ModeAdmin:
		effectiveMode = netgate.ModeAdmin
	case onlineResolvable:
		effectiveMode = netgate.ModeOnline
		allowedEndpoints = []string{cfg.RemoteAPI.Endpoint}
	}

	if p.gate != nil {
		if gerr := p.gate.Configure(effectiveMode, allowedEndpoints); gerr != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("network gate configuration: %v", gerr))
			return result, cfg
		}
	}

	result.OfflineAvailable = p.probeLocal(ctx, cfg.LocalBackend.BaseURL)
	if !result.OfflineAvailable {
		result.Warnings = append(result.Warnings, fmt.Sprintf("local inference server unreachable at %s", cfg.LocalBackend.BaseURL))
	}

	if onlineResolvable {
		// Constructing the client validates shape only; no live call is
		// made here (spec §4.11 step 6).
		remote := llm.NewRemoteBackend(p.gate, cfg.RemoteAPI.Endpoint, cfg.RemoteAPI.ChatCompletionsPath,
			bundle.APIKey, cfg.RemoteAPI.Model, cfg.RemoteAPI.DeploymentPriority,
			time.Duration(cfg.RemoteAPI.TimeoutSeconds)*time.Second)
		result.OnlineAvailable = remote != nil
	}

	// Design rule (spec §4.11): offline must always succeed if the local
	// backend is reachable, regardless of remote-API configuration.
	result.Success = result.OfflineAvailable || result.OnlineAvailable

	return result, cfg
}

// probeLocal delegates to lifecycle.OllamaManager's own readiness check
// (internal/lifecycle/ollama.go's IsRunning, an /api/tags GET that treats
// connection failure as "not running" rather than an error) instead of a
// hand-rolled GET, since the local backend this pipeline probes is Ollama.
func (p *Pipeline) probeLocal(_ context.Context, baseURL string) bool {
	if baseURL == "" {
		return false
	}
	running, err := lifecycle.NewOllamaManagerWithHost(baseURL).IsRunning()
	return err == nil && running
}

func clearMalformedURL(field *string, name string, result *BootResult) {
	if *field == "" {
		return
	}
	u, err := url.Parse(*field)
	if err != nil || u.Scheme == "" || u.Host == "" {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s is malformed (%q); cleared", name, *field))
		*field = ""
	}
}
