package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Aman-CERP/hybridrag3/internal/boot"
	"github.com/Aman-CERP/hybridrag3/internal/config"
	"github.com/Aman-CERP/hybridrag3/internal/credential"
	"github.com/Aman-CERP/hybridrag3/internal/embed"
	"github.com/Aman-CERP/hybridrag3/internal/guard"
	"github.com/Aman-CERP/hybridrag3/internal/lifecycle"
	"github.com/Aman-CERP/hybridrag3/internal/llm"
	"github.com/Aman-CERP/hybridrag3/internal/netgate"
	"github.com/Aman-CERP/hybridrag3/internal/query"
	"github.com/Aman-CERP/hybridrag3/internal/search"
	"github.com/Aman-CERP/hybridrag3/internal/store"
)

// engine bundles every component a command needs to run the retrieval
// pipeline, plus the boot result that produced it.
type engine struct {
	cfg    *config.Config
	gate   *netgate.Gate
	boot   boot.BootResult
	store  *store.Store
	embed  embed.Embedder
	router *llm.Router
	qe     *query.Engine
}

// buildEngine runs the boot pipeline and, if offline availability was
// achieved, wires the VectorStore, embedder, LLM router, and query engine
// around it. Callers that only need boot.BootResult (status, diag) can
// ignore the rest of the struct.
func buildEngine(ctx context.Context) (*engine, error) {
	gate := netgate.New(nil)
	pipeline := boot.New(configPath, credDir, gate)
	result, cfg := pipeline.Run(ctx)

	e := &engine{gate: gate, boot: result, cfg: cfg}
	if cfg == nil {
		return e, fmt.Errorf("configuration failed to load: %v", result.Errors)
	}
	if !result.OfflineAvailable {
		return e, nil
	}

	st, err := store.Open(cfg.Paths.DatabaseFile, cfg.Embedding.Dimension)
	if err != nil {
		return e, fmt.Errorf("opening vector store: %w", err)
	}
	e.store = st

	embedder, err := embed.NewEmbedder(ctx, embed.ProviderOllama, cfg.Embedding.ModelName, gate)
	if err != nil {
		// Ollama unreachable: ask an interactive user whether to fall back to
		// offline BM25-only embeddings rather than silently downgrading
		// (internal/lifecycle's install/fallback prompt, os.Stdin is a TTY
		// only when attached to one).
		if lifecycle.IsTTY() {
			choice, perr := lifecycle.PromptNoEmbedder(os.Stdout, os.Stdin)
			if perr == nil && choice == lifecycle.ChoiceShowInstall {
				lifecycle.ShowInstallInstructions(os.Stdout)
			}
		}
		embedder = embed.NewStaticEmbedder768()
	}
	e.embed = embed.NewCachedEmbedderWithDefaults(embedder)

	local := llm.NewLocalBackend(gate, cfg.LocalBackend.BaseURL, cfg.LocalBackend.GenerateEndpoint,
		cfg.LocalBackend.Model, time.Duration(cfg.LocalBackend.TimeoutSeconds)*time.Second)
	var remote *llm.RemoteBackend
	if result.OnlineAvailable {
		apiKey := ""
		if resolver, rerr := credential.New(&cfg.RemoteAPI, credDir); rerr == nil {
			if bundle, _, berr := resolver.Resolve(); berr == nil {
				apiKey = bundle.APIKey
			}
		}
		remote = llm.NewRemoteBackend(gate, cfg.RemoteAPI.Endpoint, cfg.RemoteAPI.ChatCompletionsPath,
			apiKey, cfg.RemoteAPI.Model, cfg.RemoteAPI.DeploymentPriority,
			time.Duration(cfg.RemoteAPI.TimeoutSeconds)*time.Second)
	}
	router := llm.New(local, remote, cfg.RemoteAPI.MaxRetries, cfg.RemoteAPI.DeploymentPriority)
	e.router = router

	retriever := search.New(st)

	var g query.Guard
	if cfg.Guard.Enabled {
		g = guard.New(cfg.Guard, func() (guard.NLIVerifier, error) {
			return guard.NewModelVerifier(router, cfg.LocalBackend.Model), nil
		})
	}

	var costLog query.CostRecorder
	if fcl, cerr := query.NewFileCostLog(cfg.Cost); cerr == nil {
		costLog = fcl
	}

	e.qe = query.New(e.embed, retriever, router, g, costLog, cfg)
	return e, nil
}

func (e *engine) Close() {
	if e.store != nil {
		_ = e.store.Close()
	}
}
