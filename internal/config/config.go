// Package config loads and validates the HybridRAG3 configuration file.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	hyerr "github.com/Aman-CERP/hybridrag3/internal/errors"
)

// SecurityMode controls what the NetworkGate permits.
type SecurityMode string

const (
	ModeOffline SecurityMode = "offline"
	ModeOnline  SecurityMode = "online"
	ModeAdmin   SecurityMode = "admin"
)

// FailureAction controls what the HallucinationGuard does with an unsafe response.
type FailureAction string

const (
	FailureActionWarn  FailureAction = "warn"
	FailureActionBlock FailureAction = "block"
)

// Config is the complete HybridRAG3 configuration, matching spec §3.5 exactly.
type Config struct {
	Paths        PathsConfig        `yaml:"paths"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Chunking     ChunkingConfig     `yaml:"chunking"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	LocalBackend LocalBackendConfig `yaml:"local_backend"`
	RemoteAPI    RemoteAPIConfig    `yaml:"remote_api"`
	Security     SecurityConfig     `yaml:"security"`
	Guard        GuardConfig        `yaml:"guard"`
	Cost         CostConfig         `yaml:"cost"`
}

// PathsConfig locates the on-disk store files and the corpus to index.
type PathsConfig struct {
	DatabaseFile     string `yaml:"database_file"`
	VectorMatrixFile string `yaml:"vector_matrix_file"`
	VectorMetaFile   string `yaml:"vector_meta_file"`
	SourceFolder     string `yaml:"source_folder"`
}

// EmbeddingConfig configures the embedding provider.
// Dimension is auto-detected from the provider at boot and validated against
// whatever the VectorStore's sidecar already has on disk.
type EmbeddingConfig struct {
	ModelName string `yaml:"model_name"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
	Device    string `yaml:"device"`
}

// ChunkingConfig configures the sliding-window chunker.
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	Overlap      int `yaml:"overlap"`
	MaxHeadingLen int `yaml:"max_heading_len"`
}

// RetrievalConfig configures hybrid retrieval and fusion.
type RetrievalConfig struct {
	TopK            int     `yaml:"top_k"`
	MinScore        float64 `yaml:"min_score"`
	HybridSearch    bool    `yaml:"hybrid_search"`
	RRFK            int     `yaml:"rrf_k"`
	RerankerEnabled bool    `yaml:"reranker_enabled"`
	RerankerTopN    int     `yaml:"reranker_top_n"`
}

// LocalBackendConfig configures the loopback LLM backend (e.g. Ollama).
type LocalBackendConfig struct {
	BaseURL         string `yaml:"base_url"`
	Model           string `yaml:"model"`
	GenerateEndpoint string `yaml:"generate_endpoint"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	ContextWindow   int    `yaml:"context_window"`
}

// RemoteAPIConfig configures the authenticated remote LLM backend. APIKey is
// the lowest-priority credential source (CredentialResolver prefers the OS
// keyring, then environment variables, falling back to this field with a
// logged warning) and is never round-tripped through WriteYAML in masked
// form — it is written and read verbatim like any other config value, the
// masking happens only at the point credentials reach a log line.
type RemoteAPIConfig struct {
	Endpoint            string   `yaml:"endpoint"`
	Model               string   `yaml:"model"`
	Deployment          string   `yaml:"deployment"`
	DeploymentPriority  []string `yaml:"deployment_priority"`
	ChatCompletionsPath string   `yaml:"chat_completions_path"`
	APIVersion          string   `yaml:"api_version"`
	APIKey              string   `yaml:"api_key,omitempty"`
	MaxTokens           int      `yaml:"max_tokens"`
	Temperature         float64  `yaml:"temperature"`
	TimeoutSeconds      int      `yaml:"timeout_seconds"`
	MaxRetries          int      `yaml:"max_retries"`
}

// SecurityConfig configures the NetworkGate and the audit trail.
type SecurityConfig struct {
	Mode            SecurityMode `yaml:"mode"`
	AuditLogging    bool         `yaml:"audit_logging"`
	PIISanitization bool         `yaml:"pii_sanitization"`
}

// GuardConfig configures the hallucination guard.
type GuardConfig struct {
	Enabled               bool          `yaml:"enabled"`
	FaithfulnessThreshold float64       `yaml:"faithfulness_threshold"`
	FailureAction         FailureAction `yaml:"failure_action"`
	ChunkPruneK           int           `yaml:"chunk_prune_k"`
	ShortCircuitPassCount int           `yaml:"short_circuit_pass_count"`
	ShortCircuitFailCount int           `yaml:"short_circuit_fail_count"`
}

// CostConfig configures the per-1K-token rates used by QueryEngine's cost log.
type CostConfig struct {
	InputPer1KTokens  float64 `yaml:"input_per_1k_tokens"`
	OutputPer1KTokens float64 `yaml:"output_per_1k_tokens"`
	Currency          string  `yaml:"currency"`
	LogFile           string  `yaml:"log_file"`
}

// knownTopLevelKeys is used to reject unrecognized sections in the file.
var knownTopLevelKeys = map[string]bool{
	"paths":         true,
	"embedding":     true,
	"chunking":      true,
	"retrieval":     true,
	"local_backend": true,
	"remote_api":    true,
	"security":      true,
	"guard":         true,
	"cost":          true,
}

// Default returns a Config with sensible defaults for local, offline use.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			DatabaseFile:     ".hybridrag3/store.db",
			VectorMatrixFile: ".hybridrag3/vectors.f16",
			VectorMetaFile:   ".hybridrag3/vectors_meta.json",
			SourceFolder:     ".",
		},
		Embedding: EmbeddingConfig{
			ModelName: "nomic-embed-text",
			Dimension: 0, // auto-detected at boot
			BatchSize: 32,
			Device:    "cpu",
		},
		Chunking: ChunkingConfig{
			ChunkSize:     1200,
			Overlap:       200,
			MaxHeadingLen: 120,
		},
		Retrieval: RetrievalConfig{
			TopK:            8,
			MinScore:        0.0,
			HybridSearch:    true,
			RRFK:            60,
			RerankerEnabled: false,
			RerankerTopN:    0,
		},
		LocalBackend: LocalBackendConfig{
			BaseURL:          "http://localhost:11434",
			Model:            "qwen2.5:7b",
			GenerateEndpoint: "/api/generate",
			TimeoutSeconds:   300,
			ContextWindow:    8192,
		},
		RemoteAPI: RemoteAPIConfig{
			Endpoint:            "",
			Model:               "",
			Deployment:          "",
			DeploymentPriority:  []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo"},
			ChatCompletionsPath: "/v1/chat/completions",
			APIVersion:          "",
			MaxTokens:           1024,
			Temperature:         0.1,
			TimeoutSeconds:      30,
			MaxRetries:          3,
		},
		Security: SecurityConfig{
			Mode:            ModeOffline,
			AuditLogging:    true,
			PIISanitization: false,
		},
		Guard: GuardConfig{
			Enabled:               true,
			FaithfulnessThreshold: 0.7,
			FailureAction:         FailureActionWarn,
			ChunkPruneK:           5,
			ShortCircuitPassCount: 6,
			ShortCircuitFailCount: 2,
		},
		Cost: CostConfig{
			InputPer1KTokens:  0,
			OutputPer1KTokens: 0,
			Currency:          "USD",
			LogFile:           ".hybridrag3/cost.log",
		},
	}
}

// Load reads and validates the configuration file at path. Unknown top-level
// keys are rejected; environment variables override file values using the
// HYBRIDRAG3_ prefix, applied after the file as the highest-precedence tier.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			if verr := cfg.Validate(); verr != nil {
				return nil, verr
			}
			return cfg, nil
		}
		return nil, hyerr.New(hyerr.ErrCodeConfigNotFound, fmt.Sprintf("cannot read config file %s", path), err)
	}

	if err := rejectUnknownKeys(data); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, hyerr.New(hyerr.ErrCodeConfigInvalid, fmt.Sprintf("cannot parse config file %s", path), err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// rejectUnknownKeys decodes the document into a generic node tree and
// diffs its top-level mapping keys against knownTopLevelKeys.
func rejectUnknownKeys(data []byte) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return hyerr.New(hyerr.ErrCodeConfigInvalid, "cannot parse config document", err)
	}
	if len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i < len(root.Content); i += 2 {
		key := root.Content[i].Value
		if !knownTopLevelKeys[key] {
			return hyerr.New(hyerr.ErrCodeConfigUnknownKey, fmt.Sprintf("unknown configuration section %q", key), nil).
				WithDetail("key", key).
				WithSuggestion("remove the section or check for a typo against paths/embedding/chunking/retrieval/local_backend/remote_api/security/guard/cost")
		}
	}
	return nil
}

// applyEnvOverrides applies HYBRIDRAG3_* environment variable overrides,
// the highest-precedence tier.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("HYBRIDRAG3_SECURITY_MODE"); v != "" {
		c.Security.Mode = SecurityMode(v)
	}
	if v := os.Getenv("HYBRIDRAG3_LOCAL_BASE_URL"); v != "" {
		c.LocalBackend.BaseURL = v
	}
	if v := os.Getenv("HYBRIDRAG3_REMOTE_ENDPOINT"); v != "" {
		c.RemoteAPI.Endpoint = v
	}
	if v := os.Getenv("HYBRIDRAG3_EMBEDDING_MODEL"); v != "" {
		c.Embedding.ModelName = v
	}
	if v := os.Getenv("HYBRIDRAG3_GUARD_ENABLED"); v != "" {
		c.Guard.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("HYBRIDRAG3_GUARD_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Guard.FaithfulnessThreshold = f
		}
	}
}

// Validate checks every section per spec §3.5's invariants. It returns the
// first violation found, each time as a distinct *hyerr.Error so callers can
// act on the code rather than parse the message.
func (c *Config) Validate() error {
	if c.Paths.DatabaseFile == "" {
		return hyerr.ConfigError("paths.database_file must not be empty", nil)
	}
	if c.Paths.VectorMatrixFile == "" {
		return hyerr.ConfigError("paths.vector_matrix_file must not be empty", nil)
	}
	if c.Paths.VectorMetaFile == "" {
		return hyerr.ConfigError("paths.vector_meta_file must not be empty", nil)
	}
	if c.Paths.SourceFolder == "" {
		return hyerr.ConfigError("paths.source_folder must not be empty", nil)
	}

	if c.Embedding.BatchSize <= 0 {
		return hyerr.ConfigError(fmt.Sprintf("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize), nil)
	}
	if c.Embedding.Dimension < 0 {
		return hyerr.ConfigError(fmt.Sprintf("embedding.dimension must be non-negative, got %d", c.Embedding.Dimension), nil)
	}

	if c.Chunking.ChunkSize <= 0 {
		return hyerr.ConfigError(fmt.Sprintf("chunking.chunk_size must be positive, got %d", c.Chunking.ChunkSize), nil)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.ChunkSize {
		return hyerr.ConfigError(fmt.Sprintf("chunking.overlap must be in [0, chunk_size), got %d", c.Chunking.Overlap), nil)
	}

	if c.Retrieval.TopK <= 0 {
		return hyerr.ConfigError(fmt.Sprintf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK), nil)
	}
	if c.Retrieval.MinScore < 0 {
		return hyerr.ConfigError(fmt.Sprintf("retrieval.min_score must be non-negative, got %f", c.Retrieval.MinScore), nil)
	}
	if c.Retrieval.RRFK <= 0 {
		return hyerr.ConfigError(fmt.Sprintf("retrieval.rrf_k must be positive, got %d", c.Retrieval.RRFK), nil)
	}
	if c.Retrieval.RerankerEnabled && c.Retrieval.RerankerTopN <= 0 {
		return hyerr.ConfigError("retrieval.reranker_top_n must be positive when reranker_enabled is true", nil)
	}

	if c.LocalBackend.BaseURL == "" {
		return hyerr.ConfigError("local_backend.base_url must not be empty", nil)
	}
	if c.LocalBackend.TimeoutSeconds <= 0 {
		return hyerr.ConfigError("local_backend.timeout_seconds must be positive", nil)
	}

	switch c.Security.Mode {
	case ModeOffline, ModeOnline, ModeAdmin:
	default:
		return hyerr.ConfigError(fmt.Sprintf("security.mode must be offline, online, or admin, got %q", c.Security.Mode), nil)
	}
	if c.Security.Mode != ModeOffline && c.RemoteAPI.Endpoint == "" {
		return hyerr.ConfigError("remote_api.endpoint must be set when security.mode is online or admin", nil)
	}

	if c.Guard.Enabled {
		t := c.Guard.FaithfulnessThreshold
		if math.IsNaN(t) || math.IsInf(t, 0) || t < 0 || t > 1 {
			return hyerr.ConfigError(fmt.Sprintf("guard.faithfulness_threshold must be a finite value in [0, 1], got %v", t), nil)
		}
		switch c.Guard.FailureAction {
		case FailureActionWarn, FailureActionBlock:
		default:
			return hyerr.ConfigError(fmt.Sprintf("guard.failure_action must be warn or block, got %q", c.Guard.FailureAction), nil)
		}
		if c.Guard.ChunkPruneK <= 0 {
			return hyerr.ConfigError("guard.chunk_prune_k must be positive", nil)
		}
		if c.Guard.ShortCircuitPassCount <= 0 || c.Guard.ShortCircuitFailCount <= 0 {
			return hyerr.ConfigError("guard.short_circuit_pass_count and short_circuit_fail_count must be positive", nil)
		}
	}

	if c.Cost.InputPer1KTokens < 0 || c.Cost.OutputPer1KTokens < 0 {
		return hyerr.ConfigError("cost rates must be non-negative", nil)
	}

	return nil
}

// WriteYAML writes the configuration to path, creating parent directories
// as needed.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return hyerr.InternalError("cannot marshal configuration", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return hyerr.New(hyerr.ErrCodeFilePermission, "cannot create config directory", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return hyerr.New(hyerr.ErrCodeFilePermission, "cannot write config file", err)
	}
	return nil
}

// DefaultIndexWorkers mirrors the teacher's runtime.NumCPU()-sized default
// for the Indexer's embedding worker pool.
func DefaultIndexWorkers() int {
	return runtime.NumCPU()
}
