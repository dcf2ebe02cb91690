// Package credential resolves the API credential bundle used by the
// remote LLM backend from the OS-native keystore, the process
// environment, or the configuration file, in that priority order.
package credential

import (
	"fmt"
	"os"
	"strings"

	"github.com/99designs/keyring"

	"github.com/Aman-CERP/hybridrag3/internal/config"
	hyerr "github.com/Aman-CERP/hybridrag3/internal/errors"
)

// Source identifies where a credential field came from.
type Source string

const (
	SourceKeyring Source = "keyring"
	SourceEnv     Source = "env"
	SourceConfig  Source = "config"
	SourceNone    Source = "none"
)

// Bundle is the resolved API credential used to authenticate against the
// remote LLM backend.
type Bundle struct {
	APIKey     string
	Endpoint   string
	Deployment string
	APIVersion string
}

// Provenance records which Source each Bundle field came from.
type Provenance struct {
	APIKey     Source
	Endpoint   Source
	Deployment Source
	APIVersion Source
}

const (
	keyringServiceName = "hybridrag3"
	keyringItemAPIKey  = "remote_api_key"
)

const (
	envAPIKey     = "HYBRIDRAG3_API_KEY"
	envEndpoint   = "HYBRIDRAG3_ENDPOINT"
	envDeployment = "HYBRIDRAG3_DEPLOYMENT"
	envAPIVersion = "HYBRIDRAG3_API_VERSION"
)

// Resolver resolves credentials for the remote backend and exposes the
// administrative keyring operations (Store/List/Clear) used by the CLI.
type Resolver struct {
	ring   keyring.Keyring
	getenv func(string) string
	cfg    *config.RemoteAPIConfig

	warn func(msg string)
}

// Option configures a Resolver at construction.
type Option func(*Resolver)

// WithWarnFunc installs a callback invoked whenever resolution falls back to
// the config-file credential source, the one source that is logged.
func WithWarnFunc(fn func(msg string)) Option {
	return func(r *Resolver) { r.warn = fn }
}

// WithEnvLookup overrides the environment lookup, used by tests.
func WithEnvLookup(fn func(string) string) Option {
	return func(r *Resolver) { r.getenv = fn }
}

// New opens the OS-native keystore (falling back to an on-disk encrypted
// file store in headless environments where no native backend is
// available) and returns a Resolver for remoteAPI.
func New(remoteAPI *config.RemoteAPIConfig, fileDir string, opts ...Option) (*Resolver, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              keyringServiceName,
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("hybridrag3"),
		KeychainTrustApplication: true,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.FileBackend,
		},
	})
	if err != nil {
		return nil, hyerr.CredentialError("cannot open credential keystore", err)
	}

	r := &Resolver{
		ring:   ring,
		getenv: osGetenv,
		cfg:    remoteAPI,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve produces the credential bundle, preferring the keyring, then
// environment variables, then the configuration file.
func (r *Resolver) Resolve() (Bundle, Provenance, error) {
	var bundle Bundle
	var prov Provenance

	apiKey, src := r.resolveAPIKey()
	bundle.APIKey = apiKey
	prov.APIKey = src

	bundle.Endpoint, prov.Endpoint = r.resolveField(r.getenv(envEndpoint), r.cfg.Endpoint)
	bundle.Deployment, prov.Deployment = r.resolveField(r.getenv(envDeployment), r.cfg.Deployment)
	bundle.APIVersion, prov.APIVersion = r.resolveField(r.getenv(envAPIVersion), r.cfg.APIVersion)

	if prov.Endpoint == SourceConfig || prov.Deployment == SourceConfig || prov.APIVersion == SourceConfig {
		r.logWarning("remote_api credential field read from configuration file; prefer the OS keystore or environment variables")
	}

	if bundle.APIKey == "" {
		return bundle, prov, hyerr.CredentialError("no API key available from keyring, environment, or configuration file", nil).
			WithSuggestion(fmt.Sprintf("run 'hybridrag3 credential store' or set %s", envAPIKey))
	}

	return bundle, prov, nil
}

func (r *Resolver) resolveAPIKey() (string, Source) {
	if item, err := r.ring.Get(keyringItemAPIKey); err == nil && len(item.Data) > 0 {
		return string(item.Data), SourceKeyring
	}
	if v := r.getenv(envAPIKey); v != "" {
		return v, SourceEnv
	}
	if r.cfg.APIKey != "" {
		r.logWarning("remote_api.api_key read from configuration file; prefer the OS keystore or HYBRIDRAG3_API_KEY")
		return r.cfg.APIKey, SourceConfig
	}
	return "", SourceNone
}

func (r *Resolver) resolveField(envValue, cfgValue string) (string, Source) {
	if envValue != "" {
		return envValue, SourceEnv
	}
	if cfgValue != "" {
		return cfgValue, SourceConfig
	}
	return "", SourceNone
}

func (r *Resolver) logWarning(msg string) {
	if r.warn != nil {
		r.warn(msg)
	}
}

// Store writes the API key to the OS-native keystore. Administrative
// operation; never touches environment or config-file sources.
func (r *Resolver) Store(apiKey string) error {
	if apiKey == "" {
		return hyerr.ValidationError("API key must not be empty", nil)
	}
	err := r.ring.Set(keyring.Item{
		Key:         keyringItemAPIKey,
		Data:        []byte(apiKey),
		Label:       "HybridRAG3 remote API key",
		Description: "Credential used to authenticate against the configured remote LLM backend",
	})
	if err != nil {
		return hyerr.CredentialError("cannot store API key in keystore", err)
	}
	return nil
}

// List returns the keyring item keys currently stored under the hybridrag3
// service name. Administrative operation.
func (r *Resolver) List() ([]string, error) {
	keys, err := r.ring.Keys()
	if err != nil {
		return nil, hyerr.CredentialError("cannot list keystore items", err)
	}
	return keys, nil
}

// Clear removes the stored API key from the keystore. Administrative
// operation; a no-op (not an error) if nothing is stored.
func (r *Resolver) Clear() error {
	if err := r.ring.Remove(keyringItemAPIKey); err != nil {
		if err == keyring.ErrKeyNotFound {
			return nil
		}
		return hyerr.CredentialError("cannot remove API key from keystore", err)
	}
	return nil
}

// Mask renders a secret as first4…last4 for diagnostics, or **** if it is
// too short to mask safely without revealing most of its content.
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) < 9 {
		return "****"
	}
	return fmt.Sprintf("%s…%s", secret[:4], secret[len(secret)-4:])
}

func osGetenv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
