package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete hookledger configuration.
type Config struct {
	Include  []string       `yaml:"include,omitempty"`
	Service  ServiceConfig  `yaml:"service"`
	State    StateConfig    `yaml:"state"`
	Webhooks WebhooksConfig `yaml:"webhooks"`
	Recovery RecoveryConfig `yaml:"recovery"`
	API      APIConfig      `yaml:"api,omitempty"`

	// SourceFiles holds the parsed node of every loaded file, keyed by
	// absolute path. Populated by Load.
	SourceFiles map[string]*yaml.Node `yaml:"-"`

	env map[string]string
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name" validate:"required"`
	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"oneof=json text"`
}

// StateConfig selects the ledger store.
type StateConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite postgres"`
	// Path is the SQLite database file.
	Path string `yaml:"path" validate:"required_if=Driver sqlite"`
	// DSN is the postgres connection string.
	DSN string `yaml:"dsn" validate:"required_if=Driver postgres"`
}

// WebhooksConfig defines the intake listener and its endpoints.
type WebhooksConfig struct {
	Listen string `yaml:"listen" validate:"required,hostname_port"`
	// HandlerTimeout bounds each handler run; a timeout is a handler failure.
	HandlerTimeout time.Duration `yaml:"handler_timeout" validate:"gte=0"`
	// FinalizeTimeout bounds the ledger write after the handler returns.
	FinalizeTimeout time.Duration    `yaml:"finalize_timeout" validate:"gte=0"`
	Endpoints       []EndpointConfig `yaml:"endpoints" validate:"dive"`
}

// EndpointConfig defines a single webhook endpoint.
type EndpointConfig struct {
	Path     string `yaml:"path" validate:"required,startswith=/"`
	Provider string `yaml:"provider" validate:"required,oneof=payments identity sms other"`
	// Secret is the shared signing secret. SecretRef names an environment
	// variable holding it instead.
	Secret          string `yaml:"secret" validate:"required_without=SecretRef"`
	SecretRef       string `yaml:"secret_ref"`
	SignatureHeader string `yaml:"signature_header"`
	MaxBodySize     string `yaml:"max_body_size"`
	// SigningURL is the public URL the sms provider signs alongside the body.
	SigningURL string `yaml:"signing_url" validate:"omitempty,url"`
	// Tolerance bounds timestamped signature age. Zero disables the check.
	Tolerance time.Duration `yaml:"tolerance" validate:"gte=0"`

	EventIDPath   string `yaml:"event_id_path"`
	EventTypePath string `yaml:"event_type_path"`
	// EventIDHeader takes the event id from a request header instead of
	// the body.
	EventIDHeader string `yaml:"event_id_header"`

	Handler *HandlerConfig `yaml:"handler,omitempty"`
}

// HandlerConfig is the command run for each accepted delivery.
type HandlerConfig struct {
	Command string        `yaml:"command" validate:"required"`
	Args    []string      `yaml:"args,omitempty"`
	Env     []string      `yaml:"env,omitempty"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// RecoveryConfig controls the stale processing sweeper.
type RecoveryConfig struct {
	// StaleAfter of zero disables the sweeper.
	StaleAfter time.Duration `yaml:"stale_after" validate:"gte=0"`
	Interval   time.Duration `yaml:"interval" validate:"gte=0"`
	Jitter     time.Duration `yaml:"jitter" validate:"gte=0"`
}

// APIConfig defines the ops API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen" validate:"required_if=Enabled true"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the legacy single bearer token (admin/full access).
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty" validate:"dive"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token" validate:"required"`
	Scopes []string `yaml:"scopes" validate:"min=1"`
}

// ChecksumManifest is the .checksums file written by `config lock`.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "hookledger",
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Driver: "sqlite",
			Path:   "./data/ledger.db",
		},
		Webhooks: WebhooksConfig{
			Listen:          "127.0.0.1:8090",
			HandlerTimeout:  30 * time.Second,
			FinalizeTimeout: 10 * time.Second,
		},
		Recovery: RecoveryConfig{
			StaleAfter: 15 * time.Minute,
			Interval:   time.Minute,
			Jitter:     10 * time.Second,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8091",
		},
	}
}

// ResolveSecret returns the endpoint's signing secret, resolving SecretRef from
// lookup (normally os.LookupEnv).
func (e EndpointConfig) ResolveSecret(lookup func(string) (string, bool)) (string, bool) {
	if e.Secret != "" {
		return e.Secret, true
	}
	if e.SecretRef == "" {
		return "", false
	}
	v, ok := lookup(e.SecretRef)
	return v, ok && v != ""
}
