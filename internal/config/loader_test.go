package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal valid config",
			yaml: `
webhooks:
  endpoints:
    - path: /webhooks/payments
      provider: payments
      secret: whsec_abc
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.Name != "hookledger" {
					t.Errorf("service.name = %q, want default", cfg.Service.Name)
				}
				if cfg.State.Driver != "sqlite" || cfg.State.Path != "./data/ledger.db" {
					t.Errorf("state defaults not applied: %+v", cfg.State)
				}
				if cfg.Webhooks.Listen != "127.0.0.1:8090" {
					t.Errorf("webhooks.listen = %q", cfg.Webhooks.Listen)
				}
				if cfg.Webhooks.HandlerTimeout != 30*time.Second {
					t.Errorf("handler_timeout = %v", cfg.Webhooks.HandlerTimeout)
				}
				if cfg.Recovery.Interval != time.Minute {
					t.Errorf("recovery.interval = %v", cfg.Recovery.Interval)
				}
				if cfg.Recovery.StaleAfter != 0 {
					t.Errorf("recovery.stale_after = %v, want 0 when unset", cfg.Recovery.StaleAfter)
				}
				if len(cfg.Webhooks.Endpoints) != 1 {
					t.Fatalf("endpoints = %d", len(cfg.Webhooks.Endpoints))
				}
			},
		},
		{
			name: "durations and handler",
			yaml: `
service:
  log_level: debug
  log_format: text
webhooks:
  listen: 0.0.0.0:9000
  handler_timeout: 5s
  endpoints:
    - path: /webhooks/sms
      provider: sms
      secret: s
      signing_url: https://hooks.example.com/webhooks/sms
      handler:
        command: /usr/local/bin/on-sms
        args: [--verbose]
        timeout: 2s
recovery:
  stale_after: 10m
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Service.LogLevel)
				assert.Equal(t, "text", cfg.Service.LogFormat)
				assert.Equal(t, 5*time.Second, cfg.Webhooks.HandlerTimeout)
				assert.Equal(t, 10*time.Minute, cfg.Recovery.StaleAfter)
				ep := cfg.Webhooks.Endpoints[0]
				require.NotNil(t, ep.Handler)
				assert.Equal(t, "/usr/local/bin/on-sms", ep.Handler.Command)
				assert.Equal(t, []string{"--verbose"}, ep.Handler.Args)
				assert.Equal(t, 2*time.Second, ep.Handler.Timeout)
			},
		},
		{
			name: "env interpolation",
			yaml: `
webhooks:
  endpoints:
    - path: /webhooks/other
      provider: other
      secret: ${HOOKLEDGER_TEST_SECRET}
`,
			env: map[string]string{"HOOKLEDGER_TEST_SECRET": "from-env"},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "from-env", cfg.Webhooks.Endpoints[0].Secret)
			},
		},
		{
			name: "unresolved env var",
			yaml: `
webhooks:
  endpoints:
    - path: /webhooks/other
      provider: other
      secret: ${HOOKLEDGER_TEST_UNSET_VAR}
`,
			wantErr: "HOOKLEDGER_TEST_UNSET_VAR",
		},
		{
			name: "unknown provider",
			yaml: `
webhooks:
  endpoints:
    - path: /webhooks/gh
      provider: github
      secret: s
`,
			wantErr: "provider",
		},
		{
			name: "missing secret",
			yaml: `
webhooks:
  endpoints:
    - path: /webhooks/payments
      provider: payments
`,
			wantErr: "secret",
		},
		{
			name: "duplicate endpoint paths",
			yaml: `
webhooks:
  endpoints:
    - {path: /w, provider: other, secret: a}
    - {path: /w, provider: sms, secret: b}
`,
			wantErr: "already used",
		},
		{
			name: "postgres requires dsn",
			yaml: `
state:
  driver: postgres
`,
			wantErr: "dsn",
		},
		{
			name: "api listen clashes with webhooks",
			yaml: `
webhooks:
  listen: 127.0.0.1:7000
api:
  enabled: true
  listen: 127.0.0.1:7000
`,
			wantErr: "api.listen must differ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			dir := t.TempDir()
			path := writeFile(t, dir, "config.yaml", tt.yaml)

			cfg, err := Load(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "service:\n  name: dir-test\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "dir-test", cfg.Service.Name)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
include:
  - endpoints.yaml
service:
  name: base
`)
	writeFile(t, dir, "endpoints.yaml", `
include:
  - nested/more.yaml
webhooks:
  endpoints:
    - {path: /webhooks/payments, provider: payments, secret: a}
`)
	writeFile(t, dir, "nested/more.yaml", `
service:
  log_level: warn
webhooks:
  endpoints:
    - {path: /webhooks/identity, provider: identity, secret: b}
`)

	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "base", cfg.Service.Name)
	assert.Equal(t, "warn", cfg.Service.LogLevel)
	require.Len(t, cfg.Webhooks.Endpoints, 2)
	assert.Equal(t, "/webhooks/payments", cfg.Webhooks.Endpoints[0].Path)
	assert.Equal(t, "/webhooks/identity", cfg.Webhooks.Endpoints[1].Path)
	assert.Len(t, cfg.SourceFiles, 3)

	files, err := DiscoverAllConfigFiles(dir)
	require.NoError(t, err)
	assert.Len(t, files, 3)
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "include: [a.yaml]\n")
	writeFile(t, dir, "a.yaml", "include: [config.yaml]\n")

	_, err := Load(filepath.Join(dir, "config.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular")
}

func TestLoadIncludeMissing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "include: [nope.yaml]\n")

	_, err := Load(filepath.Join(dir, "config.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file not found")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env", "HOOKLEDGER_TEST_DOTENV_SECRET=dotenv-secret\nHOOKLEDGER_TEST_DOTENV_LEVEL=debug\n")
	writeFile(t, dir, "config.yaml", `
service:
  log_level: ${HOOKLEDGER_TEST_DOTENV_LEVEL}
webhooks:
  endpoints:
    - path: /webhooks/payments
      provider: payments
      secret_ref: HOOKLEDGER_TEST_DOTENV_SECRET
`)

	cfg, err := Load(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Service.LogLevel)

	secret, ok := cfg.Webhooks.Endpoints[0].ResolveSecret(cfg.LookupEnv)
	assert.True(t, ok)
	assert.Equal(t, "dotenv-secret", secret)

	_, inProcess := os.LookupEnv("HOOKLEDGER_TEST_DOTENV_SECRET")
	assert.False(t, inProcess, ".env must not leak into the process environment")

	t.Setenv("HOOKLEDGER_TEST_DOTENV_SECRET", "process-wins")
	secret, _ = cfg.Webhooks.Endpoints[0].ResolveSecret(cfg.LookupEnv)
	assert.Equal(t, "process-wins", secret)
}

func TestLoadSecretRefUnset(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
webhooks:
  endpoints:
    - path: /webhooks/payments
      provider: payments
      secret_ref: HOOKLEDGER_TEST_NEVER_SET
`)

	_, err := Load(filepath.Join(dir, "config.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret_ref")
}

func TestLoadVerifiesChecksums(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "service:\n  name: locked\n")

	files, err := DiscoverAllConfigFiles(dir)
	require.NoError(t, err)
	_, err = LockFiles(files, false)
	require.NoError(t, err)

	_, err = Load(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("service:\n  name: tampered\n"), 0o600))
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hookledger config lock")
}

func TestDiscoverConfigPathFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "custom.yaml", "service:\n  name: x\n")
	t.Setenv("HOOKLEDGER_CONFIG", path)

	got, err := DiscoverConfigPath()
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestInterpolateEnv(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		env    map[string]string
		dotenv map[string]string
		want   string
	}{
		{
			name:  "simple replacement",
			input: "path: ${HOOKLEDGER_T_HOME}/data",
			env:   map[string]string{"HOOKLEDGER_T_HOME": "/users/test"},
			want:  "path: /users/test/data",
		},
		{
			name:  "multiple vars",
			input: "${HOOKLEDGER_T_USER}:${HOOKLEDGER_T_PASS}@${HOOKLEDGER_T_HOST}",
			env: map[string]string{
				"HOOKLEDGER_T_USER": "admin",
				"HOOKLEDGER_T_PASS": "secret",
				"HOOKLEDGER_T_HOST": "localhost",
			},
			want: "admin:secret@localhost",
		},
		{
			name:   "dotenv fallback",
			input:  "key: ${HOOKLEDGER_T_ONLY_DOTENV}",
			dotenv: map[string]string{"HOOKLEDGER_T_ONLY_DOTENV": "v"},
			want:   "key: v",
		},
		{
			name:  "undefined var unchanged",
			input: "key: ${HOOKLEDGER_T_UNDEFINED}",
			want:  "key: ${HOOKLEDGER_T_UNDEFINED}",
		},
		{
			name:  "no vars",
			input: "plain text",
			want:  "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			got := interpolateEnv(tt.input, tt.dotenv)
			if got != tt.want {
				t.Errorf("interpolateEnv() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := applyConfigDefaults(&Config{
		Webhooks: WebhooksConfig{
			Endpoints: []EndpointConfig{
				{Path: "no-slash", Provider: "other", Secret: "s"},
				{Path: "/x", Provider: "other", Secret: "s", EventIDHeader: "X-Id", EventIDPath: "id"},
			},
		},
	})

	err := validate(cfg)
	require.Error(t, err)
	msg := err.Error()
	assert.True(t, strings.Contains(msg, "webhooks.endpoints[0].path"), msg)
	assert.Contains(t, msg, "mutually exclusive")
}
