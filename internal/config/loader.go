package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// EnvFile is read from the config directory, if present, to supply values
// for ${VAR} interpolation and secret_ref. Process environment wins.
const EnvFile = ".env"

// Load reads, merges, verifies and validates configuration. configPath may
// be a file or a directory containing config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	env, err := readEnvFile(filepath.Dir(absPath))
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath, env)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.env = env
	cfg.SourceFiles = make(map[string]*yaml.Node)
	if node, err := parseNode(absPath); err == nil {
		cfg.SourceFiles[absPath] = node
	}

	visited := map[string]bool{absPath: true}
	if len(cfg.Include) > 0 {
		if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited, env); err != nil {
			return nil, err
		}
	}

	cfg = applyConfigDefaults(cfg)

	paths := make([]string, 0, len(visited))
	for p := range visited {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	if err := verifyAllConfigHashes(paths); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $HOOKLEDGER_CONFIG, ~/.config/hookledger, /etc/hookledger,
// ./config.yaml.
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("HOOKLEDGER_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	candidates := []string{}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "hookledger", "config.yaml"))
	}
	candidates = append(candidates, "/etc/hookledger/config.yaml", "./config.yaml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: $HOOKLEDGER_CONFIG, ~/.config/hookledger, /etc/hookledger, ./config.yaml)")
}

// DiscoverAllConfigFiles returns absolute paths to all configuration files in
// the include tree, sorted.
func DiscoverAllConfigFiles(configPath string) ([]string, error) {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	env, err := readEnvFile(filepath.Dir(absPath))
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath, env)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}

	visited := map[string]bool{absPath: true}
	scratch := &Config{SourceFiles: map[string]*yaml.Node{}}
	if err := loadIncludes(scratch, cfg.Include, filepath.Dir(absPath), visited, env); err != nil {
		return nil, err
	}

	files := make([]string, 0, len(visited))
	for f := range visited {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

// LookupEnv resolves name from the process environment, then from the
// config directory's .env file.
func (c *Config) LookupEnv(name string) (string, bool) {
	if v, ok := os.LookupEnv(name); ok {
		return v, true
	}
	v, ok := c.env[name]
	return v, ok
}

func resolveConfigFile(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

func readEnvFile(dir string) (map[string]string, error) {
	path := filepath.Join(dir, EnvFile)
	env, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return env, nil
}

// loadIncludes recursively loads and merges files from the include array.
// visited tracks loaded files to prevent cycles.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool, env map[string]string) error {
	for i, includePath := range includes {
		includePath = interpolateEnv(includePath, env)

		resolvedPath := includePath
		if !filepath.IsAbs(includePath) {
			resolvedPath = filepath.Join(baseDir, includePath)
		}
		absPath, err := filepath.Abs(resolvedPath)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}

		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}

		if _, err := os.Stat(absPath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("include[%d]: file not found: %s\n"+
					"Referenced from: %s\n"+
					"Hint: Check the path is correct and the file exists", i, absPath, baseDir)
			}
			return fmt.Errorf("include[%d]: failed to access file %s: %w", i, absPath, err)
		}
		visited[absPath] = true

		if node, err := parseNode(absPath); err == nil {
			cfg.SourceFiles[absPath] = node
		}

		includedCfg, err := loadConfigFile(absPath, env)
		if err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}
		deepMergeConfig(cfg, includedCfg)

		if len(includedCfg.Include) > 0 {
			if err := loadIncludes(cfg, includedCfg.Include, filepath.Dir(absPath), visited, env); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadConfigFile loads and parses a single config file without defaults.
func loadConfigFile(path string, env map[string]string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data), env)), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

func parseNode(path string) (*yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// deepMergeConfig merges src into dst, with src taking precedence for
// non-zero values. Endpoints and tokens are appended.
func deepMergeConfig(dst, src *Config) {
	if src.Service.Name != "" {
		dst.Service.Name = src.Service.Name
	}
	if src.Service.LogLevel != "" {
		dst.Service.LogLevel = src.Service.LogLevel
	}
	if src.Service.LogFormat != "" {
		dst.Service.LogFormat = src.Service.LogFormat
	}

	if src.State.Driver != "" {
		dst.State.Driver = src.State.Driver
	}
	if src.State.Path != "" {
		dst.State.Path = src.State.Path
	}
	if src.State.DSN != "" {
		dst.State.DSN = src.State.DSN
	}

	if src.Webhooks.Listen != "" {
		dst.Webhooks.Listen = src.Webhooks.Listen
	}
	if src.Webhooks.HandlerTimeout != 0 {
		dst.Webhooks.HandlerTimeout = src.Webhooks.HandlerTimeout
	}
	if src.Webhooks.FinalizeTimeout != 0 {
		dst.Webhooks.FinalizeTimeout = src.Webhooks.FinalizeTimeout
	}
	dst.Webhooks.Endpoints = append(dst.Webhooks.Endpoints, src.Webhooks.Endpoints...)

	if src.Recovery.StaleAfter != 0 {
		dst.Recovery.StaleAfter = src.Recovery.StaleAfter
	}
	if src.Recovery.Interval != 0 {
		dst.Recovery.Interval = src.Recovery.Interval
	}
	if src.Recovery.Jitter != 0 {
		dst.Recovery.Jitter = src.Recovery.Jitter
	}

	if src.API.Enabled {
		dst.API.Enabled = true
	}
	if src.API.Listen != "" {
		dst.API.Listen = src.API.Listen
	}
	if src.API.Auth.APIKey != "" {
		dst.API.Auth.APIKey = src.API.Auth.APIKey
	}
	dst.API.Auth.Tokens = append(dst.API.Auth.Tokens, src.API.Auth.Tokens...)
}

// verifyAllConfigHashes checks every loaded file against the .checksums
// manifest in its directory. Directories without a manifest are skipped.
func verifyAllConfigHashes(paths []string) error {
	dirToFiles := make(map[string][]string)
	for _, path := range paths {
		dir := filepath.Dir(path)
		dirToFiles[dir] = append(dirToFiles[dir], path)
	}

	for dir, files := range dirToFiles {
		checksums, err := LoadChecksums(dir)
		if errors.Is(err, errNoChecksums) {
			continue
		}
		if err != nil {
			return err
		}

		for _, path := range files {
			basename := filepath.Base(path)
			expectedHash, ok := checksums.Hashes[basename]
			if !ok {
				return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
					"Run: hookledger config lock --config %s", basename, dir, dir)
			}

			if err := VerifyFileHash(path, expectedHash); err != nil {
				return fmt.Errorf("config verification failed for %s: %w\n"+
					"This indicates tampering or unauthorized modification.\n"+
					"If you edited this file intentionally, run: hookledger config lock --config %s", path, err, dir)
			}
		}
	}
	return nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.State.Driver == "" {
		cfg.State.Driver = defaults.State.Driver
	}
	if cfg.State.Driver == "sqlite" && cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}

	if cfg.Webhooks.Listen == "" {
		cfg.Webhooks.Listen = defaults.Webhooks.Listen
	}
	if cfg.Webhooks.HandlerTimeout == 0 {
		cfg.Webhooks.HandlerTimeout = defaults.Webhooks.HandlerTimeout
	}
	if cfg.Webhooks.FinalizeTimeout == 0 {
		cfg.Webhooks.FinalizeTimeout = defaults.Webhooks.FinalizeTimeout
	}

	// stale_after: 0 is an explicit opt-out, so only the interval defaults.
	if cfg.Recovery.Interval == 0 {
		cfg.Recovery.Interval = defaults.Recovery.Interval
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	return cfg
}

// interpolateEnv replaces ${VAR} with values from the process environment or
// env. Undefined variables are left as-is and caught by validation.
func interpolateEnv(input string, env map[string]string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		if value, exists := env[varName]; exists {
			return value
		}
		return match
	})
}
