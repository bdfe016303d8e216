package config

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const redacted = "[redacted]"

// GetPath retrieves a value from the configuration using a dot-notation
// path. Secrets are masked. Paths of the form "type:name" address entities,
// see GetEntity.
func (c *Config) GetPath(path string) (any, error) {
	if strings.Contains(path, ":") {
		return c.GetEntity(path)
	}

	data, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return getValue(m, path)
}

// GetEntity retrieves an endpoint by "endpoint:<path>". "endpoint:*" lists
// all endpoints.
func (c *Config) GetEntity(address string) (any, error) {
	entityType, name, ok := strings.Cut(address, ":")
	if !ok || name == "" {
		return nil, fmt.Errorf("invalid entity address format %q (expected type:name)", address)
	}

	switch entityType {
	case "endpoint":
		eps := c.Redacted().Webhooks.Endpoints
		if name == "*" {
			return eps, nil
		}
		for _, ep := range eps {
			if ep.Path == name {
				return ep, nil
			}
		}
		return nil, fmt.Errorf("endpoint %q not found", name)
	default:
		return nil, fmt.Errorf("unsupported entity type %q", entityType)
	}
}

// Redacted returns a copy with secrets and tokens masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.SourceFiles = nil
	out.env = nil

	if out.State.DSN != "" {
		out.State.DSN = redacted
	}
	if out.API.Auth.APIKey != "" {
		out.API.Auth.APIKey = redacted
	}
	out.API.Auth.Tokens = append([]APIToken(nil), c.API.Auth.Tokens...)
	for i := range out.API.Auth.Tokens {
		out.API.Auth.Tokens[i].Token = redacted
	}
	out.Webhooks.Endpoints = append([]EndpointConfig(nil), c.Webhooks.Endpoints...)
	for i := range out.Webhooks.Endpoints {
		if out.Webhooks.Endpoints[i].Secret != "" {
			out.Webhooks.Endpoints[i].Secret = redacted
		}
	}
	return &out
}

// Origin reports which loaded files define the dotted path, sorted.
func (c *Config) Origin(path string) []string {
	var files []string
	for file, node := range c.SourceFiles {
		if node == nil || node.Kind != yaml.DocumentNode || len(node.Content) == 0 {
			continue
		}
		if _, err := findNode(node.Content[0], path); err == nil {
			files = append(files, file)
		}
	}
	sort.Strings(files)
	return files
}

func getValue(m map[string]any, path string) (any, error) {
	var current any = m

	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}

		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q breaks at %q (not a map)", path, part)
		}

		val, exists := m[part]
		if !exists {
			return nil, fmt.Errorf("path %q: key %q not found", path, part)
		}
		current = val
	}
	return current, nil
}

func findNode(node *yaml.Node, path string) (*yaml.Node, error) {
	current := node

	for _, part := range strings.Split(path, ".") {
		if current.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("not a mapping node")
		}

		found := false
		for i := 0; i+1 < len(current.Content); i += 2 {
			if current.Content[i].Value == part {
				current = current.Content[i+1]
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("key %q not found", part)
		}
	}
	return current, nil
}
