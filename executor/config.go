// Package executor resolves where a tool invocation runs and dispatches it
// there. The target is either the system's built-in sandbox executor or an
// operator-supplied custom endpoint; resolution cascades caller override →
// group override → system default.
package executor

import (
	"encoding/json"
	"strings"
)

// ConfigType discriminates the executor config variant.
type ConfigType string

const (
	TypeDefault   ConfigType = "default"
	TypeCustomURL ConfigType = "custom_url"
)

// Config is the effective execution target for one invocation. The zero
// value is the system default.
type Config struct {
	Type   ConfigType `json:"type"`
	URL    string     `json:"url,omitempty"`
	APIKey string     `json:"apiKey,omitempty"`
}

// DefaultConfig returns the system default target.
func DefaultConfig() Config {
	return Config{Type: TypeDefault}
}

// IsCustom reports whether the config points at a custom endpoint.
func (c Config) IsCustom() bool {
	return c.Type == TypeCustomURL && strings.TrimSpace(c.URL) != ""
}

// Resolve produces the single effective config for an invocation. A
// caller-supplied custom target wins; else a group-supplied custom target;
// else the system default. Pure and total: it always returns a value.
func Resolve(caller, group *Config) Config {
	if caller != nil && caller.IsCustom() {
		return *caller
	}
	if group != nil && group.IsCustom() {
		return *group
	}
	return DefaultConfig()
}

// Parse validates a persisted (type, config JSON) pair into a Config.
// Malformed input returns nil rather than an error: persisted caller
// configuration is untrusted and a bad row must not break resolution.
func Parse(rawType string, rawConfig json.RawMessage) *Config {
	switch ConfigType(strings.TrimSpace(rawType)) {
	case TypeDefault, "":
		cfg := DefaultConfig()
		return &cfg
	case TypeCustomURL:
		var payload struct {
			URL    any    `json:"url"`
			APIKey string `json:"apiKey"`
		}
		if err := json.Unmarshal(rawConfig, &payload); err != nil {
			return nil
		}
		url, ok := payload.URL.(string)
		if !ok || strings.TrimSpace(url) == "" {
			return nil
		}
		return &Config{
			Type:   TypeCustomURL,
			URL:    strings.TrimSpace(url),
			APIKey: payload.APIKey,
		}
	default:
		return nil
	}
}
