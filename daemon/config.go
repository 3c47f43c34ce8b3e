// Package daemon holds the declarative configuration for the toolgarden
// service: upstream endpoints, storage paths, sync cadences, and executor
// policy.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/toolgarden/syncer"
)

const (
	projectConfigName = "toolgarden.yaml"
	homeConfigName    = "config.yaml"
	homeConfigDir     = ".toolgarden"
)

// Config is the toolgarden.yaml shape.
type Config struct {
	Registry RegistryConfig `yaml:"registry"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Store    StoreConfig    `yaml:"store"`
	Sync     SyncConfig     `yaml:"sync"`
	Health   HealthConfig   `yaml:"health"`
	Executor ExecutorConfig `yaml:"executor"`
	Otel     OtelConfig     `yaml:"otel"`
}

// RegistryConfig points at the upstream package registry.
type RegistryConfig struct {
	URL       string        `yaml:"url"`
	PageLimit int           `yaml:"page_limit"`
	Timeout   time.Duration `yaml:"timeout"`
}

// SandboxConfig points at the untrusted-code execution service.
type SandboxConfig struct {
	URL            string        `yaml:"url"`
	APIKey         string        `yaml:"api_key"`
	ListTimeout    time.Duration `yaml:"list_timeout"`
	ExtractTimeout time.Duration `yaml:"extract_timeout"`
	ExecuteTimeout time.Duration `yaml:"execute_timeout"`
}

// StoreConfig locates local persistence.
type StoreConfig struct {
	// Path is the SQLite database path. Empty means ~/.toolgarden/toolgarden.db.
	Path string `yaml:"path"`
	// IndexPath is the search index directory. Empty means in-memory.
	IndexPath string `yaml:"index_path"`
}

// SyncConfig holds the three cadences, each a five-field UTC cron
// expression. An empty expression disables that cadence.
type SyncConfig struct {
	ChangesCron       string        `yaml:"changes_cron"`
	DiscoveryCron     string        `yaml:"discovery_cron"`
	MetricsCron       string        `yaml:"metrics_cron"`
	DiscoveryKeywords []string      `yaml:"discovery_keywords"`
	RunLockTTL        time.Duration `yaml:"run_lock_ttl"`
}

// HealthConfig bounds the health check worker pool.
type HealthConfig struct {
	Concurrency int           `yaml:"concurrency"`
	QueueDepth  int           `yaml:"queue_depth"`
	JobTimeout  time.Duration `yaml:"job_timeout"`
}

// ExecutorConfig sets dispatch policy for custom executor targets.
type ExecutorConfig struct {
	// AllowInsecure permits plain-HTTP custom targets (development only).
	AllowInsecure  bool          `yaml:"allow_insecure"`
	ExecuteTimeout time.Duration `yaml:"execute_timeout"`
}

// OtelConfig configures telemetry export.
type OtelConfig struct {
	// Endpoint is the OTLP HTTP endpoint; empty disables export.
	Endpoint string `yaml:"endpoint"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		Registry: RegistryConfig{PageLimit: 100, Timeout: 30 * time.Second},
		Sync: SyncConfig{
			ChangesCron:   syncer.DefaultChangesCron,
			DiscoveryCron: syncer.DefaultDiscoveryCron,
			MetricsCron:   syncer.DefaultMetricsCron,
			RunLockTTL:    10 * time.Minute,
		},
		Health: HealthConfig{Concurrency: 4, QueueDepth: 256, JobTimeout: 2 * time.Minute},
		Executor: ExecutorConfig{
			ExecuteTimeout: 5 * time.Minute,
		},
	}
}

// DefaultStorePath returns ~/.toolgarden/toolgarden.db.
func DefaultStorePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("daemon: resolve user home: %w", err)
	}
	return filepath.Join(home, homeConfigDir, "toolgarden.db"), nil
}

// DiscoverConfigPath resolves the config file with first-match semantics:
// an explicit path, else ./toolgarden.yaml, else ~/.toolgarden/config.yaml.
func DiscoverConfigPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("daemon: resolve working directory: %w", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("daemon: resolve user home: %w", err)
	}
	return DiscoverConfigPathFrom(explicitPath, cwd, home)
}

// DiscoverConfigPathFrom is a testable variant of DiscoverConfigPath.
func DiscoverConfigPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		candidates = append(candidates, filepath.Clean(clean))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, homeConfigDir, homeConfigName))
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			// If explicit path is set, not found is an error.
			if i == 0 && strings.TrimSpace(explicitPath) != "" {
				return "", false, fmt.Errorf("daemon: config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("daemon: checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// LoadConfig reads and validates a config file, layered over defaults.
// An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	clean := strings.TrimSpace(path)
	if clean == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return Config{}, fmt.Errorf("daemon: read config %q: %w", clean, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("daemon: parse config %q: %w", clean, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints the YAML shape cannot express.
func (c Config) Validate() error {
	if c.Registry.PageLimit < 0 {
		return errors.New("daemon: registry page_limit must not be negative")
	}
	for name, expr := range map[string]string{
		"changes_cron":   c.Sync.ChangesCron,
		"discovery_cron": c.Sync.DiscoveryCron,
		"metrics_cron":   c.Sync.MetricsCron,
	} {
		if strings.TrimSpace(expr) == "" {
			continue
		}
		if _, err := syncer.ParseCronExpressionUTC(expr); err != nil {
			return fmt.Errorf("daemon: sync %s: %w", name, err)
		}
	}
	if c.Health.Concurrency < 0 || c.Health.QueueDepth < 0 {
		return errors.New("daemon: health concurrency and queue_depth must not be negative")
	}
	return nil
}
