package cli

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolgarden/catalog"
	"github.com/petal-labs/toolgarden/daemon"
	"github.com/petal-labs/toolgarden/registry"
	"github.com/petal-labs/toolgarden/sandbox"
	"github.com/petal-labs/toolgarden/syncer"
)

// loadConfigFromFlags resolves and loads toolgarden.yaml using the shared
// --config flag, falling back to path discovery and then defaults.
func loadConfigFromFlags(cmd *cobra.Command) (daemon.Config, error) {
	explicit, _ := cmd.Flags().GetString("config")
	path, found, err := daemon.DiscoverConfigPath(explicit)
	if err != nil {
		return daemon.Config{}, err
	}
	if !found {
		return daemon.DefaultConfig(), nil
	}
	return daemon.LoadConfig(path)
}

// openCatalogStore opens the SQLite store named by config, creating the
// parent directory on first use.
func openCatalogStore(cfg daemon.Config) (*catalog.SQLiteStore, error) {
	path := strings.TrimSpace(cfg.Store.Path)
	if path == "" {
		var err error
		path, err = daemon.DefaultStorePath()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	return catalog.NewSQLiteStore(catalog.SQLiteStoreConfig{DSN: path})
}

// buildClients constructs the upstream registry and sandbox clients.
func buildClients(cfg daemon.Config) (*registry.HTTPClient, *sandbox.HTTPClient, error) {
	reg, err := registry.NewHTTPClient(registry.HTTPClientConfig{
		BaseURL: cfg.Registry.URL,
		Timeout: cfg.Registry.Timeout,
	})
	if err != nil {
		return nil, nil, err
	}
	sb, err := sandbox.NewHTTPClient(sandbox.HTTPClientConfig{
		BaseURL:        cfg.Sandbox.URL,
		APIKey:         cfg.Sandbox.APIKey,
		ListTimeout:    cfg.Sandbox.ListTimeout,
		ExtractTimeout: cfg.Sandbox.ExtractTimeout,
		ExecuteTimeout: cfg.Sandbox.ExecuteTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return reg, sb, nil
}

// buildOrchestrator wires a sync orchestrator from config and collaborators.
func buildOrchestrator(cfg daemon.Config, store catalog.Store, reg registry.Client,
	sb sandbox.Client, healthCheck func(string), index syncer.Indexer,
	onEvent syncer.EventHandler, logger *slog.Logger) (*syncer.Orchestrator, error) {

	return syncer.NewOrchestrator(syncer.OrchestratorConfig{
		Store:             store,
		Registry:          reg,
		Sandbox:           sb,
		HealthCheck:       healthCheck,
		Index:             index,
		PageLimit:         cfg.Registry.PageLimit,
		RunLockTTL:        cfg.Sync.RunLockTTL,
		DiscoveryKeywords: cfg.Sync.DiscoveryKeywords,
		Logger:            logger,
		OnEvent:           onEvent,
	})
}
