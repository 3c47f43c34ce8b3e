package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolgarden/catalog"
	"github.com/petal-labs/toolgarden/syncer"
)

// NewSyncCmd creates the "sync" subcommand: one manual run of a sync source.
func NewSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync {changes-feed | keyword-search | metrics-refresh}",
		Short: "Run one sync pass against the upstream registry",
		Args:  cobra.ExactArgs(1),
		RunE:  runSync,
	}
	cmd.Flags().String("config", "", "Path to toolgarden.yaml")
	return cmd
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigFromFlags(cmd)
	if err != nil {
		return err
	}

	store, err := openCatalogStore(cfg)
	if err != nil {
		return fmt.Errorf("opening catalog store: %w", err)
	}
	defer func() {
		_ = store.Close()
	}()

	reg, sb, err := buildClients(cfg)
	if err != nil {
		return fmt.Errorf("building upstream clients: %w", err)
	}

	// Manual runs carry no health checker or search index; the daemon's
	// next pass fills both in.
	orch, err := buildOrchestrator(cfg, store, reg, sb, nil, nil, nil, slog.Default())
	if err != nil {
		return fmt.Errorf("building sync orchestrator: %w", err)
	}

	ctx := cmd.Context()
	var runErr error
	var result string
	switch args[0] {
	case syncer.SourceChanges:
		syncLog, err := orch.RunChanges(ctx)
		runErr = err
		result = formatSyncLog(syncLog)
	case syncer.SourceDiscovery:
		syncLog, err := orch.RunKeywordDiscovery(ctx)
		runErr = err
		result = formatSyncLog(syncLog)
	case syncer.SourceMetrics:
		syncLog, err := orch.RunMetricsRefresh(ctx)
		runErr = err
		result = formatSyncLog(syncLog)
	default:
		return exitError(2, "unknown sync source %q", args[0])
	}

	if errors.Is(runErr, syncer.ErrRunLocked) {
		return exitError(3, "another %s run is already in progress", args[0])
	}
	fmt.Fprintln(cmd.OutOrStdout(), result)
	if runErr != nil {
		return exitError(1, "sync run aborted: %v", runErr)
	}
	return nil
}

func formatSyncLog(log catalog.SyncLog) string {
	return fmt.Sprintf("source=%s outcome=%s processed=%d skipped=%d errors=%d duration=%s last_seq=%s",
		log.Source, log.Outcome, log.Processed, log.Skipped, log.Errors, log.Duration, log.LastSeq)
}
