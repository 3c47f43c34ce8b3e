package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewToolsCmd creates the "tools" command group.
func NewToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tool catalog",
	}
	cmd.PersistentFlags().String("config", "", "Path to toolgarden.yaml")

	cmd.AddCommand(newToolsListCmd())
	cmd.AddCommand(newSyncLogsCmd())

	return cmd
}

func newToolsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cataloged packages and their tools",
		RunE:  runToolsList,
	}
}

func runToolsList(cmd *cobra.Command, _ []string) error {
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

	ctx := cmd.Context()
	pkgs, err := store.ListPackages(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PACKAGE\tVERSION\tTIER\tTOOL\tSCHEMA\tIMPORT\tEXEC")
	for _, pkg := range pkgs {
		tools, err := store.ListToolsByPackage(ctx, pkg.ID)
		if err != nil {
			return err
		}
		if len(tools) == 0 {
			fmt.Fprintf(w, "%s\t%s\t%s\t-\t-\t-\t-\n", pkg.Name, pkg.Version, pkg.Tier)
			continue
		}
		for _, tool := range tools {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				pkg.Name, pkg.Version, pkg.Tier, tool.Name,
				tool.SchemaSource, tool.ImportHealth, tool.ExecutionHealth)
		}
	}
	return w.Flush()
}

func newSyncLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync-logs",
		Short: "Show recent sync run logs",
		RunE:  runSyncLogs,
	}
	cmd.Flags().String("source", "", "Filter by sync source")
	cmd.Flags().Int("limit", 20, "Max rows")
	return cmd
}

func runSyncLogs(cmd *cobra.Command, _ []string) error {
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

	source, _ := cmd.Flags().GetString("source")
	limit, _ := cmd.Flags().GetInt("limit")

	logs, err := store.ListSyncLogs(cmd.Context(), source, limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSOURCE\tOUTCOME\tPROCESSED\tSKIPPED\tERRORS\tDURATION")
	for _, log := range logs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			log.CreatedAt.Format("2006-01-02 15:04:05"), log.Source, log.Outcome,
			log.Processed, log.Skipped, log.Errors, log.Duration)
	}
	return w.Flush()
}
