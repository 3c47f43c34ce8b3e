package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petal-labs/toolgarden/executor"
)

// NewVerifyExecutorCmd creates the "verify-executor" subcommand.
func NewVerifyExecutorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify-executor <url>",
		Short: "Vet a custom executor endpoint before using it",
		Args:  cobra.ExactArgs(1),
		RunE:  runVerifyExecutor,
	}
	cmd.Flags().String("api-key", "", "Bearer token for the executor")
	cmd.Flags().Bool("allow-insecure", false, "Permit plain-HTTP targets (development only)")
	return cmd
}

func runVerifyExecutor(cmd *cobra.Command, args []string) error {
	apiKey, _ := cmd.Flags().GetString("api-key")
	allowInsecure, _ := cmd.Flags().GetBool("allow-insecure")

	verifier := executor.NewVerifier(executor.VerifierConfig{AllowInsecure: allowInsecure})
	result := verifier.Verify(cmd.Context(), args[0], apiKey)

	if result.Valid {
		fmt.Fprintln(cmd.OutOrStdout(), "executor verified")
		return nil
	}
	for _, reason := range result.Errors {
		fmt.Fprintf(cmd.ErrOrStderr(), "- %s\n", reason)
	}
	return exitError(1, "executor verification failed (%d problems)", len(result.Errors))
}
