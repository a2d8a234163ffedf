// Package commands implements the ERP ZEK CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root CLI command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "erpzek",
		Short: "ERP ZEK - conversational ERP assistant",
		Long: `ERP ZEK answers free-text questions about your business data over
messaging channels, backed by a licensed query gateway.

Examples:
  erpzek serve
  erpzek serve --config ./erpzek.yaml
  erpzek gateway --config ./erpzek.yaml`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newGatewayCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "erpzek.yaml", "path to the configuration file")

	return rootCmd
}
