package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tarsbilisim/erpzek/pkg/erpzek/assistant"
	"github.com/tarsbilisim/erpzek/pkg/erpzek/gateway"
)

// newGatewayCmd creates the `erpzek gateway` command that runs the
// standalone query gateway server.
func newGatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start the standalone query gateway server",
		Long: `Start the HTTP query gateway: serves the operation catalog to API
clients authenticated by key, with per-client allow-lists and rate limits.

Examples:
  erpzek gateway --config ./erpzek.yaml`,
		RunE: runGateway,
	}
}

func runGateway(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := assistant.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := assistant.NewLogger(cfg.Logging)

	store, err := gateway.OpenStore(cfg.Gateway.Store, logger)
	if err != nil {
		return fmt.Errorf("open ERP store: %w", err)
	}
	defer store.Close()

	server, err := gateway.NewServer(cfg.Gateway.Server, store, logger)
	if err != nil {
		return err
	}
	server.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}
