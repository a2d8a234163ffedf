package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tarsbilisim/erpzek/pkg/erpzek/assistant"
	"github.com/tarsbilisim/erpzek/pkg/erpzek/channels/telegram"
	"github.com/tarsbilisim/erpzek/pkg/erpzek/exporter"
	"github.com/tarsbilisim/erpzek/pkg/erpzek/gateway"
	"github.com/tarsbilisim/erpzek/pkg/erpzek/render"
	"github.com/tarsbilisim/erpzek/pkg/erpzek/scheduler"
)

// newServeCmd creates the `erpzek serve` command that starts the assistant.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant daemon",
		Long: `Start ERP ZEK as a daemon: connects the Telegram channel, the query
gateway and the report exporter, and processes user messages until stopped.

Examples:
  erpzek serve
  erpzek serve --config ./erpzek.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := assistant.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := assistant.NewLogger(cfg.Logging)

	// Query path: in-process store or remote gateway server.
	var (
		exec  gateway.Executor
		store *gateway.Store
	)
	if cfg.Gateway.Mode == "remote" {
		exec = gateway.NewClient(cfg.Gateway.Client, logger)
	} else {
		store, err = gateway.OpenStore(cfg.Gateway.Store, logger)
		if err != nil {
			return fmt.Errorf("open ERP store: %w", err)
		}
		defer store.Close()
		exec = &gateway.LocalExecutor{Store: store}
	}

	licenses, err := assistant.NewLicenses(cfg.Licenses.Path, logger)
	if err != nil {
		return fmt.Errorf("open license registry: %w", err)
	}
	defer licenses.Close()

	transport := telegram.New(cfg.Telegram, logger)
	renderer := render.NewPDFRenderer(cfg.PDF, logger)
	defer renderer.Close()

	exports := exporter.New(cfg.Exporter, renderer, transport, logger)
	bot := assistant.New(cfg, assistant.NewLLMClient(cfg.LLM, logger), exec, licenses, exports, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Scheduled reports.
	if len(cfg.Reports) > 0 {
		sched := scheduler.New(exec, func(ctx context.Context, job scheduler.Job, result gateway.Result) {
			bot.DeliverReport(ctx, transport, job.ChatID, job.Operation, job.Title, result)
		}, logger)
		for _, rc := range cfg.Reports {
			err := sched.Add(scheduler.Job{
				Schedule:  rc.Schedule,
				Operation: rc.Operation,
				Params:    rc.Params,
				ChatID:    rc.ChatID,
				Title:     rc.Title,
			})
			if err != nil {
				return fmt.Errorf("scheduled report: %w", err)
			}
		}
		sched.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = sched.Stop(stopCtx)
		}()
	}

	err = bot.Run(ctx, transport)

	// Let in-flight exports finish before the process exits.
	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if derr := exports.Drain(drainCtx); derr != nil {
		logger.Warn("export drain incomplete", "error", derr)
	}
	return err
}
