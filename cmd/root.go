package cmd

import (
	"context"
	"fmt"

	"github.com/psds-microservice/ticket-intake-service/internal/application"
	"github.com/psds-microservice/ticket-intake-service/internal/config"
	"github.com/psds-microservice/ticket-intake-service/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:          "ticket-intake-service",
	Short:        "Ticket intake: extract metadata, classify from similar tickets, assign technicians (PSDS)",
	RunE:         runAPI,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(indexHistoryCmd)
	rootCmd.AddCommand(retryPendingCmd)
	rootCmd.AddCommand(closeResolvedCmd)
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.AppEnv)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, log, nil
}

// withCore runs fn against the assembled pipeline and releases it afterwards.
func withCore(ctx context.Context, fn func(*application.Core) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	core, err := application.NewCore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer core.Close()
	return fn(core)
}
