package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/psds-microservice/ticket-intake-service/internal/application"
	"github.com/psds-microservice/ticket-intake-service/internal/similarity"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var indexHistoryConcurrency int

var indexHistoryCmd = &cobra.Command{
	Use:   "index-history",
	Short: "Compute embeddings for historical tickets that have none (requires GENAI_API_KEY)",
	RunE:  runIndexHistory,
}

func init() {
	indexHistoryCmd.Flags().IntVar(&indexHistoryConcurrency, "concurrency", 4, "parallel embedding requests")
}

func runIndexHistory(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Minute)
	defer cancel()
	return withCore(ctx, func(core *application.Core) error {
		if core.Embedder == nil {
			return errors.New("index-history: GENAI_API_KEY is not set")
		}
		n, err := similarity.Backfill(ctx, core.DB, core.Embedder, indexHistoryConcurrency, core.Log)
		if err != nil {
			return err
		}
		core.Log.Info("index-history: done", zap.Int("embedded", n))
		return nil
	})
}
