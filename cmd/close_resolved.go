package cmd

import (
	"time"

	"github.com/psds-microservice/ticket-intake-service/internal/application"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var closeResolvedAfter time.Duration

var closeResolvedCmd = &cobra.Command{
	Use:   "close-resolved",
	Short: "Close resolved tickets without user feedback",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(cmd.Context(), func(core *application.Core) error {
			n, err := core.Service.CloseStaleResolved(cmd.Context(), closeResolvedAfter)
			if err != nil {
				return err
			}
			core.Log.Info("close-resolved: done", zap.Int("closed", n))
			return nil
		})
	},
}

func init() {
	closeResolvedCmd.Flags().DurationVar(&closeResolvedAfter, "older-than", 7*24*time.Hour, "resolved for at least this long")
}
