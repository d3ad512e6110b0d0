package cmd

import (
	"github.com/psds-microservice/ticket-intake-service/internal/application"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var retryPendingLimit int

var retryPendingCmd = &cobra.Command{
	Use:   "retry-pending",
	Short: "Resume tickets waiting for classification or a technician",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(cmd.Context(), func(core *application.Core) error {
			n, err := core.Service.RetryPending(cmd.Context(), retryPendingLimit)
			if err != nil {
				return err
			}
			core.Log.Info("retry-pending: done", zap.Int("assigned", n))
			return nil
		})
	},
}

func init() {
	retryPendingCmd.Flags().IntVar(&retryPendingLimit, "limit", 100, "max tickets to retry")
}
