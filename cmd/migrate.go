package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cs2watch/results-crawler/internal/database"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(_ *cobra.Command, _ []string) error {
			version, dirty, err := database.RunMigrations(cfg.DB.DSN)
			if err != nil {
				return err
			}
			logger.Info("migrations applied",
				zap.Uint("version", version),
				zap.Bool("dirty", dirty),
			)
			return nil
		},
	}
}
