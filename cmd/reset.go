package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cs2watch/results-crawler/internal/clock/system"
	"github.com/cs2watch/results-crawler/internal/crawl"
	"github.com/cs2watch/results-crawler/internal/database"
)

func newResetCmd() *cobra.Command {
	var stage string

	cmd := &cobra.Command{
		Use:   "reset <item-id>",
		Short: "Reset an exhausted queue item back to queued",
		Long: `Clears the retry state of a queue item so the next crawl picks it up
again. Use this after fixing whatever made the item exhaust its retries,
for example a parser bug or a temporary site change.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pool, err := database.Connect(ctx, database.Config{
				DSN:      cfg.DB.DSN,
				MaxConns: int32(cfg.DB.MaxConns),
			}, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			queues, err := buildQueues(pool, system.New())
			if err != nil {
				return err
			}
			queue, ok := queues[crawl.Stage(stage)]
			if !ok {
				return fmt.Errorf("unknown stage %q", stage)
			}

			if err := queue.ResetFailed(ctx, args[0]); err != nil {
				return fmt.Errorf("reset item: %w", err)
			}
			logger.Info("item reset",
				zap.String("stage", stage),
				zap.String("id", args[0]),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&stage, "stage", string(crawl.StageMatch), "queue stage (match, map, demo)")
	return cmd
}
