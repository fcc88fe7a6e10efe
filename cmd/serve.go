package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cs2watch/results-crawler/internal/api"
	"github.com/cs2watch/results-crawler/internal/clock/system"
	"github.com/cs2watch/results-crawler/internal/crawl"
	"github.com/cs2watch/results-crawler/internal/database"
	"github.com/cs2watch/results-crawler/internal/pipeline"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ops HTTP server",
		Long: `Serves queue stats, item reset, health, and Prometheus metrics over
HTTP. Intended to run alongside scheduled crawl invocations against the
same database.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
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

	clock := system.New()
	run, queues, cleanup, err := buildPipeline(ctx, pool, clock)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(queues, logger.Named("api")).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.Crawler.RunIntervalMin > 0 {
		interval := time.Duration(cfg.Crawler.RunIntervalMin) * time.Minute
		g.Go(func() error {
			return crawlLoop(gctx, run, clock, interval)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// crawlLoop runs the pipeline immediately and then on every tick. A failed
// run is logged and the loop continues; the ops server keeps serving either
// way.
func crawlLoop(ctx context.Context, run *pipeline.Pipeline, clock crawl.Clock, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if result, err := runOnce(ctx, run, clock); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("scheduled run failed",
				zap.String("run_id", result.RunID),
				zap.Error(err),
			)
		} else {
			logger.Info("scheduled run finished",
				zap.String("run_id", result.RunID),
				zap.Int("discovered", result.Discovered),
			)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
