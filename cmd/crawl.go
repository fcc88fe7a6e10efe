package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cs2watch/results-crawler/internal/clock/system"
	"github.com/cs2watch/results-crawler/internal/config"
	"github.com/cs2watch/results-crawler/internal/controller"
	"github.com/cs2watch/results-crawler/internal/crawl"
	"github.com/cs2watch/results-crawler/internal/database"
	"github.com/cs2watch/results-crawler/internal/discovery"
	"github.com/cs2watch/results-crawler/internal/fetcher"
	collyfetcher "github.com/cs2watch/results-crawler/internal/fetcher/colly"
	"github.com/cs2watch/results-crawler/internal/fetcher/detector"
	"github.com/cs2watch/results-crawler/internal/fetcher/headless"
	"github.com/cs2watch/results-crawler/internal/hash/sha256"
	"github.com/cs2watch/results-crawler/internal/id/uuid"
	"github.com/cs2watch/results-crawler/internal/parser"
	"github.com/cs2watch/results-crawler/internal/pipeline"
	pubsubpublisher "github.com/cs2watch/results-crawler/internal/publisher/pubsub"
	queuepg "github.com/cs2watch/results-crawler/internal/queue/postgres"
	storepg "github.com/cs2watch/results-crawler/internal/store/postgres"
	"github.com/cs2watch/results-crawler/internal/storage/gcs"
	"github.com/cs2watch/results-crawler/internal/storage/local"
	"github.com/cs2watch/results-crawler/internal/storage/memory"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Run one full crawl over the configured date window",
		Long: `Walks the results listing for the configured window, seeds the match
queue, then drains the match, map, and demo stages in order. Prints the
run report as JSON on completion.`,
		RunE: runCrawl,
	}
}

func runCrawl(cmd *cobra.Command, _ []string) error {
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
	run, _, cleanup, err := buildPipeline(ctx, pool, clock)
	if err != nil {
		return err
	}
	defer cleanup()

	result, runErr := runOnce(ctx, run, clock)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(result); encErr != nil {
		logger.Warn("encode run report failed", zap.Error(encErr))
	}
	return runErr
}

// runOnce resolves the window against the clock and executes one pipeline
// run, so serve mode's periodic runs track the moving window.
func runOnce(ctx context.Context, run *pipeline.Pipeline, clock crawl.Clock) (pipeline.RunResult, error) {
	from, to, err := cfg.Window(clock.Now())
	if err != nil {
		return pipeline.RunResult{}, err
	}
	return run.Run(ctx, pipeline.Config{
		From:         from,
		To:           to,
		MaxAttempts:  cfg.Crawler.RunRetries,
		RetryBackoff: time.Duration(cfg.Crawler.RunBackoffSec) * time.Second,
		Topic:        cfg.PubSub.TopicName,
	})
}

// buildPipeline wires the full crawl stack against an existing pool. The
// cleanup func releases the headless browser and the pubsub client.
func buildPipeline(ctx context.Context, pool *pgxpool.Pool, clock crawl.Clock) (*pipeline.Pipeline, map[crawl.Stage]crawl.WorkQueue, func(), error) {
	queues, err := buildQueues(pool, clock)
	if err != nil {
		return nil, nil, nil, err
	}

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	pub, closePub, err := buildPublisher(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	probe, page, closeFetcher, err := buildFetcher(cfg, logger)
	if err != nil {
		closePub()
		return nil, nil, nil, err
	}
	cleanup := func() {
		closeFetcher()
		closePub()
	}

	pause := crawl.NewPoliteDelay(
		time.Duration(cfg.Crawler.DelayMs)*time.Millisecond,
		time.Duration(cfg.Crawler.JitterMs)*time.Millisecond,
	)

	stages, err := buildStages(cfg, pool, blobs, queues, page, pub, clock, pause)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}

	cursor, err := discovery.NewCursor(discovery.Config{
		BaseURL:  cfg.Discovery.BaseURL,
		PageSize: cfg.Discovery.PageSize,
		MaxItems: cfg.Discovery.MaxItems,
		MaxPages: cfg.Discovery.MaxPages,
	}, probe, parser.NewResultsParser(logger), queues[crawl.StageMatch], pause, logger)
	if err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("init discovery: %w", err)
	}

	run, err := pipeline.New(cursor, stages, queues, pub, uuid.NewGenerator(), clock, logger)
	if err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("init pipeline: %w", err)
	}
	return run, queues, cleanup, nil
}

func buildQueues(pool *pgxpool.Pool, clock crawl.Clock) (map[crawl.Stage]crawl.WorkQueue, error) {
	retries := cfg.Crawler.MaxRetries
	matchQueue, err := queuepg.NewMatchQueue(pool, retries, clock, logger)
	if err != nil {
		return nil, err
	}
	mapQueue, err := queuepg.NewMapQueue(pool, retries, clock, logger)
	if err != nil {
		return nil, err
	}
	demoQueue, err := queuepg.NewDemoQueue(pool, retries, clock, logger)
	if err != nil {
		return nil, err
	}
	return map[crawl.Stage]crawl.WorkQueue{
		crawl.StageMatch: matchQueue,
		crawl.StageMap:   mapQueue,
		crawl.StageDemo:  demoQueue,
	}, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (crawl.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		return gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
	case "local":
		return local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
	case "memory":
		return memory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (crawl.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		return nil, func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("init pubsub client: %w", err)
	}
	pub, err := pubsubpublisher.New(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	closeFn := func() {
		pub.Close()
		_ = client.Close()
	}
	return pub, closeFn, nil
}

// buildFetcher returns the discovery (probe-only) fetcher, the page fetcher
// used by the stage controllers, and a cleanup func. The page fetcher gets
// headless promotion when enabled, because match pages hydrate demo links
// client side while the results listing renders server side.
func buildFetcher(cfg config.Config, logger *zap.Logger) (crawl.Fetcher, crawl.Fetcher, func(), error) {
	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.Crawler.UserAgent,
		Timeout:     time.Duration(cfg.Crawler.TimeoutSeconds) * time.Second,
		Concurrency: 1,
	}, logger)

	if !cfg.Headless.Enabled {
		return probe, probe, func() {}, nil
	}

	chrome, err := headless.NewChromedp(headless.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.Crawler.UserAgent,
		NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
	})
	if err != nil {
		logger.Warn("headless fetcher unavailable, probe only", zap.Error(err))
		return probe, probe, func() {}, nil
	}

	promoted := fetcher.NewPromoting(probe, chrome, detector.NewHeuristic(cfg.Headless.PromotionThresh), logger)
	return probe, promoted, chrome.Close, nil
}

func buildStages(
	cfg config.Config,
	pool *pgxpool.Pool,
	blobs crawl.BlobStore,
	queues map[crawl.Stage]crawl.WorkQueue,
	page crawl.Fetcher,
	pub crawl.Publisher,
	clock crawl.Clock,
	pause crawl.Pauser,
) ([]pipeline.StageRunner, error) {
	matchStore, err := storepg.NewMatchStore(pool, clock)
	if err != nil {
		return nil, err
	}
	mapStore, err := storepg.NewMapStatsStore(pool, clock)
	if err != nil {
		return nil, err
	}
	demoStore, err := storepg.NewDemoStore(pool, blobs, clock)
	if err != nil {
		return nil, err
	}

	hasher := sha256.New()
	batch := cfg.Crawler.BatchSize
	itemTopic := cfg.PubSub.ItemTopicName

	matchCtl, err := controller.New(
		controller.Config{Stage: crawl.StageMatch, BatchSize: batch, Topic: itemTopic},
		queues[crawl.StageMatch], page, parser.NewMatchParser(logger), matchStore, pub,
		map[crawl.Stage]crawl.WorkQueue{
			crawl.StageMap:  queues[crawl.StageMap],
			crawl.StageDemo: queues[crawl.StageDemo],
		},
		pause, logger,
	)
	if err != nil {
		return nil, fmt.Errorf("init match controller: %w", err)
	}

	mapCtl, err := controller.New(
		controller.Config{Stage: crawl.StageMap, BatchSize: batch, Topic: itemTopic},
		queues[crawl.StageMap], page, parser.NewMapStatsParser(logger), mapStore, pub,
		nil, pause, logger,
	)
	if err != nil {
		return nil, fmt.Errorf("init map controller: %w", err)
	}

	demoCtl, err := controller.New(
		controller.Config{Stage: crawl.StageDemo, BatchSize: batch, Topic: itemTopic},
		queues[crawl.StageDemo], page, parser.NewDemoParser(hasher), demoStore, pub,
		nil, pause, logger,
	)
	if err != nil {
		return nil, fmt.Errorf("init demo controller: %w", err)
	}

	return []pipeline.StageRunner{matchCtl, mapCtl, demoCtl}, nil
}
