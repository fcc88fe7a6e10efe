// Package pipeline orchestrates a full crawl run: discovery followed by the
// match, map, and demo stages in order.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cs2watch/results-crawler/internal/controller"
	"github.com/cs2watch/results-crawler/internal/crawl"
	"github.com/cs2watch/results-crawler/internal/discovery"
	"github.com/cs2watch/results-crawler/internal/metrics"
)

// Discoverer seeds the match queue for a date window.
type Discoverer interface {
	Run(ctx context.Context, from, to time.Time) (discovery.Result, error)
}

// StageRunner drains one stage queue.
type StageRunner interface {
	Stage() crawl.Stage
	Drain(ctx context.Context) (controller.Report, error)
}

// Config tunes one pipeline run.
type Config struct {
	From time.Time
	To   time.Time
	// MaxAttempts bounds full-cycle retries. A cycle that finds nothing,
	// loses discovery, or fails a stage consumes an attempt; zero means a
	// single attempt.
	MaxAttempts int
	// RetryBackoff is the wait between failed cycles.
	RetryBackoff time.Duration
	// Topic, when set, receives a completion event per run.
	Topic string
}

// RunResult is the report for one pipeline run.
type RunResult struct {
	RunID      string                           `json:"run_id"`
	From       time.Time                        `json:"from"`
	To         time.Time                        `json:"to"`
	StartedAt  time.Time                        `json:"started_at"`
	FinishedAt time.Time                        `json:"finished_at"`
	Discovered int                              `json:"discovered"`
	Stages     []controller.Report              `json:"stages"`
	Queues     map[crawl.Stage]crawl.QueueStats `json:"queues"`
}

// Pipeline runs stages strictly in order so downstream queues are fully
// seeded before their controllers start.
type Pipeline struct {
	discoverer Discoverer
	stages     []StageRunner
	queues     map[crawl.Stage]crawl.WorkQueue
	publisher  crawl.Publisher
	ids        crawl.IDGenerator
	clock      crawl.Clock
	logger     *zap.Logger
}

// New builds a Pipeline. The stage order given here is the execution order.
func New(
	discoverer Discoverer,
	stages []StageRunner,
	queues map[crawl.Stage]crawl.WorkQueue,
	publisher crawl.Publisher,
	ids crawl.IDGenerator,
	clock crawl.Clock,
	logger *zap.Logger,
) (*Pipeline, error) {
	if discoverer == nil {
		return nil, fmt.Errorf("discoverer is required")
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Pipeline{
		discoverer: discoverer,
		stages:     stages,
		queues:     queues,
		publisher:  publisher,
		ids:        ids,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Run executes one full crawl. A cycle is discovery followed by the stage
// drains in order; a cycle that finds nothing, loses discovery, or fails a
// stage is retried after a backoff up to the attempt ceiling. Re-running a
// cycle is safe because enqueues and stores are idempotent and drains resume
// from queue state.
func (p *Pipeline) Run(ctx context.Context, cfg Config) (RunResult, error) {
	runID, err := p.ids.NewID()
	if err != nil {
		return RunResult{}, fmt.Errorf("generate run id: %w", err)
	}

	result := RunResult{
		RunID:     runID,
		From:      cfg.From,
		To:        cfg.To,
		StartedAt: p.clock.Now(),
	}
	logger := p.logger.With(zap.String("run_id", runID))
	logger.Info("pipeline run started",
		zap.Time("from", cfg.From),
		zap.Time("to", cfg.To),
	)

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		cycleErr := p.cycle(ctx, cfg, &result, logger)
		if cycleErr == nil {
			p.finish(ctx, &result, logger, "success", cfg.Topic)
			return result, nil
		}
		if ctx.Err() != nil {
			p.finish(ctx, &result, logger, "failed", cfg.Topic)
			return result, cycleErr
		}
		lastErr = cycleErr
		if attempt == attempts {
			break
		}

		logger.Warn("cycle failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", cfg.RetryBackoff),
			zap.Error(cycleErr),
		)
		if cfg.RetryBackoff > 0 {
			timer := time.NewTimer(cfg.RetryBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				p.finish(ctx, &result, logger, "failed", cfg.Topic)
				return result, ctx.Err()
			case <-timer.C:
			}
		}
	}

	p.finish(ctx, &result, logger, "failed", cfg.Topic)
	return result, fmt.Errorf("run failed after %d attempt(s): %w", attempts, lastErr)
}

// cycle runs discovery and the stage drains once, resetting the per-cycle
// parts of the result so a retried cycle does not double-count.
func (p *Pipeline) cycle(ctx context.Context, cfg Config, result *RunResult, logger *zap.Logger) error {
	result.Discovered = 0
	result.Stages = result.Stages[:0]

	disc, err := p.discoverer.Run(ctx, cfg.From, cfg.To)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	if disc.Discovered == 0 {
		// A vanished results listing means the site changed or is
		// blocking us; succeeding silently would mask it.
		return fmt.Errorf("discovery found no matches in window")
	}
	result.Discovered = disc.Discovered
	logger.Info("discovery finished",
		zap.Int("pages", disc.PagesFetched),
		zap.Int("enqueued", disc.Enqueued),
		zap.Bool("halted", disc.Halted),
	)

	for _, stage := range p.stages {
		report, err := stage.Drain(ctx)
		result.Stages = append(result.Stages, report)
		if err != nil {
			return fmt.Errorf("drain %s stage: %w", stage.Stage(), err)
		}
		logger.Info("stage drained",
			zap.String("stage", string(stage.Stage())),
			zap.Int("parsed", report.Parsed),
			zap.Int("failed", report.Failed),
			zap.Int("fanned_out", report.FannedOut),
		)
	}
	return nil
}

// finish stamps the result, refreshes queue gauges, and publishes the run
// event. Publish failures are logged, not fatal: the crawl's data is already
// durable.
func (p *Pipeline) finish(ctx context.Context, result *RunResult, logger *zap.Logger, outcome, topic string) {
	result.FinishedAt = p.clock.Now()
	result.Queues = p.collectStats(ctx)
	metrics.ObserveRun(outcome)
	for stage, stats := range result.Queues {
		metrics.SetQueueDepth(string(stage), "queued", stats.Queued)
		metrics.SetQueueDepth(string(stage), "parsed", stats.Parsed)
		metrics.SetQueueDepth(string(stage), "failed", stats.Failed)
		metrics.SetQueueDepth(string(stage), "exhausted", stats.Exhausted)
	}

	logger.Info("pipeline run finished",
		zap.String("outcome", outcome),
		zap.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)),
	)

	if p.publisher == nil || topic == "" {
		return
	}
	event := struct {
		RunResult
		Outcome string `json:"outcome"`
	}{RunResult: *result, Outcome: outcome}
	if _, err := p.publisher.Publish(ctx, topic, event); err != nil {
		logger.Warn("run event publish failed", zap.Error(err))
	}
}

func (p *Pipeline) collectStats(ctx context.Context) map[crawl.Stage]crawl.QueueStats {
	out := make(map[crawl.Stage]crawl.QueueStats, len(p.queues))
	for stage, queue := range p.queues {
		stats, err := queue.Stats(ctx)
		if err != nil {
			p.logger.Warn("queue stats unavailable",
				zap.String("stage", string(stage)),
				zap.Error(err),
			)
			continue
		}
		out[stage] = stats
	}
	return out
}
