// Package controller drives one queue stage: fetch, parse, store, fan out.
package controller

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cs2watch/results-crawler/internal/crawl"
	"github.com/cs2watch/results-crawler/internal/metrics"
)

// DefaultBatchSize bounds one FetchBatch call.
const DefaultBatchSize = 50

// Config tunes a Controller.
type Config struct {
	Stage     crawl.Stage
	BatchSize int
	// Topic, when set together with a publisher, receives an event per
	// parsed item.
	Topic string
}

// Controller processes one stage's queue. The per-item order is fetch,
// parse, store, fan out, and only then MarkParsed: a crash mid-item leaves
// the row queued and the whole item is redone, which is safe because stores
// and enqueues are idempotent.
type Controller[E any] struct {
	cfg       Config
	queue     crawl.WorkQueue
	fetcher   crawl.Fetcher
	parser    crawl.Parser[E]
	store     crawl.Store[E]
	publisher crawl.Publisher
	fanOut    map[crawl.Stage]crawl.WorkQueue
	pause     crawl.Pauser
	logger    *zap.Logger
}

// Report summarizes the items touched by one batch or drain.
type Report struct {
	Stage     crawl.Stage
	Attempted int
	Parsed    int
	Failed    int
	FannedOut int
}

func (r Report) add(other Report) Report {
	r.Attempted += other.Attempted
	r.Parsed += other.Parsed
	r.Failed += other.Failed
	r.FannedOut += other.FannedOut
	return r
}

// New builds a Controller. fanOut maps downstream stages to their queues and
// may be nil for leaf stages; a nil publisher disables item events.
func New[E any](
	cfg Config,
	queue crawl.WorkQueue,
	fetcher crawl.Fetcher,
	parser crawl.Parser[E],
	store crawl.Store[E],
	publisher crawl.Publisher,
	fanOut map[crawl.Stage]crawl.WorkQueue,
	pause crawl.Pauser,
	logger *zap.Logger,
) (*Controller[E], error) {
	if cfg.Stage == "" {
		return nil, fmt.Errorf("stage is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if queue == nil || fetcher == nil || parser == nil || store == nil {
		return nil, fmt.Errorf("queue, fetcher, parser, and store are required")
	}
	if pause == nil {
		pause = crawl.NoDelay{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Controller[E]{
		cfg:       cfg,
		queue:     queue,
		fetcher:   fetcher,
		parser:    parser,
		store:     store,
		publisher: publisher,
		fanOut:    fanOut,
		pause:     pause,
		logger:    logger.With(zap.String("stage", string(cfg.Stage))),
	}, nil
}

// Stage returns the stage this controller drives.
func (c *Controller[E]) Stage() crawl.Stage {
	return c.cfg.Stage
}

// RunBatch fetches one batch and processes it. Item failures are recorded on
// the queue, not returned; only context cancellation and queue transport
// errors abort the batch. Cancellation mid-batch leaves untouched items
// queued.
func (c *Controller[E]) RunBatch(ctx context.Context) (Report, error) {
	report := Report{Stage: c.cfg.Stage}

	refs, err := c.queue.FetchBatch(ctx, c.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("fetch %s batch: %w", c.cfg.Stage, err)
	}

	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Attempted++

		fanned, err := c.processItem(ctx, ref)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				// The item stays queued for the next run.
				return report, err
			}
			report.Failed++
			metrics.ObserveFailed(string(c.cfg.Stage))
			c.logger.Warn("item failed",
				zap.String("id", ref.ID),
				zap.String("url", ref.URL),
				zap.Error(err),
			)
			if markErr := c.queue.MarkFailed(ctx, ref.ID, err.Error()); markErr != nil {
				return report, fmt.Errorf("mark %s failed: %w", ref.ID, markErr)
			}
		} else {
			report.Parsed++
			report.FannedOut += fanned
			metrics.ObserveParsed(string(c.cfg.Stage))
		}

		if i < len(refs)-1 {
			c.pause.Pause(ctx)
		}
	}
	return report, nil
}

// Drain runs batches until the queue yields nothing.
func (c *Controller[E]) Drain(ctx context.Context) (Report, error) {
	total := Report{Stage: c.cfg.Stage}
	for {
		report, err := c.RunBatch(ctx)
		total = total.add(report)
		if err != nil {
			return total, err
		}
		if report.Attempted == 0 {
			return total, nil
		}
	}
}

func (c *Controller[E]) processItem(ctx context.Context, ref crawl.Ref) (int, error) {
	page, err := c.fetcher.Fetch(ctx, ref.URL)
	if err != nil {
		metrics.ObserveFetch(string(c.cfg.Stage), metrics.StatusClass(page.StatusCode), page.Duration)
		return 0, err
	}
	metrics.ObserveFetch(string(c.cfg.Stage), metrics.StatusClass(page.StatusCode), page.Duration)

	entity, followUps, err := c.parser.Parse(page)
	if err != nil {
		return 0, err
	}

	if err := c.store.Upsert(ctx, entity); err != nil {
		return 0, err
	}

	// Fan out before marking parsed: losing the mark re-runs the item, but
	// losing the fan-out would orphan downstream work.
	fanned := 0
	for _, f := range followUps {
		downstream, ok := c.fanOut[f.Stage]
		if !ok {
			c.logger.Warn("no queue for follow-up stage",
				zap.String("follow_up_stage", string(f.Stage)),
				zap.String("id", f.Ref.ID),
			)
			continue
		}
		if err := downstream.Enqueue(ctx, f.Ref.ID, f.Ref.URL, string(c.cfg.Stage), 0); err != nil {
			return fanned, fmt.Errorf("fan out %s to %s: %w", f.Ref.ID, f.Stage, err)
		}
		fanned++
		metrics.ObserveEnqueued(string(f.Stage), 1)
	}

	if err := c.queue.MarkParsed(ctx, ref.ID); err != nil {
		return fanned, fmt.Errorf("mark %s parsed: %w", ref.ID, err)
	}

	// Item events are best effort; the parse is already durable.
	if c.publisher != nil && c.cfg.Topic != "" {
		event := struct {
			Stage     string `json:"stage"`
			ID        string `json:"id"`
			URL       string `json:"url"`
			FannedOut int    `json:"fanned_out"`
		}{string(c.cfg.Stage), ref.ID, ref.URL, fanned}
		if _, err := c.publisher.Publish(ctx, c.cfg.Topic, event); err != nil {
			c.logger.Warn("item event publish failed",
				zap.String("id", ref.ID),
				zap.Error(err),
			)
		}
	}
	return fanned, nil
}
