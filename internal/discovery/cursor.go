// Package discovery walks the paginated results listing and seeds the match
// queue.
package discovery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cs2watch/results-crawler/internal/crawl"
)

// DefaultPageSize is the listing page stride. The results listing serves 100
// matches per page regardless of the requested size.
const DefaultPageSize = 100

// Config tunes one discovery run.
type Config struct {
	BaseURL  string
	PageSize int
	// MaxItems caps enqueued matches per run; zero means unbounded.
	MaxItems int
	// MaxPages is a safety bound on listing pagination; zero means unbounded.
	MaxPages int
}

// Cursor pages through the results listing, newest first, collecting match
// references that fall inside a date window.
type Cursor struct {
	cfg     Config
	fetcher crawl.Fetcher
	parser  crawl.SectionParser
	queue   crawl.WorkQueue
	policy  *crawl.RetryPolicy
	pause   crawl.Pauser
	logger  *zap.Logger
}

// Result summarizes one discovery run.
type Result struct {
	PagesFetched int
	Discovered   int
	Enqueued     int
	// Halted is true when a section older than the window's start was seen,
	// short-circuiting the remaining (even older) pages.
	Halted bool
}

// NewCursor builds a Cursor.
func NewCursor(cfg Config, fetcher crawl.Fetcher, parser crawl.SectionParser, queue crawl.WorkQueue, pause crawl.Pauser, logger *zap.Logger) (*Cursor, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if fetcher == nil || parser == nil || queue == nil {
		return nil, fmt.Errorf("fetcher, parser, and queue are required")
	}
	if pause == nil {
		pause = crawl.NoDelay{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cursor{
		cfg:     cfg,
		fetcher: fetcher,
		parser:  parser,
		queue:   queue,
		policy:  crawl.NewRetryPolicy(),
		pause:   pause,
		logger:  logger,
	}, nil
}

// Run walks listing pages from offset zero until the window start is passed,
// the listing runs out, or a cap is hit. Matches dated inside [from, to] are
// enqueued; newer sections are skipped, and the first older section halts
// the walk because the listing is strictly newest-first.
func (c *Cursor) Run(ctx context.Context, from, to time.Time) (Result, error) {
	if to.Before(from) {
		return Result{}, fmt.Errorf("window end %s precedes start %s", to.Format(time.DateOnly), from.Format(time.DateOnly))
	}

	var res Result
	for offset := 0; ; offset += c.cfg.PageSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if c.cfg.MaxPages > 0 && res.PagesFetched >= c.cfg.MaxPages {
			c.logger.Warn("discovery stopped at page cap", zap.Int("max_pages", c.cfg.MaxPages))
			return res, nil
		}

		pageURL := fmt.Sprintf("%s/results?offset=%d", c.cfg.BaseURL, offset)
		page, err := c.fetchWithRetry(ctx, pageURL)
		if err != nil {
			return res, fmt.Errorf("fetch listing page %d: %w", offset/c.cfg.PageSize, err)
		}
		res.PagesFetched++

		sections, err := c.parser.ParseSections(page)
		if err != nil {
			return res, fmt.Errorf("parse listing page %d: %w", offset/c.cfg.PageSize, err)
		}
		if len(sections) == 0 {
			c.logger.Info("listing exhausted", zap.Int("offset", offset))
			return res, nil
		}

		pageRefs := 0
		futureSections := 0
		for _, section := range sections {
			switch {
			case section.Date.After(to):
				// Newer than the window; keep walking toward it.
				futureSections++
				continue
			case section.Date.Before(from):
				res.Halted = true
				c.logger.Info("discovery window passed",
					zap.Time("section_date", section.Date),
					zap.Time("window_start", from),
				)
				return res, nil
			}

			refs := section.Refs
			if c.cfg.MaxItems > 0 {
				remaining := c.cfg.MaxItems - res.Discovered
				if remaining <= 0 {
					c.logger.Warn("discovery stopped at item cap", zap.Int("max_items", c.cfg.MaxItems))
					return res, nil
				}
				if len(refs) > remaining {
					refs = refs[:remaining]
				}
			}
			res.Discovered += len(refs)
			if err := c.queue.EnqueueBatch(ctx, refs, "discovery", 0); err != nil {
				return res, fmt.Errorf("enqueue matches for %s: %w", section.Date.Format(time.DateOnly), err)
			}
			res.Enqueued += len(refs)
			pageRefs += len(refs)
		}

		// A page of in-window sections with no references means the listing
		// ran dry; a page of only too-new sections does not, we are still
		// walking toward the window.
		if pageRefs == 0 && futureSections == 0 {
			c.logger.Info("listing produced no references", zap.Int("offset", offset))
			return res, nil
		}

		c.pause.Pause(ctx)
	}
}

func (c *Cursor) fetchWithRetry(ctx context.Context, url string) (crawl.Page, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		page, err := c.fetcher.Fetch(ctx, url)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if !c.policy.ShouldRetry(err, attempt+1) {
			return crawl.Page{}, lastErr
		}
		c.logger.Warn("listing fetch failed, retrying",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		backoff := time.NewTimer(c.policy.Backoff(attempt))
		select {
		case <-ctx.Done():
			backoff.Stop()
			return crawl.Page{}, ctx.Err()
		case <-backoff.C:
		}
	}
}
