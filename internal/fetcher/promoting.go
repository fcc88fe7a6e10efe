// Package fetcher composes the probe and headless fetchers behind a single
// crawl.Fetcher.
package fetcher

import (
	"context"

	"go.uber.org/zap"

	"github.com/cs2watch/results-crawler/internal/crawl"
	"github.com/cs2watch/results-crawler/internal/metrics"
)

// Detector reports whether a probe result needs a JavaScript render.
type Detector interface {
	ShouldPromote(page crawl.Page) bool
}

// Promoting tries a cheap HTTP probe first and promotes the request to a
// headless render only when the detector flags the probe result.
type Promoting struct {
	probe    crawl.Fetcher
	headless crawl.Fetcher
	detector Detector
	logger   *zap.Logger
}

// NewPromoting wires the probe, headless, and detection stages together.
func NewPromoting(probe, headless crawl.Fetcher, detector Detector, logger *zap.Logger) *Promoting {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Promoting{probe: probe, headless: headless, detector: detector, logger: logger}
}

// Fetch implements crawl.Fetcher. Probe errors propagate immediately; only a
// successful probe with a suspicious body is promoted.
func (p *Promoting) Fetch(ctx context.Context, rawURL string) (crawl.Page, error) {
	page, err := p.probe.Fetch(ctx, rawURL)
	if err != nil {
		return page, err
	}
	if p.detector == nil || !p.detector.ShouldPromote(page) {
		return page, nil
	}

	metrics.ObserveHeadlessPromotion()
	p.logger.Debug("promoting fetch to headless",
		zap.String("url", rawURL),
		zap.Int("probe_bytes", len(page.Body)),
	)
	rendered, err := p.headless.Fetch(ctx, rawURL)
	if err != nil {
		// The probe page already passed its status check; it is a better
		// answer than a failed render.
		p.logger.Warn("headless promotion failed, using probe result",
			zap.String("url", rawURL),
			zap.Error(err),
		)
		return page, nil
	}
	return rendered, nil
}
