package headless

import (
	"context"
	"errors"

	"github.com/cs2watch/results-crawler/internal/crawl"
)

// ErrDisabled is returned by the Disabled fetcher for every request.
var ErrDisabled = errors.New("headless rendering disabled")

// Disabled satisfies crawl.Fetcher on deployments without a Chrome binary.
// Promotions fail fast instead of hanging on browser startup.
type Disabled struct{}

// Fetch always fails with ErrDisabled.
func (Disabled) Fetch(_ context.Context, rawURL string) (crawl.Page, error) {
	return crawl.Page{}, crawl.NewFetchError(rawURL, 0, ErrDisabled)
}

// Close is a no-op so Disabled can stand in for the chromedp fetcher.
func (Disabled) Close() {}
