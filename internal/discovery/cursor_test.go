package discovery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cs2watch/results-crawler/internal/crawl"
	queuemem "github.com/cs2watch/results-crawler/internal/queue/memory"
)

// pagedFetcher serves canned sections keyed by offset; the "body" of each
// page is its URL so the parser can look the sections up.
type pagedFetcher struct {
	failures map[string][]error
	calls    []string
}

func (f *pagedFetcher) Fetch(_ context.Context, url string) (crawl.Page, error) {
	f.calls = append(f.calls, url)
	if errs := f.failures[url]; len(errs) > 0 {
		err := errs[0]
		f.failures[url] = errs[1:]
		return crawl.Page{}, err
	}
	return crawl.Page{URL: url, StatusCode: 200, Body: []byte(url)}, nil
}

type cannedParser struct {
	sections map[string][]crawl.Section
}

func (p *cannedParser) ParseSections(page crawl.Page) ([]crawl.Section, error) {
	return p.sections[page.URL], nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func refs(ids ...string) []crawl.Ref {
	out := make([]crawl.Ref, 0, len(ids))
	for _, id := range ids {
		out = append(out, crawl.Ref{ID: id, URL: "https://www.hltv.org/matches/" + id + "/x"})
	}
	return out
}

func pageURL(offset int) string {
	return fmt.Sprintf("https://www.hltv.org/results?offset=%d", offset)
}

func newCursor(t *testing.T, cfg Config, fetcher crawl.Fetcher, parser crawl.SectionParser) (*Cursor, *queuemem.Queue) {
	t.Helper()

	queue := queuemem.New()
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.hltv.org"
	}
	c, err := NewCursor(cfg, fetcher, parser, queue, crawl.NoDelay{}, nil)
	require.NoError(t, err)
	return c, queue
}

func TestCursorHaltsPastWindowStart(t *testing.T) {
	t.Parallel()

	fetcher := &pagedFetcher{}
	parser := &cannedParser{sections: map[string][]crawl.Section{
		pageURL(0): {
			{Date: day(2025, time.March, 12), Refs: refs("300")},
			{Date: day(2025, time.March, 11), Refs: refs("201", "202")},
		},
		pageURL(100): {
			{Date: day(2025, time.March, 10), Refs: refs("101")},
			{Date: day(2025, time.March, 8), Refs: refs("90")},
		},
		// Never reached: the March 8 section halts the walk.
		pageURL(200): {
			{Date: day(2025, time.March, 7), Refs: refs("80")},
		},
	}}

	c, queue := newCursor(t, Config{}, fetcher, parser)
	res, err := c.Run(context.Background(), day(2025, time.March, 9), day(2025, time.March, 11))
	require.NoError(t, err)

	require.True(t, res.Halted)
	require.Equal(t, 2, res.PagesFetched)
	require.Equal(t, 3, res.Discovered)
	require.Equal(t, 3, res.Enqueued)

	stats, err := queue.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.Queued)

	// March 12 is newer than the window, March 8 older; neither enqueues.
	for _, id := range []string{"201", "202", "101"} {
		_, ok := queue.Get(id)
		require.True(t, ok, id)
	}
	_, ok := queue.Get("300")
	require.False(t, ok)
	_, ok = queue.Get("90")
	require.False(t, ok)
}

func TestCursorStopsOnEmptyListing(t *testing.T) {
	t.Parallel()

	fetcher := &pagedFetcher{}
	parser := &cannedParser{sections: map[string][]crawl.Section{
		pageURL(0): {{Date: day(2025, time.March, 10), Refs: refs("1")}},
	}}

	c, _ := newCursor(t, Config{}, fetcher, parser)
	res, err := c.Run(context.Background(), day(2025, time.March, 1), day(2025, time.March, 31))
	require.NoError(t, err)

	require.False(t, res.Halted)
	require.Equal(t, 2, res.PagesFetched)
	require.Equal(t, 1, res.Enqueued)
}

func TestCursorStopsWhenPageYieldsNoReferences(t *testing.T) {
	t.Parallel()

	fetcher := &pagedFetcher{}
	parser := &cannedParser{sections: map[string][]crawl.Section{
		pageURL(0): {{Date: day(2025, time.March, 10), Refs: refs("1")}},
		// In-window sections with no match anchors must stop the walk, not
		// page on until the cap.
		pageURL(100): {
			{Date: day(2025, time.March, 9)},
			{Date: day(2025, time.March, 8)},
		},
		pageURL(200): {{Date: day(2025, time.March, 7), Refs: refs("2")}},
	}}

	c, _ := newCursor(t, Config{}, fetcher, parser)
	res, err := c.Run(context.Background(), day(2025, time.March, 1), day(2025, time.March, 31))
	require.NoError(t, err)

	require.False(t, res.Halted)
	require.Equal(t, 2, res.PagesFetched)
	require.Equal(t, 1, res.Enqueued)
}

func TestCursorPagesPastFutureOnlySections(t *testing.T) {
	t.Parallel()

	fetcher := &pagedFetcher{}
	parser := &cannedParser{sections: map[string][]crawl.Section{
		// Entirely newer than the window: keep walking toward it.
		pageURL(0):   {{Date: day(2025, time.March, 20), Refs: refs("300")}},
		pageURL(100): {{Date: day(2025, time.March, 10), Refs: refs("1", "2")}},
	}}

	c, _ := newCursor(t, Config{}, fetcher, parser)
	res, err := c.Run(context.Background(), day(2025, time.March, 1), day(2025, time.March, 11))
	require.NoError(t, err)

	require.Equal(t, 2, res.Enqueued)
	require.GreaterOrEqual(t, res.PagesFetched, 2)
}

func TestCursorRetriesTransientListingFailures(t *testing.T) {
	t.Parallel()

	fetcher := &pagedFetcher{failures: map[string][]error{
		pageURL(0): {crawl.NewFetchError(pageURL(0), 503, errors.New("unavailable"))},
	}}
	parser := &cannedParser{sections: map[string][]crawl.Section{
		pageURL(0): {{Date: day(2025, time.March, 10), Refs: refs("1")}},
	}}

	c, _ := newCursor(t, Config{}, fetcher, parser)
	res, err := c.Run(context.Background(), day(2025, time.March, 1), day(2025, time.March, 31))
	require.NoError(t, err)
	require.Equal(t, 1, res.Enqueued)
	// First attempt failed, second succeeded, then the empty second page.
	require.Len(t, fetcher.calls, 3)
}

func TestCursorGivesUpOnPermanentFailure(t *testing.T) {
	t.Parallel()

	fetcher := &pagedFetcher{failures: map[string][]error{
		pageURL(0): {
			crawl.NewFetchError(pageURL(0), 404, errors.New("gone")),
		},
	}}
	parser := &cannedParser{}

	c, _ := newCursor(t, Config{}, fetcher, parser)
	_, err := c.Run(context.Background(), day(2025, time.March, 1), day(2025, time.March, 31))
	require.Error(t, err)
	require.Len(t, fetcher.calls, 1)
}

func TestCursorHonorsItemCap(t *testing.T) {
	t.Parallel()

	fetcher := &pagedFetcher{}
	parser := &cannedParser{sections: map[string][]crawl.Section{
		pageURL(0): {
			{Date: day(2025, time.March, 10), Refs: refs("1", "2", "3", "4", "5")},
		},
	}}

	c, queue := newCursor(t, Config{MaxItems: 3}, fetcher, parser)
	res, err := c.Run(context.Background(), day(2025, time.March, 1), day(2025, time.March, 31))
	require.NoError(t, err)
	require.Equal(t, 3, res.Enqueued)

	stats, err := queue.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.Queued)
}

func TestCursorRejectsInvertedWindow(t *testing.T) {
	t.Parallel()

	c, _ := newCursor(t, Config{}, &pagedFetcher{}, &cannedParser{})
	_, err := c.Run(context.Background(), day(2025, time.March, 10), day(2025, time.March, 1))
	require.Error(t, err)
}
