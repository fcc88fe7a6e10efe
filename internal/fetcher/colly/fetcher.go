// Package collyfetcher implements the plain-HTTP probe fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/cs2watch/results-crawler/internal/crawl"
)

// Config controls collector behavior.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	Concurrency int
}

// Fetcher implements crawl.Fetcher with a Colly collector. Every status code
// is surfaced as a classified FetchError rather than a bare transport error
// so retry decisions stay in one place.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a probe Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := colly.NewCollector(colly.UserAgent(cfg.UserAgent))
	base.AllowURLRevisit = true
	base.IgnoreRobotsTxt = true
	// Error statuses flow through OnResponse so they can be classified with
	// their bodies intact.
	base.ParseHTTPErrorResponse = true
	base.SetRequestTimeout(cfg.Timeout)
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		MaxConnsPerHost:       cfg.Concurrency * 2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ForceAttemptHTTP2:     true,
	})

	return &Fetcher{cfg: cfg, baseCollector: base, logger: logger}
}

type fetchResult struct {
	page crawl.Page
	err  error
}

// Fetch retrieves one URL. The collector is cloned per call so hook state
// never leaks between requests.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (crawl.Page, error) {
	collector := f.baseCollector.Clone()
	start := time.Now()
	resultCh := make(chan fetchResult, 1)
	send := func(res fetchResult) {
		select {
		case resultCh <- res:
		default:
		}
	}

	collector.OnResponse(func(r *colly.Response) {
		page := crawl.Page{
			URL:        rawURL,
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			FetchedAt:  start,
			Duration:   time.Since(start),
		}
		if r.StatusCode >= 400 {
			send(fetchResult{page: page, err: crawl.NewFetchError(rawURL, r.StatusCode, errors.New(http.StatusText(r.StatusCode)))})
			return
		}
		send(fetchResult{page: page})
	})

	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		send(fetchResult{err: crawl.NewFetchError(rawURL, status, err)})
	})

	done := make(chan error, 1)
	go func() {
		if err := collector.Visit(rawURL); err != nil {
			done <- err
			return
		}
		collector.Wait()
		done <- nil
	}()

	select {
	case <-ctx.Done():
		return crawl.Page{}, ctx.Err()
	case err := <-done:
		if err != nil {
			return crawl.Page{}, crawl.NewFetchError(rawURL, 0, err)
		}
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			f.logger.Debug("probe fetch failed", zap.String("url", rawURL), zap.Error(res.err))
		}
		return res.page, res.err
	default:
		return crawl.Page{}, crawl.NewFetchError(rawURL, 0, errors.New("collector produced no result"))
	}
}
