// Package memory provides an in-memory work queue for local development and
// tests. It mirrors the Postgres queue's semantics, including the retry
// ceiling and fetch ordering.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cs2watch/results-crawler/internal/crawl"
)

// Queue is a mutex-guarded crawl.WorkQueue.
type Queue struct {
	mu         sync.Mutex
	items      map[string]*crawl.WorkItem
	maxRetries int
	clock      crawl.Clock
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Option customizes a Queue.
type Option func(*Queue)

// WithClock overrides the queue's time source.
func WithClock(c crawl.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithMaxRetries overrides the retry ceiling.
func WithMaxRetries(n int) Option {
	return func(q *Queue) { q.maxRetries = n }
}

// New builds an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		items:      make(map[string]*crawl.WorkItem),
		maxRetries: crawl.DefaultMaxRetries,
		clock:      systemClock{},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue inserts a queued item if absent; duplicates are a no-op.
func (q *Queue) Enqueue(_ context.Context, id, url, source string, priority int) error {
	if id == "" {
		return fmt.Errorf("enqueue: id is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.items[id]; ok {
		return nil
	}
	now := q.clock.Now()
	q.items[id] = &crawl.WorkItem{
		ID:            id,
		URL:           url,
		Status:        crawl.StatusQueued,
		Priority:      priority,
		Source:        source,
		InsertedAt:    now,
		LastUpdatedAt: now,
	}
	return nil
}

// EnqueueBatch enqueues every ref; in-memory inserts cannot partially fail.
func (q *Queue) EnqueueBatch(ctx context.Context, refs []crawl.Ref, source string, priority int) error {
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("enqueue batch: %w", err)
		}
		if err := q.Enqueue(ctx, ref.ID, ref.URL, source, priority); err != nil {
			return err
		}
	}
	return nil
}

// FetchBatch returns unfinished items below the retry ceiling, ordered by
// priority desc then oldest update first. Failed items with retries left
// stay eligible, matching the Postgres queue.
func (q *Queue) FetchBatch(_ context.Context, limit int) ([]crawl.Ref, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	eligible := make([]*crawl.WorkItem, 0, len(q.items))
	for _, item := range q.items {
		if item.Status != crawl.StatusParsed && item.RetryCount < q.maxRetries {
			eligible = append(eligible, item)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return eligible[i].LastUpdatedAt.Before(eligible[j].LastUpdatedAt)
	})
	if limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}
	refs := make([]crawl.Ref, 0, len(eligible))
	for _, item := range eligible {
		refs = append(refs, crawl.Ref{ID: item.ID, URL: item.URL})
	}
	return refs, nil
}

// MarkParsed records terminal success.
func (q *Queue) MarkParsed(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return fmt.Errorf("mark parsed: unknown id %q", id)
	}
	item.Status = crawl.StatusParsed
	item.LastUpdatedAt = q.clock.Now()
	return nil
}

// MarkFailed records a failed attempt.
func (q *Queue) MarkFailed(_ context.Context, id, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return fmt.Errorf("mark failed: unknown id %q", id)
	}
	item.Status = crawl.StatusFailed
	item.RetryCount++
	if len(reason) > 500 {
		reason = reason[:500]
	}
	item.LastError = reason
	item.LastUpdatedAt = q.clock.Now()
	return nil
}

// ResetFailed returns an item to queued with retry state cleared.
func (q *Queue) ResetFailed(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return fmt.Errorf("reset failed: unknown id %q", id)
	}
	item.Status = crawl.StatusQueued
	item.RetryCount = 0
	item.LastError = ""
	item.LastUpdatedAt = q.clock.Now()
	return nil
}

// Stats counts items per status.
func (q *Queue) Stats(_ context.Context) (crawl.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var stats crawl.QueueStats
	for _, item := range q.items {
		switch item.Status {
		case crawl.StatusQueued:
			stats.Queued++
		case crawl.StatusParsed:
			stats.Parsed++
		case crawl.StatusFailed:
			stats.Failed++
			if item.RetryCount >= q.maxRetries {
				stats.Exhausted++
			}
		}
	}
	return stats, nil
}

// Get returns a copy of a tracked item, for tests and the ops API.
func (q *Queue) Get(id string) (crawl.WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return crawl.WorkItem{}, false
	}
	return *item, true
}

// GetItem is the ops lookup, shaped like the Postgres queue's.
func (q *Queue) GetItem(_ context.Context, id string) (crawl.WorkItem, error) {
	item, ok := q.Get(id)
	if !ok {
		return crawl.WorkItem{}, fmt.Errorf("unknown id %q", id)
	}
	return item, nil
}
