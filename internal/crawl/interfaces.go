package crawl

import (
	"context"
	"time"
)

// WorkQueue is a persistent, idempotent queue over one entity kind.
//
// Enqueue is insert-if-absent: re-discovering an id is a no-op, never an
// error. FetchBatch does not reserve rows; correctness relies on a single
// worker per queue (a multi-worker deployment would need row claiming).
type WorkQueue interface {
	Enqueue(ctx context.Context, id, url, source string, priority int) error
	EnqueueBatch(ctx context.Context, refs []Ref, source string, priority int) error
	// FetchBatch returns queued items below the retry ceiling, ordered by
	// priority desc then last_updated_at asc, capped at limit.
	FetchBatch(ctx context.Context, limit int) ([]Ref, error)
	MarkParsed(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
	// ResetFailed returns a failed item to queued with its retry count and
	// last error cleared. Manual recovery only; the pipeline never calls it.
	ResetFailed(ctx context.Context, id string) error
	Stats(ctx context.Context) (QueueStats, error)
}

// Fetcher retrieves raw page content for a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// Parser turns raw content into a structured entity plus follow-up
// references for downstream queues.
type Parser[E any] interface {
	Parse(page Page) (E, []FollowUp, error)
}

// Store idempotently persists one entity kind. Upsert must be safe to call
// more than once with the same entity.
type Store[E any] interface {
	Upsert(ctx context.Context, entity E) error
}

// SectionParser extracts date-grouped sections from a results listing page.
type SectionParser interface {
	ParseSections(page Page) ([]Section, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Pauser abstracts how crawl loops wait between requests.
type Pauser interface {
	Pause(ctx context.Context)
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
