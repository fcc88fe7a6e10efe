// Package postgres implements the persistent work queue on top of pgx.
//
// One table per stage (match_scrape_queue, map_scrape_queue,
// demo_scrape_queue), differing only in the id/url column names; a single
// implementation is parameterized by those identifiers.
package postgres

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/cs2watch/results-crawler/internal/crawl"
)

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// errorLimit bounds the stored last_error text.
const errorLimit = 500

// Querier is the subset of pgxpool.Pool the queue needs. pgxmock satisfies
// it for tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Config names the table and columns backing one stage queue.
type Config struct {
	Table      string
	IDColumn   string
	URLColumn  string
	MaxRetries int
}

// Queue is a Postgres-backed crawl.WorkQueue.
type Queue struct {
	pool       Querier
	table      string
	idCol      string
	urlCol     string
	maxRetries int
	clock      crawl.Clock
	logger     *zap.Logger
}

// New validates the configured identifiers and builds a Queue.
func New(pool Querier, cfg Config, clock crawl.Clock, logger *zap.Logger) (*Queue, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	for _, ident := range []string{cfg.Table, cfg.IDColumn, cfg.URLColumn} {
		if !validIdentifier.MatchString(ident) {
			return nil, fmt.Errorf("invalid identifier %q", ident)
		}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = crawl.DefaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		pool:       pool,
		table:      cfg.Table,
		idCol:      cfg.IDColumn,
		urlCol:     cfg.URLColumn,
		maxRetries: cfg.MaxRetries,
		clock:      clock,
		logger:     logger,
	}, nil
}

// NewMatchQueue builds the queue for the match stage.
func NewMatchQueue(pool Querier, maxRetries int, clock crawl.Clock, logger *zap.Logger) (*Queue, error) {
	return New(pool, Config{Table: "match_scrape_queue", IDColumn: "match_id", URLColumn: "match_url", MaxRetries: maxRetries}, clock, logger)
}

// NewMapQueue builds the queue for the map-stats stage.
func NewMapQueue(pool Querier, maxRetries int, clock crawl.Clock, logger *zap.Logger) (*Queue, error) {
	return New(pool, Config{Table: "map_scrape_queue", IDColumn: "map_id", URLColumn: "map_url", MaxRetries: maxRetries}, clock, logger)
}

// NewDemoQueue builds the queue for the demo-archive stage.
func NewDemoQueue(pool Querier, maxRetries int, clock crawl.Clock, logger *zap.Logger) (*Queue, error) {
	return New(pool, Config{Table: "demo_scrape_queue", IDColumn: "demo_id", URLColumn: "demo_url", MaxRetries: maxRetries}, clock, logger)
}

// Enqueue inserts a queued row if the id is absent, otherwise does nothing.
// Duplicate discovery is the expected steady state, never an error.
func (q *Queue) Enqueue(ctx context.Context, id, url, source string, priority int) error {
	if id == "" {
		return fmt.Errorf("enqueue into %s: id is required", q.table)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (%s, %s, status, inserted_at, last_updated_at, retry_count, last_error, priority, source)
VALUES ($1, $2, 'queued', $3, $3, 0, NULL, $4, $5)
ON CONFLICT (%s) DO NOTHING`, q.table, q.idCol, q.urlCol, q.idCol)

	now := q.clock.Now()
	if _, err := q.pool.Exec(ctx, query, id, url, now, priority, source); err != nil {
		return fmt.Errorf("enqueue %q into %s: %w", id, q.table, err)
	}
	return nil
}

// EnqueueBatch enqueues each ref best-effort: a failed insert is logged and
// the remaining items still get their chance. Only context cancellation
// aborts the batch.
func (q *Queue) EnqueueBatch(ctx context.Context, refs []crawl.Ref, source string, priority int) error {
	var failed int
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("enqueue batch into %s: %w", q.table, err)
		}
		if err := q.Enqueue(ctx, ref.ID, ref.URL, source, priority); err != nil {
			failed++
			q.logger.Warn("batch enqueue item failed",
				zap.String("table", q.table),
				zap.String("id", ref.ID),
				zap.Error(err),
			)
		}
	}
	if failed == len(refs) && failed > 0 {
		return fmt.Errorf("enqueue batch into %s: all %d items failed", q.table, failed)
	}
	return nil
}

// FetchBatch selects unfinished rows below the retry ceiling, ordered by
// priority desc then oldest update first. Failed rows with retries left stay
// eligible so a retried item can still reach parsed. Rows are not reserved;
// the caller is assumed to be the only worker draining this queue.
func (q *Queue) FetchBatch(ctx context.Context, limit int) ([]crawl.Ref, error) {
	query := fmt.Sprintf(`
SELECT %s, %s
FROM %s
WHERE status IN ('queued', 'failed') AND retry_count < $1
ORDER BY priority DESC, last_updated_at ASC
LIMIT $2`, q.idCol, q.urlCol, q.table)

	rows, err := q.pool.Query(ctx, query, q.maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch batch from %s: %w", q.table, err)
	}
	defer rows.Close()

	var refs []crawl.Ref
	for rows.Next() {
		var ref crawl.Ref
		if err := rows.Scan(&ref.ID, &ref.URL); err != nil {
			return nil, fmt.Errorf("scan batch row from %s: %w", q.table, err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch from %s: %w", q.table, err)
	}
	return refs, nil
}

// MarkParsed records terminal success. Idempotent.
func (q *Queue) MarkParsed(ctx context.Context, id string) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'parsed', last_updated_at = $1
WHERE %s = $2`, q.table, q.idCol)

	if _, err := q.pool.Exec(ctx, query, q.clock.Now(), id); err != nil {
		return fmt.Errorf("mark %q parsed in %s: %w", id, q.table, err)
	}
	return nil
}

// MarkFailed records a failed attempt, bumping the retry count and storing a
// truncated reason.
func (q *Queue) MarkFailed(ctx context.Context, id, reason string) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'failed', last_updated_at = $1, retry_count = retry_count + 1, last_error = $2
WHERE %s = $3`, q.table, q.idCol)

	if _, err := q.pool.Exec(ctx, query, q.clock.Now(), truncate(reason, errorLimit), id); err != nil {
		return fmt.Errorf("mark %q failed in %s: %w", id, q.table, err)
	}
	return nil
}

// ResetFailed returns an item to queued with retry state cleared. Operator
// recovery only.
func (q *Queue) ResetFailed(ctx context.Context, id string) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'queued', retry_count = 0, last_error = NULL, last_updated_at = $1
WHERE %s = $2`, q.table, q.idCol)

	tag, err := q.pool.Exec(ctx, query, q.clock.Now(), id)
	if err != nil {
		return fmt.Errorf("reset %q in %s: %w", id, q.table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reset failed: unknown id %q in %s", id, q.table)
	}
	return nil
}

// GetItem looks up a single row for the ops API.
func (q *Queue) GetItem(ctx context.Context, id string) (crawl.WorkItem, error) {
	query := fmt.Sprintf(`
SELECT %s, %s, status, retry_count, COALESCE(last_error, ''), priority, source, inserted_at, last_updated_at
FROM %s
WHERE %s = $1`, q.idCol, q.urlCol, q.table, q.idCol)

	var item crawl.WorkItem
	var status string
	row := q.pool.QueryRow(ctx, query, id)
	err := row.Scan(&item.ID, &item.URL, &status, &item.RetryCount,
		&item.LastError, &item.Priority, &item.Source, &item.InsertedAt, &item.LastUpdatedAt)
	if err != nil {
		return crawl.WorkItem{}, fmt.Errorf("get %q from %s: %w", id, q.table, err)
	}
	item.Status = crawl.Status(status)
	return item, nil
}

// Stats counts rows per status plus retry-exhausted failures.
func (q *Queue) Stats(ctx context.Context) (crawl.QueueStats, error) {
	query := fmt.Sprintf(`
SELECT
	COUNT(*) FILTER (WHERE status = 'queued'),
	COUNT(*) FILTER (WHERE status = 'parsed'),
	COUNT(*) FILTER (WHERE status = 'failed'),
	COUNT(*) FILTER (WHERE status = 'failed' AND retry_count >= $1)
FROM %s`, q.table)

	var stats crawl.QueueStats
	row := q.pool.QueryRow(ctx, query, q.maxRetries)
	if err := row.Scan(&stats.Queued, &stats.Parsed, &stats.Failed, &stats.Exhausted); err != nil {
		return crawl.QueueStats{}, fmt.Errorf("stats for %s: %w", q.table, err)
	}
	return stats, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
