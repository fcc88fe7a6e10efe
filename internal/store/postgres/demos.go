package postgres

import (
	"context"
	"fmt"

	"github.com/cs2watch/results-crawler/internal/crawl"
)

// DemoStore implements crawl.Store[crawl.DemoArchive]. The archive bytes go
// to blob storage; the database holds only metadata and the blob URI.
type DemoStore struct {
	pool  Querier
	blobs crawl.BlobStore
	clock crawl.Clock
}

// NewDemoStore builds a DemoStore.
func NewDemoStore(pool Querier, blobs crawl.BlobStore, clock crawl.Clock) (*DemoStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &DemoStore{pool: pool, blobs: blobs, clock: clock}, nil
}

const upsertDemoSQL = `
INSERT INTO demos (
	demo_id, url, sha256, size_bytes, blob_uri, data_complete, scraped_at
) VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (demo_id) DO UPDATE SET
	url = EXCLUDED.url,
	sha256 = EXCLUDED.sha256,
	size_bytes = EXCLUDED.size_bytes,
	blob_uri = EXCLUDED.blob_uri,
	data_complete = EXCLUDED.data_complete,
	scraped_at = EXCLUDED.scraped_at`

// Upsert uploads the archive and records its metadata. The blob path embeds
// the content hash, so a replay overwrites the same object.
func (s *DemoStore) Upsert(ctx context.Context, demo crawl.DemoArchive) error {
	if demo.ID == "" {
		return &crawl.StoreError{Entity: "demo", Err: fmt.Errorf("empty demo id")}
	}

	uri := demo.BlobURI
	if len(demo.Body) > 0 {
		path := fmt.Sprintf("demos/%s/%s.rar", demo.ID, demo.SHA256)
		var err error
		uri, err = s.blobs.PutObject(ctx, path, "application/octet-stream", demo.Body)
		if err != nil {
			return &crawl.StoreError{Entity: "demo", Err: fmt.Errorf("upload demo %s: %w", demo.ID, err)}
		}
	}

	if _, err := s.pool.Exec(ctx, upsertDemoSQL,
		demo.ID, demo.URL, demo.SHA256, demo.Size, uri, demo.DataComplete, s.clock.Now(),
	); err != nil {
		return &crawl.StoreError{Entity: "demo", Err: fmt.Errorf("upsert demo %s: %w", demo.ID, err)}
	}
	return nil
}
