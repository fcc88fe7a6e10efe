package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cs2watch/results-crawler/internal/crawl"
	"github.com/cs2watch/results-crawler/internal/queue/memory"
)

func newTestServer(t *testing.T) (*Server, map[crawl.Stage]*memory.Queue) {
	t.Helper()
	queues := map[crawl.Stage]*memory.Queue{
		crawl.StageMatch: memory.New(),
		crawl.StageMap:   memory.New(),
		crawl.StageDemo:  memory.New(),
	}
	byStage := make(map[crawl.Stage]crawl.WorkQueue, len(queues))
	for stage, q := range queues {
		byStage[stage] = q
	}
	return NewServer(byStage, nil), queues
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestListQueues(t *testing.T) {
	t.Parallel()

	srv, queues := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, queues[crawl.StageMatch].Enqueue(ctx, "2370931", "https://www.hltv.org/matches/2370931/x", "discovery", 0))
	require.NoError(t, queues[crawl.StageMatch].Enqueue(ctx, "2370932", "https://www.hltv.org/matches/2370932/y", "discovery", 0))
	require.NoError(t, queues[crawl.StageMatch].MarkParsed(ctx, "2370932"))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/queues", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Queues map[string]crawl.QueueStats `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Queues, 3)
	require.Equal(t, int64(1), body.Queues["match"].Queued)
	require.Equal(t, int64(1), body.Queues["match"].Parsed)
	require.Equal(t, int64(0), body.Queues["map"].Queued)
}

func TestQueueStats(t *testing.T) {
	t.Parallel()

	srv, queues := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, queues[crawl.StageMap].Enqueue(ctx, "187624", "https://www.hltv.org/stats/matches/mapstatsid/187624/x", "match", 0))
	require.NoError(t, queues[crawl.StageMap].MarkFailed(ctx, "187624", "timeout"))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/queues/map/", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var stats crawl.QueueStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, int64(1), stats.Failed)
}

func TestQueueStatsUnknownStage(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/queues/bogus/", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResetItem(t *testing.T) {
	t.Parallel()

	srv, queues := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, queues[crawl.StageDemo].Enqueue(ctx, "94113", "https://www.hltv.org/download/demo/94113", "map", 0))
	for i := 0; i < 3; i++ {
		require.NoError(t, queues[crawl.StageDemo].MarkFailed(ctx, "94113", "503"))
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/queues/demo/items/94113/reset", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	item, ok := queues[crawl.StageDemo].Get("94113")
	require.True(t, ok)
	require.Equal(t, crawl.StatusQueued, item.Status)
	require.Zero(t, item.RetryCount)
}

func TestGetItem(t *testing.T) {
	t.Parallel()

	srv, queues := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, queues[crawl.StageMatch].Enqueue(ctx, "2370931", "https://www.hltv.org/matches/2370931/x", "discovery", 0))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/queues/match/items/2370931", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var item crawl.WorkItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	require.Equal(t, "2370931", item.ID)
	require.Equal(t, crawl.StatusQueued, item.Status)
}

func TestGetItemUnknownID(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/queues/match/items/999", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResetItemUnknownID(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/queues/match/items/999/reset", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}
