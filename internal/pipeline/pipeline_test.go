package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cs2watch/results-crawler/internal/controller"
	"github.com/cs2watch/results-crawler/internal/crawl"
	"github.com/cs2watch/results-crawler/internal/discovery"
	pubmem "github.com/cs2watch/results-crawler/internal/publisher/memory"
	queuemem "github.com/cs2watch/results-crawler/internal/queue/memory"
)

type fakeDiscoverer struct {
	results []discovery.Result
	errs    []error
	calls   int
}

func (f *fakeDiscoverer) Run(_ context.Context, _, _ time.Time) (discovery.Result, error) {
	i := f.calls
	f.calls++
	var res discovery.Result
	var err error
	if i < len(f.results) {
		res = f.results[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return res, err
}

type fakeStage struct {
	stage  crawl.Stage
	report controller.Report
	err    error
	drains int
}

func (f *fakeStage) Stage() crawl.Stage { return f.stage }

func (f *fakeStage) Drain(context.Context) (controller.Report, error) {
	f.drains++
	return f.report, f.err
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fixedIDs struct{ id string }

func (g fixedIDs) NewID() (string, error) { return g.id, nil }

func newPipeline(t *testing.T, disc Discoverer, stages []StageRunner, pub crawl.Publisher) *Pipeline {
	t.Helper()

	queues := map[crawl.Stage]crawl.WorkQueue{crawl.StageMatch: queuemem.New()}
	p, err := New(disc, stages, queues, pub, fixedIDs{id: "run-1"}, fixedClock{now: time.Unix(1700000000, 0).UTC()}, nil)
	require.NoError(t, err)
	return p
}

func window() (time.Time, time.Time) {
	return time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
}

func TestRunDrainsStagesInOrder(t *testing.T) {
	t.Parallel()

	var order []crawl.Stage
	mkStage := func(s crawl.Stage, parsed int) *orderedStage {
		return &orderedStage{stage: s, parsed: parsed, order: &order}
	}
	pub := pubmem.New()
	disc := &fakeDiscoverer{results: []discovery.Result{{Discovered: 5, Enqueued: 5, PagesFetched: 1}}}
	stages := []StageRunner{
		mkStage(crawl.StageMatch, 5),
		mkStage(crawl.StageMap, 9),
		mkStage(crawl.StageDemo, 4),
	}

	p := newPipeline(t, disc, stages, pub)
	from, to := window()
	res, err := p.Run(context.Background(), Config{From: from, To: to, Topic: "crawl-runs"})
	require.NoError(t, err)

	require.Equal(t, "run-1", res.RunID)
	require.Equal(t, 5, res.Discovered)
	require.Equal(t, []crawl.Stage{crawl.StageMatch, crawl.StageMap, crawl.StageDemo}, order)
	require.Len(t, res.Stages, 3)
	require.Contains(t, res.Queues, crawl.StageMatch)

	msgs := pub.TopicMessages("crawl-runs")
	require.Len(t, msgs, 1)
}

type orderedStage struct {
	stage  crawl.Stage
	parsed int
	order  *[]crawl.Stage
}

func (s *orderedStage) Stage() crawl.Stage { return s.stage }

func (s *orderedStage) Drain(context.Context) (controller.Report, error) {
	*s.order = append(*s.order, s.stage)
	return controller.Report{Stage: s.stage, Parsed: s.parsed}, nil
}

func TestRunRetriesEmptyDiscovery(t *testing.T) {
	t.Parallel()

	disc := &fakeDiscoverer{results: []discovery.Result{
		{Discovered: 0},
		{Discovered: 3, Enqueued: 3},
	}}
	stage := &fakeStage{stage: crawl.StageMatch}

	p := newPipeline(t, disc, []StageRunner{stage}, nil)
	from, to := window()
	res, err := p.Run(context.Background(), Config{From: from, To: to, MaxAttempts: 3})
	require.NoError(t, err)
	require.Equal(t, 2, disc.calls)
	require.Equal(t, 3, res.Discovered)
	require.Equal(t, 1, stage.drains)
}

func TestRunFailsAfterAttemptsExhausted(t *testing.T) {
	t.Parallel()

	disc := &fakeDiscoverer{}
	stage := &fakeStage{stage: crawl.StageMatch}

	p := newPipeline(t, disc, []StageRunner{stage}, nil)
	from, to := window()
	_, err := p.Run(context.Background(), Config{From: from, To: to, MaxAttempts: 2})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no matches")
	require.Equal(t, 2, disc.calls)
	require.Zero(t, stage.drains)
}

func TestRunStopsAtFirstFailingStage(t *testing.T) {
	t.Parallel()

	disc := &fakeDiscoverer{results: []discovery.Result{{Discovered: 1}}}
	match := &fakeStage{stage: crawl.StageMatch, err: errors.New("queue transport lost")}
	maps := &fakeStage{stage: crawl.StageMap}

	p := newPipeline(t, disc, []StageRunner{match, maps}, nil)
	from, to := window()
	_, err := p.Run(context.Background(), Config{From: from, To: to})
	require.Error(t, err)
	require.Equal(t, 1, match.drains)
	require.Zero(t, maps.drains)
}

func TestRunPublishFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	disc := &fakeDiscoverer{results: []discovery.Result{{Discovered: 1}}}
	stage := &fakeStage{stage: crawl.StageMatch}

	p := newPipeline(t, disc, []StageRunner{stage}, failingPublisher{})
	from, to := window()
	_, err := p.Run(context.Background(), Config{From: from, To: to, Topic: "crawl-runs"})
	require.NoError(t, err)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", errors.New("pubsub unavailable")
}

func TestRunRetriesDiscoveryError(t *testing.T) {
	t.Parallel()

	disc := &fakeDiscoverer{
		results: []discovery.Result{{}, {Discovered: 2, Enqueued: 2}},
		errs:    []error{errors.New("listing gone")},
	}
	stage := &fakeStage{stage: crawl.StageMatch}

	p := newPipeline(t, disc, []StageRunner{stage}, nil)
	from, to := window()
	res, err := p.Run(context.Background(), Config{From: from, To: to, MaxAttempts: 3})
	require.NoError(t, err)
	require.Equal(t, 2, disc.calls)
	require.Equal(t, 2, res.Discovered)
	require.Equal(t, 1, stage.drains)
}

func TestRunRetriesFailedStage(t *testing.T) {
	t.Parallel()

	disc := &fakeDiscoverer{results: []discovery.Result{
		{Discovered: 1, Enqueued: 1},
		{Discovered: 1, Enqueued: 1},
	}}
	match := &flakyStage{stage: crawl.StageMatch, failures: 1}

	p := newPipeline(t, disc, []StageRunner{match}, nil)
	from, to := window()
	res, err := p.Run(context.Background(), Config{From: from, To: to, MaxAttempts: 2})
	require.NoError(t, err)
	require.Equal(t, 2, disc.calls)
	require.Equal(t, 2, match.drains)
	// Only the successful cycle's reports survive.
	require.Len(t, res.Stages, 1)
}

type flakyStage struct {
	stage    crawl.Stage
	failures int
	drains   int
}

func (s *flakyStage) Stage() crawl.Stage { return s.stage }

func (s *flakyStage) Drain(context.Context) (controller.Report, error) {
	s.drains++
	if s.drains <= s.failures {
		return controller.Report{Stage: s.stage}, errors.New("queue transport lost")
	}
	return controller.Report{Stage: s.stage, Parsed: 1}, nil
}
