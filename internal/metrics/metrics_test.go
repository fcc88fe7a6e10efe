package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	require.NotPanics(t, Init)

	// Observations after Init must not panic either.
	require.NotPanics(t, func() {
		ObserveFetch("match", "2xx", 120*time.Millisecond)
		ObserveParsed("match")
		ObserveFailed("map")
		ObserveEnqueued("demo", 3)
		ObserveEnqueued("demo", 0)
		ObserveHeadlessPromotion()
		ObserveRun("success")
		SetQueueDepth("match", "queued", 42)
	})
}

func TestStatusClass(t *testing.T) {
	t.Parallel()

	require.Equal(t, "2xx", StatusClass(200))
	require.Equal(t, "3xx", StatusClass(301))
	require.Equal(t, "4xx", StatusClass(429))
	require.Equal(t, "5xx", StatusClass(503))
	require.Equal(t, "unknown", StatusClass(0))
}
