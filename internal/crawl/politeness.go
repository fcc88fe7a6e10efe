package crawl

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// PoliteDelay waits a fixed base plus random jitter between requests to the
// same external host. This is a resource-sharing courtesy toward the source
// site, not an internal lock.
type PoliteDelay struct {
	base   time.Duration
	jitter time.Duration
}

// NewPoliteDelay builds a Pauser with the given base delay and jitter bound.
func NewPoliteDelay(base, jitter time.Duration) *PoliteDelay {
	if base < 0 {
		base = 0
	}
	if jitter < 0 {
		jitter = 0
	}
	return &PoliteDelay{base: base, jitter: jitter}
}

// Pause blocks for the polite interval or until the context finishes.
func (p *PoliteDelay) Pause(ctx context.Context) {
	delay := p.base + randomJitter(p.jitter)
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// NoDelay is a Pauser that returns immediately, for tests and dry runs.
type NoDelay struct{}

// Pause is a no-op.
func (NoDelay) Pause(context.Context) {}
