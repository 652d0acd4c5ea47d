package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// originThrottle spaces consecutive fetches to the same origin by that
// origin's resolved crawl-delay. Waiting on one origin never blocks
// workers targeting other origins.
type originThrottle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newOriginThrottle() *originThrottle {
	return &originThrottle{limiters: make(map[string]*rate.Limiter)}
}

// Wait blocks until a fetch slot for origin is available. The first fetch
// to an origin proceeds immediately; later ones are spaced by delay. The
// delay for an origin is fixed for the job (robots records are cached), so
// the first caller's value wins.
func (t *originThrottle) Wait(ctx context.Context, origin string, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	t.mu.Lock()
	limiter, ok := t.limiters[origin]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(delay), 1)
		t.limiters[origin] = limiter
	}
	t.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("crawl delay wait: %w", err)
	}
	return nil
}
