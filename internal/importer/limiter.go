package importer

// limiter.go bounds how many imports run in parallel.
//
// Each import holds one direct database connection and a file handle for its
// duration, so an unbounded burst of files (a large SFTP drop, a scheduler
// catching up) could exhaust connections on the target. The limiter uses a
// semaphore: when all slots are occupied, callers wait up to maxWait before
// failing with ErrTooManyImports so the host can apply its own retry policy.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyImports is returned when all import slots stay occupied for the
// full wait window.
var ErrTooManyImports = errors.New("too many concurrent imports, try again later")

// DefaultMaxConcurrentImports is the default parallel import limit.
const DefaultMaxConcurrentImports = 5

// DefaultSlotWaitTime is how long to wait for a slot before rejecting.
const DefaultSlotWaitTime = 30 * time.Second

// Limiter restricts parallel imports. It is safe for concurrent use.
type Limiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
}

// NewLimiter creates a limiter allowing at most maxConcurrent simultaneous
// imports, waiting up to maxWait for a free slot.
func NewLimiter(maxConcurrent int, maxWait time.Duration) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultSlotWaitTime
	}

	return &Limiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
}

// Acquire claims an import slot. The caller must Release when the import
// completes (use defer). Returns ErrTooManyImports if the wait window
// expires, or the context error if ctx is cancelled first.
func (l *Limiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyImports
	}
}

// Release frees a slot claimed by Acquire.
func (l *Limiter) Release() {
	l.mu.Lock()
	if l.active > 0 {
		l.active--
	}
	l.mu.Unlock()

	select {
	case <-l.semaphore:
	default:
	}
}

// Active returns the number of imports currently holding a slot.
func (l *Limiter) Active() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// WaitForDrain blocks until every active import has released its slot or
// ctx expires. Used during graceful shutdown.
func (l *Limiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.Active() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
