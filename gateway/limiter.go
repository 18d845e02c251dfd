package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"
)

// LimiterConfig describes the shared admission policy in front of the
// model provider.
type LimiterConfig struct {
	// MaxConcurrent bounds the number of provider calls in flight.
	MaxConcurrent int64
	// MinSpacing is the minimum interval between successive dispatches.
	MinSpacing time.Duration
	// Reservoir is the permit pool consumed per call and restored to this
	// level on every refill tick.
	Reservoir int
	// RefillEvery is the wall-clock refill interval.
	RefillEvery time.Duration
}

// DefaultLimiterConfig returns the settings used in production.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		MaxConcurrent: 4,
		MinSpacing:    250 * time.Millisecond,
		Reservoir:     60,
		RefillEvery:   time.Minute,
	}
}

// limiter is the process-wide token bucket guarding the provider path.
// Callers that cannot be admitted immediately wait; the limiter itself
// never rejects a request. Both stages queue in arrival order: the
// semaphore serves its waiters FIFO, and refills hand reservoir permits
// to queued waiters head-first, so calls are released in submission
// order.
type limiter struct {
	cfg LimiterConfig
	sem *semaphore.Weighted

	mu           sync.Mutex
	permits      int
	nextDispatch time.Time
	// waiters hold callers blocked on an empty reservoir, in arrival
	// order. Invariant: waiters is non-empty only while permits == 0.
	waiters []chan struct{}

	cron *cron.Cron
}

func newLimiter(cfg LimiterConfig) (*limiter, error) {
	if cfg.MaxConcurrent <= 0 || cfg.Reservoir <= 0 || cfg.RefillEvery <= 0 {
		return nil, fmt.Errorf("invalid limiter config: %+v", cfg)
	}

	l := &limiter{
		cfg:     cfg,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		permits: cfg.Reservoir,
	}

	l.cron = cron.New()
	if _, err := l.cron.AddFunc(fmt.Sprintf("@every %s", cfg.RefillEvery), l.refill); err != nil {
		return nil, fmt.Errorf("failed to schedule reservoir refill: %w", err)
	}
	l.cron.Start()

	return l, nil
}

// refill restores the reservoir to capacity, then hands permits to
// queued waiters head-first. A woken waiter already owns its permit.
func (l *limiter) refill() {
	l.mu.Lock()
	l.permits = l.cfg.Reservoir
	for len(l.waiters) > 0 && l.permits > 0 {
		l.permits--
		close(l.waiters[0])
		l.waiters = l.waiters[1:]
	}
	l.mu.Unlock()
}

// acquire blocks until a concurrency slot, a reservoir permit and the
// spacing window are all available, or the context is cancelled. The
// returned release function must be called when the provider call ends.
func (l *limiter) acquire(ctx context.Context) (func(), error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	if err := l.takePermit(ctx); err != nil {
		l.sem.Release(1)
		return nil, err
	}

	l.mu.Lock()
	now := time.Now()
	at := l.nextDispatch
	if at.Before(now) {
		at = now
	}
	l.nextDispatch = at.Add(l.cfg.MinSpacing)
	l.mu.Unlock()

	if wait := time.Until(at); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			l.giveBack()
			l.sem.Release(1)
			return nil, ctx.Err()
		}
	}
	return func() { l.sem.Release(1) }, nil
}

// takePermit consumes a reservoir permit, queueing behind earlier
// arrivals when the reservoir is empty.
func (l *limiter) takePermit(ctx context.Context) error {
	l.mu.Lock()
	if l.permits > 0 {
		l.permits--
		l.mu.Unlock()
		return nil
	}

	ch := make(chan struct{})
	l.waiters = append(l.waiters, ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range l.waiters {
			if w == ch {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		l.mu.Unlock()
		// A refill granted this waiter a permit after cancellation; it
		// goes back unused.
		l.giveBack()
		return ctx.Err()
	}
}

// giveBack returns an unused permit after a cancelled wait.
func (l *limiter) giveBack() {
	l.mu.Lock()
	if l.permits < l.cfg.Reservoir {
		l.permits++
	}
	l.mu.Unlock()
}

// available reports the current reservoir level.
func (l *limiter) available() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.permits
}

// waiting reports how many callers are queued for a permit.
func (l *limiter) waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.waiters)
}

// stop halts the refill schedule.
func (l *limiter) stop() {
	if l.cron != nil {
		l.cron.Stop()
	}
}
