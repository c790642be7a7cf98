package internal

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lychee-technology/duplex"
	"go.uber.org/zap"
)

// Throttle holds the shared pacing delay for bulk work. The delay grows every
// time a rate-limit error is observed and never shrinks.
type Throttle struct {
	mu         sync.Mutex
	delay      time.Duration
	maxDelay   time.Duration
	multiplier float64
	maxRetries int
	retryBase  time.Duration
	onChange   func(time.Duration)
}

// NewThrottle creates a throttle from configuration.
func NewThrottle(cfg duplex.ThrottleConfig) *Throttle {
	t := &Throttle{
		delay:      cfg.InitialDelay,
		maxDelay:   cfg.MaxDelay,
		multiplier: cfg.Multiplier,
		maxRetries: cfg.MaxRetries,
		retryBase:  cfg.RetryBase,
	}
	if t.multiplier < 1 {
		t.multiplier = 2
	}
	if t.retryBase <= 0 {
		t.retryBase = time.Second
	}
	if t.maxDelay <= 0 {
		t.maxDelay = 10 * time.Second
	}
	return t
}

// OnDelayChange registers a callback invoked whenever the shared delay grows.
func (t *Throttle) OnDelayChange(fn func(time.Duration)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// Delay returns the current shared delay.
func (t *Throttle) Delay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delay
}

// Observe grows the shared delay when err is a rate-limit error.
func (t *Throttle) Observe(err error) {
	if err == nil || !duplex.IsRateLimit(err) {
		return
	}
	t.mu.Lock()
	next := time.Duration(float64(t.delay) * t.multiplier)
	if t.delay <= 0 {
		next = t.retryBase
	}
	if next > t.maxDelay {
		next = t.maxDelay
	}
	grew := next > t.delay
	if grew {
		t.delay = next
	}
	delay := t.delay
	onChange := t.onChange
	t.mu.Unlock()

	if grew {
		zap.S().Warnw("rate limit observed, pacing delay increased", "delay", delay, "backend", duplex.BackendOf(err))
		if onChange != nil {
			onChange(delay)
		}
	}
}

// Pause waits for the larger of base and the shared delay.
func (t *Throttle) Pause(ctx context.Context, base time.Duration) error {
	wait := max(base, t.Delay())
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry runs op, retrying with exponential backoff while it fails with a
// rate-limit error. Other errors are returned immediately.
func (t *Throttle) Retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.retryBase
	b.Multiplier = t.multiplier
	b.MaxInterval = t.maxDelay
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(t.maxRetries, 0))), ctx)
	return backoff.RetryNotify(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if duplex.IsRateLimit(err) {
			t.Observe(err)
			return err
		}
		return backoff.Permanent(err)
	}, policy, func(err error, next time.Duration) {
		zap.S().Warnw("rate limited, retrying", "retryIn", next, "error", err)
	})
}
