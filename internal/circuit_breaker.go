package internal

import (
	"sync"
	"time"

	"github.com/lychee-technology/duplex"
	"go.uber.org/zap"
)

// CircuitBreaker gates Cache usage process-wide. Consecutive permission
// failures against Cache open it; a single cooldown timer closes it again.
type CircuitBreaker struct {
	mu            sync.Mutex
	threshold     int
	cooldown      time.Duration
	enabled       bool
	failures      int
	cooldownUntil time.Time
	timer         *time.Timer
	onChange      func(enabled bool)
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		enabled:   true,
	}
}

// OnStateChange registers a callback invoked after every open/close transition.
func (cb *CircuitBreaker) OnStateChange(fn func(enabled bool)) {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onChange = fn
}

// ReportFailure inspects err and counts it when it is a permission failure.
// It returns true when the call opened the breaker.
func (cb *CircuitBreaker) ReportFailure(err error) bool {
	if cb == nil || err == nil {
		return false
	}
	if !duplex.IsPermission(err) {
		zap.S().Debugw("cache failure ignored by circuit breaker", "error", err)
		return false
	}

	cb.mu.Lock()
	if !cb.enabled {
		// already open; the pending timer owns the transition back
		cb.mu.Unlock()
		return false
	}
	cb.failures++
	if cb.failures < cb.threshold {
		cb.mu.Unlock()
		return false
	}
	cb.enabled = false
	cb.cooldownUntil = time.Now().Add(cb.cooldown)
	if cb.timer == nil {
		cb.timer = time.AfterFunc(cb.cooldown, cb.closeAfterCooldown)
	}
	failures := cb.failures
	onChange := cb.onChange
	cb.mu.Unlock()

	zap.S().Warnw("cache disabled after repeated permission failures",
		"failures", failures, "cooldown", cb.cooldown)
	if onChange != nil {
		onChange(false)
	}
	return true
}

// ReportSuccess clears the consecutive failure count.
func (cb *CircuitBreaker) ReportSuccess() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.enabled {
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) closeAfterCooldown() {
	cb.mu.Lock()
	cb.timer = nil
	wasOpen := !cb.enabled
	cb.enabled = true
	cb.failures = 0
	cb.cooldownUntil = time.Time{}
	onChange := cb.onChange
	cb.mu.Unlock()

	if wasOpen {
		zap.S().Infow("cache re-enabled after cooldown")
		if onChange != nil {
			onChange(true)
		}
	}
}

// IsCacheEnabled reports whether Cache may be used.
func (cb *CircuitBreaker) IsCacheEnabled() bool {
	if cb == nil {
		return true
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.enabled
}

// Reset closes the breaker immediately and cancels any pending timer.
func (cb *CircuitBreaker) Reset() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	if cb.timer != nil {
		cb.timer.Stop()
		cb.timer = nil
	}
	wasOpen := !cb.enabled
	cb.enabled = true
	cb.failures = 0
	cb.cooldownUntil = time.Time{}
	onChange := cb.onChange
	cb.mu.Unlock()

	if wasOpen && onChange != nil {
		onChange(true)
	}
}

// State returns a snapshot of the breaker.
func (cb *CircuitBreaker) State() duplex.CircuitState {
	if cb == nil {
		return duplex.CircuitState{CacheEnabled: true}
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	state := duplex.CircuitState{
		CacheEnabled:            cb.enabled,
		ConsecutiveAuthFailures: cb.failures,
	}
	if !cb.cooldownUntil.IsZero() {
		until := cb.cooldownUntil
		state.CooldownUntil = &until
	}
	return state
}
