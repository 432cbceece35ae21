// Package ratelimit implements sliding-window admission control keyed on an
// arbitrary string (player id, source address, username).
package ratelimit

import (
	"sync"
	"time"
)

// Limiter tracks attempt timestamps per key. Safe for concurrent use.
type Limiter struct {
	window      time.Duration
	maxAttempts int

	mu       sync.Mutex
	attempts map[string][]time.Time
	now      func() time.Time
}

// New creates a limiter allowing maxAttempts per key within window.
func New(window time.Duration, maxAttempts int) *Limiter {
	return &Limiter{
		window:      window,
		maxAttempts: maxAttempts,
		attempts:    make(map[string][]time.Time),
		now:         time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// IsAllowed prunes entries older than the window and admits the call if
// fewer than maxAttempts remain, recording the new attempt on admission.
func (l *Limiter) IsAllowed(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	kept := l.attempts[key][:0]
	for _, t := range l.attempts[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.maxAttempts {
		l.attempts[key] = kept
		return false
	}

	l.attempts[key] = append(kept, now)
	return true
}

// Remaining reports how many attempts are left in the current window.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	count := 0
	for _, t := range l.attempts[key] {
		if t.After(cutoff) {
			count++
		}
	}
	if count >= l.maxAttempts {
		return 0
	}
	return l.maxAttempts - count
}

// Reset clears all recorded attempts for a key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, key)
}

// Cleanup drops keys whose every attempt has aged out of the window.
// Call it periodically to bound memory.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	for key, times := range l.attempts {
		live := false
		for _, t := range times {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(l.attempts, key)
		}
	}
}

// Set bundles the limiter instances the gateway routes through.
type Set struct {
	Auth          *Limiter
	Action        *Limiter
	Chat          *Limiter
	HTTP          *Limiter
	PasswordReset *Limiter
}

// DefaultSet builds the standard limiter configuration.
func DefaultSet() *Set {
	return &Set{
		Auth:          New(60*time.Second, 5),
		Action:        New(10*time.Second, 20),
		Chat:          New(10*time.Second, 10),
		HTTP:          New(60*time.Second, 100),
		PasswordReset: New(time.Hour, 3),
	}
}
