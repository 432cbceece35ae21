package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterBlocksAtCap(t *testing.T) {
	l := New(60*time.Second, 5)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return base })

	for i := 0; i < 5; i++ {
		if !l.IsAllowed("key") {
			t.Fatalf("attempt %d blocked, want allowed", i+1)
		}
	}
	if l.IsAllowed("key") {
		t.Fatal("6th attempt allowed, want blocked")
	}
	if got := l.Remaining("key"); got != 0 {
		t.Errorf("Remaining = %d, want 0", got)
	}
}

func TestLimiterWindowSlides(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base

	l := New(60*time.Second, 5)
	l.SetClock(func() time.Time { return now })

	for i := 0; i < 5; i++ {
		l.IsAllowed("key")
	}
	if l.IsAllowed("key") {
		t.Fatal("over-cap attempt allowed")
	}

	// Just inside the window: still blocked.
	now = base.Add(59 * time.Second)
	if l.IsAllowed("key") {
		t.Fatal("attempt inside the window allowed")
	}

	// Past the window: the old attempts aged out.
	now = base.Add(61 * time.Second)
	if !l.IsAllowed("key") {
		t.Fatal("attempt after window expiry blocked")
	}
}

func TestLimiterKeysIndependent(t *testing.T) {
	l := New(time.Minute, 1)
	if !l.IsAllowed("a") {
		t.Fatal("first attempt on a blocked")
	}
	if !l.IsAllowed("b") {
		t.Fatal("attempt on b blocked by a's usage")
	}
	if l.IsAllowed("a") {
		t.Fatal("second attempt on a allowed")
	}
}

func TestLimiterReset(t *testing.T) {
	l := New(time.Minute, 1)
	l.IsAllowed("key")
	if l.IsAllowed("key") {
		t.Fatal("second attempt allowed before reset")
	}
	l.Reset("key")
	if !l.IsAllowed("key") {
		t.Fatal("attempt after reset blocked")
	}
}

func TestLimiterCleanup(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base

	l := New(time.Minute, 5)
	l.SetClock(func() time.Time { return now })

	l.IsAllowed("stale")
	now = base.Add(2 * time.Minute)
	l.IsAllowed("fresh")
	l.Cleanup()

	l.mu.Lock()
	_, staleKept := l.attempts["stale"]
	_, freshKept := l.attempts["fresh"]
	l.mu.Unlock()

	if staleKept {
		t.Error("stale key survived cleanup")
	}
	if !freshKept {
		t.Error("fresh key dropped by cleanup")
	}
}

func TestDefaultSet(t *testing.T) {
	s := DefaultSet()
	if s.Auth.maxAttempts != 5 || s.Auth.window != 60*time.Second {
		t.Errorf("auth limiter = %d/%v", s.Auth.maxAttempts, s.Auth.window)
	}
	if s.Action.maxAttempts != 20 || s.Action.window != 10*time.Second {
		t.Errorf("action limiter = %d/%v", s.Action.maxAttempts, s.Action.window)
	}
	if s.Chat.maxAttempts != 10 || s.Chat.window != 10*time.Second {
		t.Errorf("chat limiter = %d/%v", s.Chat.maxAttempts, s.Chat.window)
	}
	if s.HTTP.maxAttempts != 100 || s.HTTP.window != 60*time.Second {
		t.Errorf("http limiter = %d/%v", s.HTTP.maxAttempts, s.HTTP.window)
	}
}
