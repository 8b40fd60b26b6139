package api

import (
	"testing"
	"time"
)

func TestRateLimiter(t *testing.T) {
	t.Run("burst then refusal", func(t *testing.T) {
		rl := NewRateLimiter(1, 3)
		defer rl.Stop()

		for i := 0; i < 3; i++ {
			if !rl.allow("10.0.0.1") {
				t.Fatalf("request %d within burst was refused", i+1)
			}
		}
		if rl.allow("10.0.0.1") {
			t.Error("request over burst must be refused")
		}
	})

	t.Run("tokens refill over time", func(t *testing.T) {
		rl := NewRateLimiter(100, 1)
		defer rl.Stop()

		if !rl.allow("10.0.0.1") {
			t.Fatal("first request was refused")
		}
		if rl.allow("10.0.0.1") {
			t.Fatal("second immediate request should be refused")
		}
		time.Sleep(20 * time.Millisecond)
		if !rl.allow("10.0.0.1") {
			t.Error("request after refill interval was refused")
		}
	})

	t.Run("limits are per IP", func(t *testing.T) {
		rl := NewRateLimiter(1, 1)
		defer rl.Stop()

		if !rl.allow("10.0.0.1") {
			t.Fatal("first IP was refused")
		}
		if !rl.allow("10.0.0.2") {
			t.Error("second IP must have its own bucket")
		}
	})

	t.Run("cleanup drops stale visitors", func(t *testing.T) {
		rl := NewRateLimiter(1, 1)
		defer rl.Stop()

		rl.allow("10.0.0.1")
		rl.mu.Lock()
		rl.visitors["10.0.0.1"].lastCheck = time.Now().Add(-time.Hour)
		rl.mu.Unlock()

		rl.cleanup()

		rl.mu.Lock()
		_, ok := rl.visitors["10.0.0.1"]
		rl.mu.Unlock()
		if ok {
			t.Error("stale visitor entry survived cleanup")
		}
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		rl := NewRateLimiter(1, 1)
		rl.Stop()
		rl.Stop()

		select {
		case <-rl.done:
		default:
			t.Error("expected done channel to be closed after Stop")
		}
	})
}
