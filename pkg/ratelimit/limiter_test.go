package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)

	if rl.rate != 5 {
		t.Errorf("expected default rate 5, got %v", rl.rate)
	}
	if rl.burst != 5 {
		t.Errorf("expected burst raised to rate, got %v", rl.burst)
	}
}

func TestRateLimiter_AllowBurstThenRefill(t *testing.T) {
	current := time.Unix(1700000000, 0)
	rl := NewRateLimiter(2, 2)
	rl.now = func() time.Time { return current }
	rl.lastRefill = current

	if !rl.Allow() || !rl.Allow() {
		t.Fatal("burst tokens must be available")
	}
	if rl.Allow() {
		t.Fatal("bucket must be empty after burst")
	}

	current = current.Add(500 * time.Millisecond)
	if !rl.Allow() {
		t.Error("one token must be refilled after 500ms at 2/s")
	}
	if rl.Allow() {
		t.Error("only one token must be refilled")
	}
}

func TestRateLimiter_WaitContextCancelled(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	if !rl.Allow() {
		t.Fatal("first token must be available")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := rl.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestRateLimiter_WaitGetsToken(t *testing.T) {
	rl := NewRateLimiter(100, 1)
	rl.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := rl.Wait(ctx); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
