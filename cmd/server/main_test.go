package main

import (
	"context"
	"testing"
	"time"
)

type fakeQueue struct {
	delay   time.Duration
	ctxErr  error
	drained bool
}

func (q *fakeQueue) Close(ctx context.Context) error {
	q.ctxErr = ctx.Err()
	select {
	case <-time.After(q.delay):
		q.drained = true
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestDrainResults_OwnBudgetAfterShutdown(t *testing.T) {
	// бюджет остановки сервера уже исчерпан
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-shutdownCtx.Done()

	q := &fakeQueue{delay: 20 * time.Millisecond}
	if err := drainResults(q, time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.ctxErr != nil {
		t.Errorf("drain started with expired context: %v", q.ctxErr)
	}
	if !q.drained {
		t.Error("queue was not drained")
	}
}

func TestDrainResults_Timeout(t *testing.T) {
	q := &fakeQueue{delay: time.Second}
	if err := drainResults(q, 10*time.Millisecond); err != context.DeadlineExceeded {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}
