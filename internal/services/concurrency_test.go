package services

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestConcurrencyLimiter_BasicAcquireRelease(t *testing.T) {
	limiter := NewConcurrencyLimiter(ConcurrencyLimits{
		GlobalMax: 2,
		PerChat:   1,
	})

	ctx := context.Background()

	if err := limiter.Acquire(ctx, "app/c1"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	stats := limiter.Stats()
	if stats.ActiveRuns != 1 || stats.ActiveChats != 1 {
		t.Fatalf("expected 1 active run and chat, got %+v", stats)
	}

	limiter.Release("app/c1")
	stats = limiter.Stats()
	if stats.ActiveRuns != 0 || stats.ActiveChats != 0 {
		t.Fatalf("expected nothing active, got %+v", stats)
	}
}

func TestConcurrencyLimiter_GlobalLimit(t *testing.T) {
	limiter := NewConcurrencyLimiter(ConcurrencyLimits{
		GlobalMax: 2,
		PerChat:   5,
	})

	ctx := context.Background()

	limiter.Acquire(ctx, "app/a")
	limiter.Acquire(ctx, "")

	timeoutCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	if err := limiter.Acquire(timeoutCtx, "app/c"); err == nil {
		t.Fatal("expected timeout error, got nil")
	}
}

func TestConcurrencyLimiter_PerChatSerializes(t *testing.T) {
	limiter := NewConcurrencyLimiter(ConcurrencyLimits{
		GlobalMax: 10,
		PerChat:   1,
	})

	ctx := context.Background()
	if err := limiter.Acquire(ctx, "app/c1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// Other chats are not blocked.
	if err := limiter.Acquire(ctx, "app/c2"); err != nil {
		t.Fatalf("acquire other chat: %v", err)
	}
	limiter.Release("app/c2")

	var wg sync.WaitGroup
	acquired := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := limiter.Acquire(ctx, "app/c1"); err != nil {
			t.Errorf("second acquire: %v", err)
			return
		}
		close(acquired)
		limiter.Release("app/c1")
	}()

	select {
	case <-acquired:
		t.Fatal("second run on the same chat should wait")
	case <-time.After(50 * time.Millisecond):
	}

	limiter.Release("app/c1")
	wg.Wait()

	select {
	case <-acquired:
	default:
		t.Fatal("second run never acquired")
	}
}

func TestConcurrencyLimiter_CancelledWaitFreesSlots(t *testing.T) {
	limiter := NewConcurrencyLimiter(ConcurrencyLimits{
		GlobalMax: 1,
		PerChat:   1,
	})

	ctx := context.Background()
	limiter.Acquire(ctx, "app/c1")
	limiter.Release("app/c1")

	if err := limiter.Acquire(ctx, "app/c1"); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := limiter.Acquire(timeoutCtx, "app/c1"); err == nil {
		t.Fatal("expected timeout error, got nil")
	}
	limiter.Release("app/c1")

	if stats := limiter.Stats(); stats.ActiveRuns != 0 || stats.ActiveChats != 0 {
		t.Fatalf("expected nothing active, got %+v", stats)
	}
}
