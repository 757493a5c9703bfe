package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_SucceedsWithoutRetry(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), DefaultPolicy(), func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 || calls != 1 {
		t.Errorf("result=%d calls=%d", result, calls)
	}
}

func TestDo_RetriesThenSucceeds(t *testing.T) {
	p := DefaultPolicy()
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 5 * time.Millisecond

	calls := 0
	result, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 7, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 7 || calls != 3 {
		t.Errorf("result=%d calls=%d", result, calls)
	}
}

func TestDo_NonRetriableFailsImmediately(t *testing.T) {
	p := DefaultPolicy()
	p.BaseDelay = time.Millisecond
	p.Retriable = func(error) bool { return false }

	calls := 0
	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("fatal")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call for non-retriable error, got %d", calls)
	}
}

func TestDo_PermanentErrorFailsImmediately(t *testing.T) {
	p := DefaultPolicy()
	p.BaseDelay = time.Millisecond

	calls := 0
	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		calls++
		return 0, Permanent(errors.New("malformed response"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call for permanent error, got %d", calls)
	}
}

func TestDo_ExhaustsMaxAttempts(t *testing.T) {
	p := DefaultPolicy()
	p.MaxAttempts = 2
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 2 * time.Millisecond

	calls := 0
	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("always fails")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
}
