package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecute(t *testing.T) {
	t.Run("succeeds without retrying when fn succeeds first try", func(t *testing.T) {
		c := New()
		calls := 0
		err := c.Execute(context.Background(), "op", func(ctx context.Context) error {
			calls++
			return nil
		})
		if err != nil || calls != 1 {
			t.Fatalf("expected single successful call, got calls=%d err=%v", calls, err)
		}
	})

	t.Run("retries up to MaxAttempts then returns a wrapped error", func(t *testing.T) {
		c := New()
		c.RegisterPolicy("op", Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Strategy: StrategyFixed})
		calls := 0
		err := c.Execute(context.Background(), "op", func(ctx context.Context) error {
			calls++
			return errors.New("boom")
		})
		if calls != 3 {
			t.Errorf("expected 3 attempts, got %d", calls)
		}
		if err == nil {
			t.Fatal("expected an error after exhausting retries")
		}
	})

	t.Run("retries until a later attempt succeeds", func(t *testing.T) {
		c := New()
		c.RegisterPolicy("op", Policy{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Strategy: StrategyLinear})
		calls := 0
		err := c.Execute(context.Background(), "op", func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("not yet")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("expected eventual success, got %v", err)
		}
		if calls != 3 {
			t.Errorf("expected exactly 3 calls, got %d", calls)
		}
	})

	t.Run("context cancellation stops retrying early", func(t *testing.T) {
		c := New()
		c.RegisterPolicy("op", Policy{MaxAttempts: 10, InitialDelay: 20 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Strategy: StrategyExponential})
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		go func() {
			time.Sleep(5 * time.Millisecond)
			cancel()
		}()
		err := c.Execute(ctx, "op", func(ctx context.Context) error {
			calls++
			return errors.New("boom")
		})
		if err == nil {
			t.Fatal("expected an error from cancellation")
		}
		if calls >= 10 {
			t.Errorf("expected cancellation to cut attempts short, got %d calls", calls)
		}
	})
}

func TestCircuitBreaker(t *testing.T) {
	t.Run("opens after the failure threshold and blocks further attempts", func(t *testing.T) {
		c := New()
		c.RegisterPolicy("flaky", Policy{MaxAttempts: 1, InitialDelay: time.Millisecond, Strategy: StrategyFixed})
		for i := 0; i < 5; i++ {
			_ = c.Execute(context.Background(), "flaky", func(ctx context.Context) error {
				return errors.New("boom")
			})
		}
		if c.State("flaky") != CircuitOpen {
			t.Fatalf("expected circuit to be open after 5 failures, got %v", c.State("flaky"))
		}
		calls := 0
		err := c.Execute(context.Background(), "flaky", func(ctx context.Context) error {
			calls++
			return nil
		})
		if calls != 0 || err == nil {
			t.Errorf("expected the open circuit to block execution entirely, got calls=%d err=%v", calls, err)
		}
	})

	t.Run("reset closes the circuit", func(t *testing.T) {
		c := New()
		c.RegisterPolicy("flaky", Policy{MaxAttempts: 1, InitialDelay: time.Millisecond, Strategy: StrategyFixed})
		for i := 0; i < 5; i++ {
			_ = c.Execute(context.Background(), "flaky", func(ctx context.Context) error {
				return errors.New("boom")
			})
		}
		c.Reset("flaky")
		if c.State("flaky") != CircuitClosed {
			t.Errorf("expected closed state after reset, got %v", c.State("flaky"))
		}
	})
}
