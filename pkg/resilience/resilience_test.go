// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	pilotErrors "github.com/erpilot-ai/erpilot/pkg/errors"
)

func TestRetryRecoversAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := DefaultRetryConfig().WithInitialDelay(time.Millisecond).Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("ollama unavailable")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryStopsAtMaxAttempts(t *testing.T) {
	attempts := 0
	boom := errors.New("still down")
	err := DefaultRetryConfig().WithMaxAttempts(2).WithInitialDelay(time.Millisecond).
		Do(context.Background(), func() error {
			attempts++
			return boom
		})

	if !errors.Is(err, boom) {
		t.Errorf("want the last error back, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestRetryUnrecoverableFailsFast(t *testing.T) {
	attempts := 0
	err := DefaultRetryConfig().WithIsRecoverable(func(error) bool { return false }).
		Do(context.Background(), func() error {
			attempts++
			return errors.New("bad prompt")
		})

	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Errorf("unrecoverable error must not be retried, attempts = %d", attempts)
	}
}

func TestRetryRespectsErrorRecoverableFlag(t *testing.T) {
	fatal := pilotErrors.New(pilotErrors.CodeInvalidInput, "malformed query", nil)

	attempts := 0
	err := DefaultRetryConfig().WithInitialDelay(time.Millisecond).Do(context.Background(), func() error {
		attempts++
		return fatal
	})

	if !errors.Is(err, fatal) {
		t.Errorf("want the typed error back, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("non-recoverable typed error must fail fast, attempts = %d", attempts)
	}

	attempts = 0
	transient := pilotErrors.New(pilotErrors.CodeTimeout, "backend timed out", nil).WithRecoverable(true)
	err = DefaultRetryConfig().WithInitialDelay(time.Millisecond).Do(context.Background(), func() error {
		attempts++
		if attempts < 2 {
			return transient
		}
		return nil
	})
	if err != nil || attempts != 2 {
		t.Errorf("recoverable typed error should retry: err=%v attempts=%d", err, attempts)
	}
}

func TestRetryCancellationSurfacesContextLost(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := DefaultRetryConfig().WithInitialDelay(100 * time.Millisecond).
		Do(ctx, func() error { return errors.New("keep retrying") })

	if !pilotErrors.HasCode(err, pilotErrors.CodeContextLost) {
		t.Errorf("canceled retry loop should report CONTEXT_LOST, got %v", err)
	}
}

func TestRetryWithResult(t *testing.T) {
	attempts := 0
	result, err := DefaultRetryConfig().WithInitialDelay(time.Millisecond).
		DoWithResult(context.Background(), func() (interface{}, error) {
			attempts++
			if attempts < 2 {
				return nil, errors.New("transient")
			}
			return "the answer", nil
		})

	if err != nil {
		t.Fatalf("DoWithResult: %v", err)
	}
	if result != "the answer" {
		t.Errorf("result = %v", result)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	rc := RetryConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2.0}

	if d := rc.backoff(1); d != 20*time.Millisecond {
		t.Errorf("backoff(1) = %s, want 20ms", d)
	}
	if d := rc.backoff(5); d != 50*time.Millisecond {
		t.Errorf("backoff(5) = %s, want the 50ms cap", d)
	}
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, Name: "graph_lookup"})

	for i := 0; i < 5; i++ {
		if err := cb.Call(context.Background(), func() error { return nil }); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %s, want closed", cb.State())
	}
}

func TestBreakerTripsAndRejects(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, Name: "graph_lookup"})

	for i := 0; i < 2; i++ {
		_ = cb.Call(context.Background(), func() error { return errors.New("neo4j down") })
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}

	err := cb.Call(context.Background(), func() error {
		t.Fatal("open breaker must not run the call")
		return nil
	})
	if !pilotErrors.HasCode(err, pilotErrors.CodeInternal) {
		t.Errorf("rejection should carry INTERNAL, got %v", err)
	}
	var pe *pilotErrors.PilotError
	if errors.As(err, &pe) && !pe.Recoverable {
		t.Errorf("a tripped breaker is a transient condition, error must be recoverable")
	}
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond,
		Name:             "graph_lookup",
	})

	_ = cb.Call(context.Background(), func() error { return errors.New("fail") })
	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}

	time.Sleep(80 * time.Millisecond)
	_ = cb.Call(context.Background(), func() error { return nil })
	if cb.State() != StateHalfOpen {
		t.Errorf("state = %s, want half-open after cooldown", cb.State())
	}

	_ = cb.Call(context.Background(), func() error { return nil })
	if cb.State() != StateClosed {
		t.Errorf("state = %s, want closed after success threshold", cb.State())
	}
}

func TestBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Name: "graph_lookup"})

	_ = cb.Call(context.Background(), func() error { return errors.New("fail") })
	cb.Reset()

	if cb.State() != StateClosed {
		t.Errorf("state = %s, want closed after reset", cb.State())
	}
	if err := cb.Call(context.Background(), func() error { return nil }); err != nil {
		t.Errorf("call after reset: %v", err)
	}
}

func TestWithTimeoutCompletes(t *testing.T) {
	err := WithTimeout(context.Background(), 100*time.Millisecond, func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Errorf("WithTimeout: %v", err)
	}
}

func TestWithTimeoutExpires(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	var pe *pilotErrors.PilotError
	if !errors.As(err, &pe) || pe.Code != pilotErrors.CodeTimeout {
		t.Fatalf("expected CodeTimeout, got %v", err)
	}
	if !pe.Recoverable {
		t.Errorf("timeout should be recoverable")
	}
}

func TestWithTimeoutZeroRunsInline(t *testing.T) {
	ran := false
	err := WithTimeout(context.Background(), 0, func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil || !ran {
		t.Errorf("zero duration should run fn directly, err=%v ran=%v", err, ran)
	}
}
