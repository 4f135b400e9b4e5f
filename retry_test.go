package loreline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryerRetriesTransient(t *testing.T) {
	r := NewRetryer(RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Jitter:         0,
	})

	calls := 0
	res := r.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	if res.LastErr != nil {
		t.Fatalf("LastErr = %v", res.LastErr)
	}
	if res.Attempts != 3 || calls != 3 {
		t.Errorf("Attempts = %d, calls = %d, want 3", res.Attempts, calls)
	}
}

func TestRetryerStopsOnPermanent(t *testing.T) {
	r := NewRetryer(RetryConfig{MaxAttempts: 5, InitialBackoff: time.Millisecond})

	calls := 0
	res := r.Do(context.Background(), func() error {
		calls++
		return newSyncError(FailurePermanent, "op1", "rejected", nil)
	})
	if calls != 1 {
		t.Errorf("permanent failure retried %d times", calls)
	}
	if !errors.Is(res.LastErr, ErrPermanent) {
		t.Errorf("LastErr = %v", res.LastErr)
	}
}

func TestRetryerHonorsContext(t *testing.T) {
	r := NewRetryer(RetryConfig{
		MaxAttempts:    10,
		InitialBackoff: 50 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := r.Do(ctx, func() error { return errors.New("flaky") })
	if !errors.Is(res.LastErr, context.Canceled) {
		t.Errorf("LastErr = %v, want context.Canceled", res.LastErr)
	}
}

func TestComputeBackoff(t *testing.T) {
	initial := time.Second
	max := 30 * time.Second

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{10, 30 * time.Second}, // capped
	}
	for _, tc := range cases {
		if got := computeBackoff(tc.attempt, initial, max, 2.0); got != tc.want {
			t.Errorf("computeBackoff(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(2, 20*time.Millisecond)
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("Execute = %v", err)
		}
	}
	if cb.State() != "open" {
		t.Fatalf("State = %s, want open", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute while open = %v, want ErrCircuitOpen", err)
	}

	time.Sleep(25 * time.Millisecond)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Errorf("Execute after reset window = %v", err)
	}
	if cb.State() != "closed" || cb.Failures() != 0 {
		t.Errorf("State = %s, Failures = %d after recovery", cb.State(), cb.Failures())
	}
}
