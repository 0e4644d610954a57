package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mcp-tx/rmcp-go/internal/rerr"
	"github.com/mcp-tx/rmcp-go/internal/tracker"
	"github.com/mcp-tx/rmcp-go/internal/types"
)

func zeroJitter() float64 { return 0 } // forces the 0.5 floor of half-jitter

func TestExecute_SucceedsFirstAttempt(t *testing.T) {
	reg := tracker.NewRegistry()
	reg.Register("r-1")
	e := &Engine{JitterFunc: zeroJitter}

	calls := 0
	meta, err := e.Execute(context.Background(), "r-1", types.DefaultRetryPolicy(), time.Now().Add(time.Minute), reg,
		func(ctx context.Context, attempt int) (types.ReliabilityMeta, error) {
			calls++
			return types.ReliabilityMeta{Ack: true, Processed: true}, nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !meta.Ack {
		t.Error("expected acked meta")
	}
	if meta.Attempts != 1 {
		t.Errorf("expected meta.Attempts=1, got %d", meta.Attempts)
	}
	if meta.FinalStatus != types.FinalStatusCompleted {
		t.Errorf("expected FinalStatusCompleted, got %q", meta.FinalStatus)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	tr, _ := reg.Get("r-1")
	if tr.Status != tracker.StatusCompleted {
		t.Errorf("expected StatusCompleted, got %v", tr.Status)
	}
}

func TestExecute_TransientThenSuccess(t *testing.T) {
	reg := tracker.NewRegistry()
	reg.Register("r-1")
	policy := types.DefaultRetryPolicy()
	policy.BaseDelay = time.Millisecond
	policy.MaxDelay = 5 * time.Millisecond
	e := &Engine{JitterFunc: zeroJitter}

	attempts := 0
	meta, err := e.Execute(context.Background(), "r-1", policy, time.Now().Add(time.Minute), reg,
		func(ctx context.Context, attempt int) (types.ReliabilityMeta, error) {
			attempts++
			if attempts < 2 {
				return types.ReliabilityMeta{}, errors.New("connection reset")
			}
			return types.ReliabilityMeta{Ack: true, Processed: true}, nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !meta.Ack || attempts != 2 {
		t.Errorf("expected success on 2nd attempt, got attempts=%d meta=%+v", attempts, meta)
	}
	if meta.Attempts != 2 {
		t.Errorf("expected meta.Attempts=2 to reflect the wrapper's own attempt count, got %d", meta.Attempts)
	}
}

func TestExecute_ExhaustsMaxAttempts(t *testing.T) {
	reg := tracker.NewRegistry()
	reg.Register("r-1")
	policy := types.DefaultRetryPolicy()
	policy.MaxAttempts = 3
	policy.BaseDelay = time.Millisecond
	policy.MaxDelay = 2 * time.Millisecond
	e := &Engine{JitterFunc: zeroJitter}

	attempts := 0
	_, err := e.Execute(context.Background(), "r-1", policy, time.Now().Add(time.Minute), reg,
		func(ctx context.Context, attempt int) (types.ReliabilityMeta, error) {
			attempts++
			return types.ReliabilityMeta{}, errors.New("unavailable")
		})
	if err == nil {
		t.Fatal("expected terminal error after exhausting attempts")
	}
	if attempts != policy.MaxAttempts {
		t.Errorf("expected %d attempts, got %d", policy.MaxAttempts, attempts)
	}
	rerrErr, ok := rerr.As(err)
	if !ok {
		t.Fatalf("expected *rerr.Error, got %T", err)
	}
	if rerrErr.Details["attempts"] != policy.MaxAttempts {
		t.Errorf("expected attempts detail %d, got %v", policy.MaxAttempts, rerrErr.Details["attempts"])
	}
	tr, _ := reg.Get("r-1")
	if tr.Status != tracker.StatusFailed {
		t.Errorf("expected StatusFailed, got %v", tr.Status)
	}
}

func TestExecute_InvalidArgumentNeverRetried(t *testing.T) {
	reg := tracker.NewRegistry()
	reg.Register("r-1")
	policy := types.DefaultRetryPolicy()
	e := &Engine{JitterFunc: zeroJitter}

	calls := 0
	_, err := e.Execute(context.Background(), "r-1", policy, time.Now().Add(time.Minute), reg,
		func(ctx context.Context, attempt int) (types.ReliabilityMeta, error) {
			calls++
			return types.ReliabilityMeta{}, rerr.InvalidArgument("bad args", nil)
		})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 attempt for a non-retryable error, got %d", calls)
	}
}

func TestExecute_DeadlineCutoffSkipsFinalRetry(t *testing.T) {
	reg := tracker.NewRegistry()
	reg.Register("r-1")
	policy := types.DefaultRetryPolicy()
	policy.MaxAttempts = 5
	policy.BaseDelay = 500 * time.Millisecond
	policy.MaxDelay = 500 * time.Millisecond
	policy.Jitter = false
	e := &Engine{JitterFunc: zeroJitter}

	// Deadline allows only the first attempt's worth of time, not a second
	// delay-plus-call cycle.
	deadline := time.Now().Add(100 * time.Millisecond)

	attempts := 0
	_, err := e.Execute(context.Background(), "r-1", policy, deadline, reg,
		func(ctx context.Context, attempt int) (types.ReliabilityMeta, error) {
			attempts++
			return types.ReliabilityMeta{}, errors.New("timeout talking to peer")
		})
	if err == nil {
		t.Fatal("expected deadline-cutoff error")
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt before deadline cutoff, got %d", attempts)
	}
	rerrErr, ok := rerr.As(err)
	if !ok || rerrErr.Kind != rerr.KindTimeout {
		t.Errorf("expected KindTimeout, got %+v", err)
	}
}

func TestExecute_PeerNackNonTransientIsTerminal(t *testing.T) {
	reg := tracker.NewRegistry()
	reg.Register("r-1")
	policy := types.DefaultRetryPolicy()
	e := &Engine{JitterFunc: zeroJitter}

	calls := 0
	_, err := e.Execute(context.Background(), "r-1", policy, time.Now().Add(time.Minute), reg,
		func(ctx context.Context, attempt int) (types.ReliabilityMeta, error) {
			calls++
			return types.ReliabilityMeta{Ack: false, ErrorCode: "permission_denied", ErrorMessage: "no"}, nil
		})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 attempt for non-transient nack, got %d", calls)
	}
}

func TestExecute_PeerNackTransientRetries(t *testing.T) {
	reg := tracker.NewRegistry()
	reg.Register("r-1")
	policy := types.DefaultRetryPolicy()
	policy.BaseDelay = time.Millisecond
	policy.MaxDelay = 2 * time.Millisecond
	e := &Engine{JitterFunc: zeroJitter}

	attempts := 0
	meta, err := e.Execute(context.Background(), "r-1", policy, time.Now().Add(time.Minute), reg,
		func(ctx context.Context, attempt int) (types.ReliabilityMeta, error) {
			attempts++
			if attempts < 2 {
				return types.ReliabilityMeta{Ack: false, ErrorCode: "overloaded"}, nil
			}
			return types.ReliabilityMeta{Ack: true, Processed: true}, nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !meta.Ack || attempts != 2 {
		t.Errorf("expected success on 2nd attempt, got attempts=%d", attempts)
	}
}

func TestBackoffDelay_BoundedByMaxDelay(t *testing.T) {
	policy := types.RetryPolicy{
		BaseDelay:         time.Second,
		MaxDelay:          3 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            false,
	}
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffDelay(policy, attempt, zeroJitter)
		if d > policy.MaxDelay {
			t.Errorf("attempt %d: delay %v exceeds MaxDelay %v", attempt, d, policy.MaxDelay)
		}
	}
}

func TestBackoffDelay_HalfJitterRange(t *testing.T) {
	policy := types.RetryPolicy{
		BaseDelay:         100 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
	base := float64(200 * time.Millisecond) // attempt 2: base*2^1
	lo := time.Duration(base * 0.5)
	hi := time.Duration(base * 1.5)

	for _, f := range []float64{0, 0.25, 0.5, 0.75, 0.999} {
		d := backoffDelay(policy, 2, func() float64 { return f })
		if d < lo || d > hi {
			t.Errorf("jitter factor %v: delay %v out of range [%v,%v]", f, d, lo, hi)
		}
	}
}

func TestExecute_ContextCancellationDuringDelay(t *testing.T) {
	reg := tracker.NewRegistry()
	reg.Register("r-1")
	policy := types.DefaultRetryPolicy()
	policy.BaseDelay = time.Second
	policy.MaxDelay = time.Second
	policy.Jitter = false
	e := &Engine{JitterFunc: zeroJitter}

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := e.Execute(ctx, "r-1", policy, time.Now().Add(time.Minute), reg,
		func(ctx context.Context, attempt int) (types.ReliabilityMeta, error) {
			attempts++
			return types.ReliabilityMeta{}, errors.New("network blip")
		})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	rerrErr, ok := rerr.As(err)
	if !ok || rerrErr.Kind != rerr.KindCancelled {
		t.Errorf("expected KindCancelled, got %+v", err)
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt before cancellation, got %d", attempts)
	}
}
