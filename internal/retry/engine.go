// Package retry implements the Retry Engine of spec.md §4.2: one outer
// loop over attempts, classifier-driven retry/terminal decisions, bounded
// exponential backoff with optional half-jitter, and a per-call deadline
// that is never exceeded by more than one in-flight attempt's budget.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/mcp-tx/rmcp-go/internal/rerr"
	"github.com/mcp-tx/rmcp-go/internal/tracker"
	"github.com/mcp-tx/rmcp-go/internal/types"
)

// minimumCallTime is the budget reserved for the final attempt's own
// round-trip when deciding whether another retry delay would blow the
// deadline (spec.md §4.2 step 7).
const minimumCallTime = 50 * time.Millisecond

// AttemptFunc performs one underlying MCP send/receive for attempt n and
// must be replayable: the engine may call it up to policy.MaxAttempts
// times with the same request identity and a fresh attempt number each
// time. It returns the sidecar reported by the peer (or a zero value on
// error) alongside any transport/classification error.
type AttemptFunc func(ctx context.Context, attempt int) (types.ReliabilityMeta, error)

// Engine runs body_fn under a RetryPolicy, updating a Tracker as it goes.
// Stateless across calls — one Engine can be shared by every call_tool
// invocation in a session.
type Engine struct {
	// JitterFunc returns a uniform value in [0,1); defaults to
	// math/rand/v2.Float64. Injectable so tests can assert exact delays
	// instead of ranges (grounded on the corpus's injectable-jitter retry
	// implementations).
	JitterFunc func() float64
}

// NewEngine returns an Engine with the default jitter source.
func NewEngine() *Engine {
	return &Engine{JitterFunc: rand.Float64}
}

// Execute runs the retry loop for one call_tool invocation and returns the
// final sidecar on success, or a terminal *rerr.Error on failure.
func (e *Engine) Execute(
	ctx context.Context,
	requestID string,
	policy types.RetryPolicy,
	deadline time.Time,
	reg *tracker.Registry,
	fn AttemptFunc,
) (types.ReliabilityMeta, error) {
	jitterFunc := e.JitterFunc
	if jitterFunc == nil {
		jitterFunc = rand.Float64
	}

	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		reg.UpdateStatus(requestID, tracker.StatusSent, attempt, nil)

		meta, err := fn(ctx, attempt)
		if err == nil {
			if meta.Ack && !meta.Processed {
				// ack without processing is incoherent per spec.md §9 Open
				// Questions — treat as a terminal Sequence error.
				lastErr = rerr.Sequence("ack without processed", nil)
			} else if meta.Ack {
				reg.UpdateStatus(requestID, tracker.StatusCompleted, attempt, nil)
				meta.Attempts = attempt
				meta.FinalStatus = types.FinalStatusCompleted
				return meta, nil
			} else {
				lastErr = classifyNack(meta, policy)
			}
		} else {
			lastErr = classify(ctx, err, policy)
		}

		rerrErr, _ := rerr.As(lastErr)
		terminal := rerrErr == nil || !rerrErr.Retryable
		if !terminal && rerrErr.Kind != rerr.KindPeerNack && policy.RetryableKinds != nil &&
			!policy.RetryableKinds[rerrErr.Kind.ToPolicyKind()] {
			// Kinds outside the policy's retryable set are terminal; PeerNack
			// is decided by the transient-code table instead.
			terminal = true
		}

		if terminal || attempt == policy.MaxAttempts {
			reg.UpdateStatus(requestID, tracker.StatusFailed, attempt, lastErr)
			return types.ReliabilityMeta{}, withAttempts(lastErr, attempt)
		}

		delay := backoffDelay(policy, attempt, jitterFunc)
		if time.Now().Add(delay).Add(minimumCallTime).After(deadline) {
			timeoutErr := rerr.Timeout("retry delay would exceed deadline", lastErr, false)
			reg.UpdateStatus(requestID, tracker.StatusFailed, attempt, timeoutErr)
			return types.ReliabilityMeta{}, withAttempts(timeoutErr, attempt)
		}

		reg.UpdateStatus(requestID, tracker.StatusRetrying, attempt, lastErr)
		if err := sleep(ctx, delay); err != nil {
			cancelErr := rerr.Cancelled(err)
			reg.UpdateStatus(requestID, tracker.StatusFailed, attempt, cancelErr)
			return types.ReliabilityMeta{}, withAttempts(cancelErr, attempt)
		}
	}

	// Reached only when policy.MaxAttempts < 1: no attempt was made.
	if lastErr == nil {
		lastErr = rerr.InvalidArgument("retry policy max_attempts must be at least 1", nil)
	}
	reg.UpdateStatus(requestID, tracker.StatusFailed, 0, lastErr)
	return types.ReliabilityMeta{}, withAttempts(lastErr, 0)
}

// backoffDelay computes d = min(max, base * multiplier^(attempt-1)),
// applying half-jitter (d *= uniform[0.5,1.5]) when policy.Jitter is set.
// Half-jitter was chosen over full-jitter (d *= uniform[0,1)) because
// base_delay_ms/max_delay_ms are meant as the *expected* delay an operator
// tunes against, not an upper bound alone; full jitter would make the
// configured base delay a ceiling on a distribution whose mean is half of
// it, which defeats the purpose of exposing the knob.
func backoffDelay(policy types.RetryPolicy, attempt int, jitterFunc func() float64) time.Duration {
	d := float64(policy.BaseDelay) * pow(policy.BackoffMultiplier, attempt-1)
	if max := float64(policy.MaxDelay); d > max {
		d = max
	}
	if policy.Jitter {
		factor := 0.5 + jitterFunc() // uniform in [0.5, 1.5)
		d *= factor
	}
	return time.Duration(d)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func withAttempts(err error, attempts int) error {
	e, ok := rerr.As(err)
	if !ok {
		return err
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details["attempts"] = attempts
	return e
}

// classify turns a body_fn error (transport failure, or a propagated
// cancellation) into a typed, classified error.
func classify(ctx context.Context, err error, policy types.RetryPolicy) error {
	if ctx.Err() != nil {
		return rerr.Cancelled(ctx.Err())
	}
	if existing, ok := rerr.As(err); ok {
		if existing.Kind == rerr.KindTimeout {
			existing.Retryable = policy.RetryOnTimeout
		}
		return existing
	}
	return rerr.Network(err.Error(), err)
}

// classifyNack turns a peer NACK (ack=false) into a typed PeerNack error,
// using the policy's transient-code table.
func classifyNack(meta types.ReliabilityMeta, policy types.RetryPolicy) error {
	code := meta.ErrorCode
	if code == "" {
		code = "nack"
	}
	transient := policy.IsTransientNackCode(code)
	return rerr.PeerNack(code, meta.ErrorMessage, transient)
}
