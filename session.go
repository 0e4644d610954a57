package rmcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/mcp-tx/rmcp-go/internal/config"
	"github.com/mcp-tx/rmcp-go/internal/dedup"
	"github.com/mcp-tx/rmcp-go/internal/encoder"
	"github.com/mcp-tx/rmcp-go/internal/metrics"
	"github.com/mcp-tx/rmcp-go/internal/rerr"
	"github.com/mcp-tx/rmcp-go/internal/retry"
	"github.com/mcp-tx/rmcp-go/internal/tracker"
	"github.com/mcp-tx/rmcp-go/internal/types"
)

// closeGrace bounds how long Close waits for outstanding calls, per
// spec.md §4.1.
const closeGrace = time.Second

// Session is the public entry point: the Session Orchestrator of spec.md
// §4.1, composing the retry engine, dedup cache, and tracker registry
// around a single underlying MCP session.
type Session struct {
	underlying UnderlyingSession
	opts       *config.Options
	policy     types.RetryPolicy

	sem     *semaphore.Weighted
	dedup   *dedup.Cache
	tracker *tracker.Registry
	engine  *retry.Engine
	tracer  trace.Tracer
	logger  *slog.Logger

	enabled bool
}

// New builds a Session over underlying, not yet initialized.
func New(underlying UnderlyingSession, opts *config.Options) *Session {
	logger := slog.Default()
	return &Session{
		underlying: underlying,
		opts:       opts,
		policy:     opts.RetryPolicy(),
		sem:        semaphore.NewWeighted(opts.MaxConcurrentRequests),
		dedup:      dedup.New(time.Duration(opts.DeduplicationWindowMS)*time.Millisecond, opts.DeduplicationCapacity),
		tracker:    tracker.NewRegistry(),
		engine:     retry.NewEngine(),
		tracer:     otel.Tracer("github.com/mcp-tx/rmcp-go"),
		logger:     logger,
	}
}

// Initialize negotiates the rmcp capability. Calling it twice is a client
// error, but not fatal: it simply re-runs negotiation, per spec.md §4.1.
func (s *Session) Initialize(ctx context.Context) error {
	reporter, ok := s.underlying.(CapabilityReporter)
	if !ok {
		s.logger.Info("rmcp: peer session reports no capabilities, disabling reliability wrapping")
		s.enabled = false
		return nil
	}

	caps := reporter.NegotiatedCapabilities()
	advertised, _ := caps["rmcp"].(map[string]any)
	version, _ := advertised["version"].(string)

	s.enabled = version == types.ProtocolVersion
	s.logger.Info("rmcp: capability negotiation complete", "enabled", s.enabled, "peer_version", version)
	return nil
}

// CallTool invokes a tool, wrapping it with reliability guarantees when
// the session is enabled, or delegating directly otherwise.
func (s *Session) CallTool(ctx context.Context, name string, arguments map[string]any, opts CallOptions) (types.Result, error) {
	if err := validateToolName(name); err != nil {
		return types.Result{}, rerr.InvalidArgument(err.Error(), nil)
	}
	if err := validateIdempotencyKey(opts.IdempotencyKey); err != nil {
		return types.Result{}, rerr.InvalidArgument(err.Error(), nil)
	}
	if err := validateTimeoutMS(opts.TimeoutMS); err != nil {
		return types.Result{}, rerr.InvalidArgument(err.Error(), nil)
	}

	argsJSON, err := json.Marshal(arguments)
	if err != nil {
		return types.Result{}, rerr.InvalidArgument("arguments must be JSON-serializable", err)
	}
	if int64(len(argsJSON)) > s.opts.MaxMessageSize {
		return types.Result{}, rerr.InvalidArgument("request exceeds max_message_size", nil)
	}

	if !s.enabled {
		return s.callDirect(ctx, name, argsJSON)
	}

	ctx, span := s.tracer.Start(ctx, "rmcp.call_tool", trace.WithAttributes(
		attribute.String("rmcp.tool", name),
	))
	defer span.End()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		span.SetStatus(codes.Error, "cancelled acquiring concurrency slot")
		return types.Result{}, rerr.Cancelled(err)
	}
	defer s.sem.Release(1)

	identity, err := types.NewRequestIdentity(opts.IdempotencyKey, types.ProtocolVersion)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return types.Result{}, rerr.InvalidArgument(err.Error(), err)
	}
	span.SetAttributes(attribute.String("rmcp.request_id", identity.ID))
	if identity.HasIdempotencyKey() {
		span.SetAttributes(attribute.String("rmcp.idempotency_key", types.RedactedKey(identity.IdempotencyKey)))
	}

	timeoutMS := opts.TimeoutMS
	if timeoutMS == 0 {
		timeoutMS = s.opts.DefaultTimeoutMS
	}
	deadline := time.Now().Add(time.Duration(timeoutMS) * time.Millisecond)

	policy := s.policy
	if opts.RetryPolicy != nil {
		policy = *opts.RetryPolicy
	}

	exec := func(ctx context.Context) (types.Result, error) {
		return s.runAttempts(ctx, identity, name, argsJSON, timeoutMS, policy, deadline)
	}

	var result types.Result
	if identity.HasIdempotencyKey() {
		var role dedup.Role
		result, role, err = s.dedup.Execute(ctx, identity.IdempotencyKey, exec)
		span.SetAttributes(attribute.String("rmcp.dedup_role", string(role)))
	} else {
		result, err = exec(ctx)
	}

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
	metrics.CallsTotal.WithLabelValues(name, outcomeLabel(err)).Inc()
	return result, err
}

// runAttempts registers a Tracker, drives the retry engine, and handles
// tracker/dedup bookkeeping around one non-cached execution.
func (s *Session) runAttempts(ctx context.Context, identity types.RequestIdentity, name string, argsJSON []byte, timeoutMS int64, policy types.RetryPolicy, deadline time.Time) (types.Result, error) {
	s.tracker.Register(identity.ID)
	metrics.TrackerInFlight.Set(float64(s.tracker.Len()))
	defer func() {
		s.tracker.Unregister(identity.ID)
		metrics.TrackerInFlight.Set(float64(s.tracker.Len()))
	}()

	var payload any
	start := time.Now()
	meta, err := s.engine.Execute(ctx, identity.ID, policy, deadline, s.tracker,
		func(ctx context.Context, attempt int) (types.ReliabilityMeta, error) {
			return s.attempt(ctx, identity, name, argsJSON, attempt, timeoutMS, deadline, &payload)
		})
	metrics.CallDuration.WithLabelValues(name, outcomeLabel(err)).Observe(time.Since(start).Seconds())

	if err != nil {
		rerrErr, _ := rerr.As(err)
		attempts := 0
		if rerrErr != nil {
			if a, ok := rerrErr.Details["attempts"].(int); ok {
				attempts = a
			}
		}
		return types.Result{Meta: types.ReliabilityMeta{
			Version:      types.ProtocolVersion,
			RequestID:    identity.ID,
			Ack:          false,
			Processed:    false,
			FinalStatus:  types.FinalStatusFailed,
			Attempts:     attempts,
			ErrorMessage: err.Error(),
		}}, err
	}

	return types.Result{Payload: payload, Meta: meta}, nil
}

// attempt performs one underlying send/receive: encodes the sidecar into
// arguments, calls the underlying session, decodes the peer's sidecar, and
// classifies timeouts against the per-attempt budget. The decoded tool
// payload (everything but the sidecar) is written to payloadOut on success.
// Per spec.md §4.2, the effective per-attempt wait is
// min(timeout_ms, remaining_deadline): a late attempt never gets the full
// per-attempt budget if the call's overall deadline is closer than that.
func (s *Session) attempt(ctx context.Context, identity types.RequestIdentity, name string, argsJSON []byte, attemptNum int, timeoutMS int64, deadline time.Time, payloadOut *any) (types.ReliabilityMeta, error) {
	ctx, span := s.tracer.Start(ctx, "rmcp.attempt", trace.WithAttributes(
		attribute.String("rmcp.request_id", identity.ID),
		attribute.Int("rmcp.attempt", attemptNum),
	))
	defer span.End()

	requestMeta := types.ReliabilityMeta{
		Version:        types.ProtocolVersion,
		RequestID:      identity.ID,
		IdempotencyKey: identity.IdempotencyKey,
		Attempt:        attemptNum,
		TimeoutMS:      timeoutMS,
		ExpectAck:      true,
	}

	encoded, err := encoder.EncodeRequest(argsJSON, requestMeta)
	if err != nil {
		metrics.AttemptsTotal.WithLabelValues(name, "error").Inc()
		return types.ReliabilityMeta{}, err
	}

	attemptTimeout := time.Duration(timeoutMS) * time.Millisecond
	if remaining := time.Until(deadline); remaining < attemptTimeout {
		attemptTimeout = remaining
	}
	attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	if attemptNum > 1 {
		metrics.RetriesTotal.WithLabelValues(name).Inc()
	}

	raw, err := s.underlying.CallTool(attemptCtx, name, encoded)
	if err != nil {
		if attemptCtx.Err() != nil && ctx.Err() == nil {
			metrics.AttemptsTotal.WithLabelValues(name, "error").Inc()
			return types.ReliabilityMeta{}, rerr.Timeout("per-attempt timeout", err, s.policy.RetryOnTimeout)
		}
		metrics.AttemptsTotal.WithLabelValues(name, "error").Inc()
		return types.ReliabilityMeta{}, err
	}

	meta, _, err := encoder.DecodeResponse(raw, s.enabled)
	if err != nil {
		metrics.AttemptsTotal.WithLabelValues(name, "error").Inc()
		return types.ReliabilityMeta{}, err
	}

	if meta.Ack {
		metrics.AttemptsTotal.WithLabelValues(name, "acked").Inc()
		if stripped, err := encoder.StripSidecar(raw); err == nil {
			var payload any
			if err := json.Unmarshal(stripped, &payload); err == nil {
				*payloadOut = payload
			}
		}
	} else {
		metrics.AttemptsTotal.WithLabelValues(name, "nacked").Inc()
	}
	return meta, nil
}

// callDirect delegates straight to the underlying session when the
// reliability capability was never negotiated.
func (s *Session) callDirect(ctx context.Context, name string, argsJSON []byte) (types.Result, error) {
	raw, err := s.underlying.CallTool(ctx, name, argsJSON)
	if err != nil {
		return types.Result{}, rerr.Network(err.Error(), err)
	}
	stripped, err := encoder.StripSidecar(raw)
	if err != nil {
		stripped = raw
	}
	var payload any
	_ = json.Unmarshal(stripped, &payload)
	result := types.SyntheticResult(payload, "")
	return result, nil
}

// ActiveRequests reports the number of in-flight tracked requests.
func (s *Session) ActiveRequests() int {
	return s.tracker.Len()
}

// Snapshot returns a read-only view of every in-flight tracker.
func (s *Session) Snapshot() []tracker.Tracker {
	return s.tracker.Snapshot()
}

// DedupStats returns the deduplication cache's hit/miss/eviction counters.
func (s *Session) DedupStats() dedup.Stats {
	return s.dedup.Stats()
}

// Close waits up to a short grace period for outstanding calls, then
// closes the underlying session. Idempotent.
func (s *Session) Close(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, closeGrace)
	defer cancel()

waitLoop:
	for s.tracker.Len() > 0 {
		select {
		case <-waitCtx.Done():
			s.logger.Warn("rmcp: close grace period elapsed with requests still in flight", "count", s.tracker.Len())
			break waitLoop
		case <-time.After(10 * time.Millisecond):
		}
	}

	return s.underlying.Close()
}

func outcomeLabel(err error) string {
	if err == nil {
		return "completed"
	}
	if rerrErr, ok := rerr.As(err); ok && rerrErr.Kind == rerr.KindCancelled {
		return "cancelled"
	}
	return "failed"
}
