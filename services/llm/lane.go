package llm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"
)

// DefaultRequestTimeout bounds a single generate call on the lane. Local
// CPU inference for a 512 token completion routinely takes over a minute,
// so this is deliberately generous.
const DefaultRequestTimeout = 120 * time.Second

// Lane serializes access to a single model instance. The local llama.cpp
// server handles exactly one completion at a time, so every pipeline
// worker funnels its generate calls through one Lane. Waiters are released
// as soon as their context is done, even while another call holds the
// lane, so task cancellation never blocks on a slow completion.
type Lane struct {
	client  LLMClient
	sem     chan struct{}
	limiter *rate.Limiter
	timeout time.Duration
	queued  atomic.Int64
}

// LaneOption configures a Lane.
type LaneOption func(*Lane)

// WithRequestTimeout overrides the per-call deadline applied on top of the
// caller's context. Zero disables the lane-level deadline.
func WithRequestTimeout(d time.Duration) LaneOption {
	return func(l *Lane) { l.timeout = d }
}

// WithRateLimit paces generate calls, mostly to keep a shared development
// box responsive while a long fix run grinds through violations.
func WithRateLimit(limit rate.Limit, burst int) LaneOption {
	return func(l *Lane) { l.limiter = rate.NewLimiter(limit, burst) }
}

// NewLane wraps client in a serialized lane.
func NewLane(client LLMClient, opts ...LaneOption) *Lane {
	l := &Lane{
		client:  client,
		sem:     make(chan struct{}, 1),
		timeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// QueueDepth reports how many calls are queued or running right now.
func (l *Lane) QueueDepth() int {
	return int(l.queued.Load())
}

// Generate acquires the lane, then delegates to the wrapped client. The
// caller's context governs both the wait for the lane and the call itself;
// the lane's own timeout maps onto ErrTimeout so retries can tell a slow
// model from a cancelled task.
func (l *Lane) Generate(ctx context.Context, prompt string, params *GenerationParams) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := initMetrics(); err != nil {
		return "", fmt.Errorf("Failed to initialize lane metrics: %w", err)
	}

	ctx, span := laneTracer.Start(ctx, "llm.lane.generate")
	defer span.End()

	l.queued.Add(1)
	laneQueueDepth.Add(ctx, 1)
	defer func() {
		l.queued.Add(-1)
		laneQueueDepth.Add(context.Background(), -1)
	}()

	waitStart := time.Now()
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		laneGenerations.Add(context.Background(), 1, outcomeAttr("abandoned"))
		span.SetStatus(codes.Error, "abandoned while queued")
		return "", fmt.Errorf("abandoned while waiting for the inference lane: %w", ctx.Err())
	}
	defer func() { <-l.sem }()
	laneWaitLatency.Record(ctx, time.Since(waitStart).Seconds())

	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			laneGenerations.Add(context.Background(), 1, outcomeAttr("abandoned"))
			return "", fmt.Errorf("abandoned while rate limited: %w", err)
		}
	}

	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if l.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, l.timeout)
	}
	defer cancel()

	genStart := time.Now()
	out, err := l.client.Generate(callCtx, prompt, params)
	laneGenerateLatency.Record(context.Background(), time.Since(genStart).Seconds())

	if err != nil {
		// The lane deadline fired but the parent is still live, so this
		// is a model timeout rather than a task cancellation.
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: generate exceeded %s", ErrTimeout, l.timeout)
		}
		laneGenerations.Add(context.Background(), 1, outcomeAttr(outcomeLabel(err)))
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
		return "", err
	}

	laneGenerations.Add(context.Background(), 1, outcomeAttr("ok"))
	span.SetAttributes(attribute.Int("llm.completion_bytes", len(out)))
	return out, nil
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrEmptyResponse):
		return "empty"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled):
		return "abandoned"
	default:
		return "error"
	}
}

func outcomeAttr(outcome string) metric.AddOption {
	return metric.WithAttributes(attribute.String("outcome", outcome))
}
