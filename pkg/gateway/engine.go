// Package gateway is the policy evaluation facade domain commands call
// before any sensitive action: classify the touched data, check the
// requested output channel, pick an eligible backend, and hand back one
// Decision.
package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quayside-labs/keel/pkg/channel"
	"github.com/quayside-labs/keel/pkg/classify"
	"github.com/quayside-labs/keel/pkg/observability"
	"github.com/quayside-labs/keel/pkg/policy"
	"github.com/quayside-labs/keel/pkg/provider"
)

// Engine evaluates requests against one loaded policy. Construct it
// once at process start and pass it to callers; there is no package
// level instance, so "one policy per process" is a property of the
// wiring rather than hidden global state.
type Engine struct {
	policy   *policy.Policy
	selector *provider.Selector
	metrics  *observability.Metrics
	logger   *slog.Logger
	clock    func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSelector replaces the default provider selector.
func WithSelector(s *provider.Selector) EngineOption {
	return func(e *Engine) { e.selector = s }
}

// WithMetrics attaches gateway metrics.
func WithMetrics(m *observability.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the clock for testing.
func WithClock(clock func() time.Time) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// NewEngine builds an Engine over a loaded, verified policy.
func NewEngine(p *policy.Policy, opts ...EngineOption) *Engine {
	e := &Engine{
		policy:   p,
		selector: provider.NewSelector(),
		logger:   slog.Default().With("component", "gateway"),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the ruleset this engine enforces.
func (e *Engine) Policy() *policy.Policy { return e.policy }

// Evaluate runs one request through classification, channel validation,
// and provider selection, in that order.
//
// The channel check runs before any provider probing: a call that is
// already doomed never generates network I/O. Evaluate performs no
// retries; a denied Decision is terminal for this call and the caller
// decides whether to try again later.
func (e *Engine) Evaluate(ctx context.Context, req Request) *Decision {
	start := e.clock()
	d := &Decision{
		ID:          uuid.New().String(),
		Timestamp:   start.UTC(),
		OperationID: req.OperationID,
		ActorID:     req.ActorID,
		SessionID:   req.SessionID,
		Channel:     req.Channel,
	}

	d.Classification = classify.Classify(req.ResourceIDs, req.OperationID, e.policy)

	allowed, reason := channel.Validate(d.Classification, req.Channel, e.policy)
	d.ChannelAllowed = allowed
	if !allowed {
		d.Errors = append(d.Errors, reason)
		return e.finish(ctx, d, start)
	}

	sel := e.selector.Select(ctx, d.Classification, e.policy)
	d.Provider = sel.Provider
	d.Warnings = append(d.Warnings, sel.Warnings...)
	if !sel.Allowed {
		d.Errors = append(d.Errors, sel.Reason)
		return e.finish(ctx, d, start)
	}

	d.Allowed = true
	return e.finish(ctx, d, start)
}

func (e *Engine) finish(ctx context.Context, d *Decision, start time.Time) *Decision {
	if hash, err := ComputeDecisionHash(d); err == nil {
		d.Hash = hash
	} else {
		// A decision that cannot be hashed still stands; the hash is
		// correlation metadata, not an enforcement input.
		e.logger.WarnContext(ctx, "decision hash failed", "decision_id", d.ID, "error", err)
	}

	elapsed := e.clock().Sub(start)
	e.metrics.RecordEvaluation(ctx, string(d.Classification), d.Allowed, elapsed)

	if d.Allowed {
		e.logger.DebugContext(ctx, "evaluation allowed",
			"decision_id", d.ID,
			"operation", d.OperationID,
			"classification", d.Classification,
		)
	} else {
		e.logger.InfoContext(ctx, "evaluation denied",
			"decision_id", d.ID,
			"operation", d.OperationID,
			"classification", d.Classification,
			"errors", d.Errors,
		)
	}
	return d
}
