// Package telemetry plumbs the ambient logger and the optional tracer handle
// through every flowguard component. Logging uses go.uber.org/zap (spec
// SPEC_FULL.md §10.1); tracing uses go.opentelemetry.io/otel, grounded on
// the teacher's internal/tracing package.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Span names used across the decision path.
const (
	SpanGovernorCheck  = "flowguard.governor.check"
	SpanBanCheck       = "flowguard.ban.check"
	SpanDecisionChain  = "flowguard.chain.execute"
	SpanL3CacheGet     = "flowguard.cache.l3.get"
	SpanL3CacheSet     = "flowguard.cache.l3.set"
	SpanBanStoreLookup = "flowguard.ban.store_lookup"
)

// Attribute keys used across the decision path.
var (
	AttrRuleID    = attribute.Key("flowguard.rule.id")
	AttrOutcome   = attribute.Key("flowguard.outcome")
	AttrComponent = attribute.Key("flowguard.component")
)

// Telemetry bundles a logger and a tracer; it is passed by value (both
// fields are already reference types) into every component constructor.
type Telemetry struct {
	Logger *zap.Logger
	Tracer trace.Tracer
}

// NewNop returns a Telemetry with a no-op logger and the global no-op
// tracer, usable as a zero-effort default in tests and examples.
func NewNop() Telemetry {
	return Telemetry{
		Logger: zap.NewNop(),
		Tracer: trace.NewNoopTracerProvider().Tracer("flowguard"),
	}
}

// StartSpan starts a span if a tracer is configured, otherwise returns ctx
// unchanged with a no-op span.
func (t Telemetry) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t.Tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// L returns a usable logger even on a zero-value Telemetry.
func (t Telemetry) L() *zap.Logger {
	if t.Logger == nil {
		return zap.NewNop()
	}
	return t.Logger
}
