package manifest

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// startSpan opens a span when a tracer is configured; otherwise it hands
// back the context's span, which is a no-op if none is active.
func (m *Manifest) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if m.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return m.tracer.Start(ctx, name)
}
