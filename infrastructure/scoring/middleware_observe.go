package scoring

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lexera/go-perplex/internal/ports"
)

// metricsBackend records latency and outcome counters per request.
type metricsBackend struct {
	next      scoreBackend
	collector ports.MetricsCollector
}

// MetricsMiddleware creates middleware that reports request latency and
// success/failure counts through the metrics collector.
func MetricsMiddleware(collector ports.MetricsCollector) Middleware {
	return func(next scoreBackend) scoreBackend {
		return &metricsBackend{next: next, collector: collector}
	}
}

func (m *metricsBackend) DoScore(ctx context.Context, text string) (float64, error) {
	start := time.Now()
	score, err := m.next.DoScore(ctx, text)

	labels := map[string]string{"endpoint": m.next.Endpoint()}
	m.collector.RecordLatency("remote_score", time.Since(start), labels)

	status := "ok"
	if err != nil {
		status = "error"
	}
	labels["status"] = status
	m.collector.RecordCounter("remote_score_requests", 1, labels)

	return score, err
}

func (m *metricsBackend) Endpoint() string { return m.next.Endpoint() }

// tracedBackend wraps each request in an otel span.
type tracedBackend struct {
	next   scoreBackend
	tracer trace.Tracer
}

// TracingMiddleware creates middleware that opens a span per scoring
// request, recording text length and the computed perplexity.
func TracingMiddleware(serviceName string) Middleware {
	tracer := otel.Tracer(serviceName)
	return func(next scoreBackend) scoreBackend {
		return &tracedBackend{next: next, tracer: tracer}
	}
}

func (t *tracedBackend) DoScore(ctx context.Context, text string) (float64, error) {
	ctx, span := t.tracer.Start(ctx, "scoring.remote_score",
		trace.WithAttributes(
			attribute.String("scoring.endpoint", t.next.Endpoint()),
			attribute.Int("scoring.text_length", len(text)),
		),
	)
	defer span.End()

	score, err := t.next.DoScore(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	span.SetAttributes(attribute.Float64("scoring.perplexity", score))
	return score, nil
}

func (t *tracedBackend) Endpoint() string { return t.next.Endpoint() }
