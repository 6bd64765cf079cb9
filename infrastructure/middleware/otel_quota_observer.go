package middleware

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/application"
	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/ports"
)

const quotaTracerName = "github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/infrastructure/middleware"

// Usage percentages that raise span events ahead of a denial.
const (
	quotaWarningPct  = 80.0
	quotaCriticalPct = 90.0
)

var _ application.QuotaObserver = (*OTelQuotaObserver)(nil)

// OTelQuotaObserver traces quota gate checks. Each check gets its own span,
// carried through the context between PreCheck and PostCheck, so a single
// observer is safe for concurrent checks.
type OTelQuotaObserver struct {
	tracer  trace.Tracer
	metrics ports.MetricsCollector
}

// NewOTelQuotaObserver creates an observer on the global tracer provider.
// metrics may be nil.
func NewOTelQuotaObserver(metrics ports.MetricsCollector) *OTelQuotaObserver {
	return NewOTelQuotaObserverWithTracer(otel.Tracer(quotaTracerName), metrics)
}

// NewOTelQuotaObserverWithTracer is NewOTelQuotaObserver with an explicit tracer.
func NewOTelQuotaObserverWithTracer(tracer trace.Tracer, metrics ports.MetricsCollector) *OTelQuotaObserver {
	return &OTelQuotaObserver{tracer: tracer, metrics: metrics}
}

// PreCheck starts the check span and returns a context carrying it.
func (o *OTelQuotaObserver) PreCheck(ctx context.Context, campaignID int64) context.Context {
	ctx, _ = o.tracer.Start(ctx, "QuotaGate.CheckQuota",
		trace.WithAttributes(attribute.Int64("quota.campaign_id", campaignID)),
	)
	return ctx
}

// PostCheck annotates and ends the span started by PreCheck.
func (o *OTelQuotaObserver) PostCheck(ctx context.Context, d application.QuotaDecision, elapsed time.Duration) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	span.SetAttributes(
		attribute.Bool("quota.allowed", d.Allowed),
		attribute.String("quota.status", string(d.Status)),
		attribute.String("quota.mode", string(d.Mode)),
		attribute.String("quota.reason", d.Reason),
		attribute.Bool("quota.failed_open", d.FailedOpen),
		attribute.Float64("quota.usage.audio_minutes", d.Usage.AudioMinutes),
		attribute.Int64("quota.usage.tokens", d.Usage.Tokens),
		attribute.Float64("quota.usage.usd", d.Usage.USD),
	)
	if d.Dimension != "" {
		span.SetAttributes(
			attribute.String("quota.dimension", string(d.Dimension)),
			attribute.Float64("quota.used", d.Used),
			attribute.Float64("quota.limit", d.Limit),
			attribute.Float64("quota.usage_pct", d.UsagePct),
		)
	}

	if o.metrics != nil {
		o.metrics.RecordLatency("quota_check", elapsed, map[string]string{
			"allowed": strconv.FormatBool(d.Allowed),
		})
	}

	switch {
	case d.FailedOpen:
		span.AddEvent("quota.failed_open", trace.WithAttributes(
			attribute.String("reason", d.Reason),
		))
		span.SetStatus(codes.Error, "quota lookup failed, request allowed")
	case !d.Allowed:
		span.AddEvent("quota.exceeded", trace.WithAttributes(
			attribute.String("dimension", string(d.Dimension)),
			attribute.Float64("used", d.Used),
			attribute.Float64("limit", d.Limit),
		))
		span.SetStatus(codes.Error, "quota limit exceeded")
		if o.metrics != nil {
			o.metrics.RecordCounter("quota_exceeded_total", 1, map[string]string{
				"dimension": string(d.Dimension),
			})
		}
	default:
		o.checkThresholds(span, d)
		span.SetStatus(codes.Ok, "")
	}
}

// checkThresholds emits a warning or critical event for allowed checks that
// are close to, or past, a soft limit.
func (o *OTelQuotaObserver) checkThresholds(span trace.Span, d application.QuotaDecision) {
	if d.Dimension == "" {
		return
	}
	var event string
	switch {
	case d.UsagePct >= quotaCriticalPct:
		event = "quota.threshold.critical"
	case d.UsagePct >= quotaWarningPct:
		event = "quota.threshold.warning"
	default:
		return
	}
	span.AddEvent(event, trace.WithAttributes(
		attribute.String("dimension", string(d.Dimension)),
		attribute.Float64("usage_percentage", d.UsagePct),
	))
}
