// Package observe provides PulseLink's OpenTelemetry metrics, a Prometheus
// exporter bridge, and the /metrics, /healthz and /readyz HTTP endpoints.
//
// Tests should build [Metrics] with [NewMetrics] over a provider backed by a
// manual reader to avoid cross-test pollution.
package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rbright/pulselink/internal/alert"
)

// meterName is the instrumentation scope name used for all PulseLink metrics.
const meterName = "github.com/rbright/pulselink"

// Metrics holds every instrument. It implements alert.Metrics and listen.Metrics.
type Metrics struct {
	// Dispatches counts routed dispatches by tier and outcome.
	Dispatches metric.Int64Counter

	// DispatchDuration tracks time from lock admission to audit write.
	DispatchDuration metric.Float64Histogram

	// SMSSends counts per-recipient SMS attempts by tier and status.
	SMSSends metric.Int64Counter

	// SessionsOpened counts recognition sessions opened by the supervisor.
	SessionsOpened metric.Int64Counter

	// SessionRestarts counts scheduled restarts by reason.
	SessionRestarts metric.Int64Counter
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Dispatches, err = m.Int64Counter("pulselink.dispatches",
		metric.WithDescription("Alert dispatches by tier and outcome."),
	); err != nil {
		return nil, err
	}
	if met.DispatchDuration, err = m.Float64Histogram("pulselink.dispatch.duration",
		metric.WithDescription("Latency of one serialized alert dispatch."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SMSSends, err = m.Int64Counter("pulselink.sms.sends",
		metric.WithDescription("SMS send attempts by tier and status."),
	); err != nil {
		return nil, err
	}
	if met.SessionsOpened, err = m.Int64Counter("pulselink.listen.sessions",
		metric.WithDescription("Recognition sessions opened."),
	); err != nil {
		return nil, err
	}
	if met.SessionRestarts, err = m.Int64Counter("pulselink.listen.restarts",
		metric.WithDescription("Recognition session restarts by reason."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// DispatchCompleted records one dispatch outcome and its latency.
func (m *Metrics) DispatchCompleted(ctx context.Context, tier alert.Tier, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tier", string(tier)),
		attribute.String("outcome", outcome),
	)
	m.Dispatches.Add(ctx, 1, attrs)
	m.DispatchDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// SMSAttempted records one per-recipient SMS send.
func (m *Metrics) SMSAttempted(ctx context.Context, tier alert.Tier, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.SMSSends.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", string(tier)),
		attribute.String("status", status),
	))
}

func (m *Metrics) SessionOpened(ctx context.Context) {
	m.SessionsOpened.Add(ctx, 1)
}

func (m *Metrics) SessionRestarted(ctx context.Context, reason string) {
	m.SessionRestarts.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
