package entitlement

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the engine's OpenTelemetry instruments.
type Metrics struct {
	ChecksTotal   metric.Int64Counter
	GrantsTotal   metric.Int64Counter
	DenialsTotal  metric.Int64Counter
	TamperEvents  metric.Int64Counter
	PurgedTotal   metric.Int64Counter
	CheckDuration metric.Float64Histogram
	CacheHits     metric.Int64Counter
	CacheMisses   metric.Int64Counter
}

// NewMetrics registers the entitlement instruments on the given meter.
// A nil meter yields nil Metrics; every record call is nil-safe so tests
// can run without an initialized provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		return nil, nil
	}

	m := &Metrics{}
	var err error

	if m.ChecksTotal, err = meter.Int64Counter("entitlement.checks.total",
		metric.WithDescription("Entitlement checks performed")); err != nil {
		return nil, fmt.Errorf("creating checks counter: %w", err)
	}
	if m.GrantsTotal, err = meter.Int64Counter("entitlement.grants.total",
		metric.WithDescription("Capabilities granted")); err != nil {
		return nil, fmt.Errorf("creating grants counter: %w", err)
	}
	if m.DenialsTotal, err = meter.Int64Counter("entitlement.denials.total",
		metric.WithDescription("Entitlement checks denied")); err != nil {
		return nil, fmt.Errorf("creating denials counter: %w", err)
	}
	if m.TamperEvents, err = meter.Int64Counter("entitlement.tamper.total",
		metric.WithDescription("Tamper detections on the capability store")); err != nil {
		return nil, fmt.Errorf("creating tamper counter: %w", err)
	}
	if m.PurgedTotal, err = meter.Int64Counter("entitlement.purged.total",
		metric.WithDescription("Expired capabilities purged")); err != nil {
		return nil, fmt.Errorf("creating purge counter: %w", err)
	}
	if m.CheckDuration, err = meter.Float64Histogram("entitlement.check.duration",
		metric.WithDescription("Entitlement check duration in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}
	if m.CacheHits, err = meter.Int64Counter("entitlement.cache.hits",
		metric.WithDescription("Entitlement cache hits")); err != nil {
		return nil, fmt.Errorf("creating cache hit counter: %w", err)
	}
	if m.CacheMisses, err = meter.Int64Counter("entitlement.cache.misses",
		metric.WithDescription("Entitlement cache misses")); err != nil {
		return nil, fmt.Errorf("creating cache miss counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) recordCheck(ctx context.Context, action, scope string, granted bool, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("scope", scope),
	)
	m.ChecksTotal.Add(ctx, 1, attrs)
	m.CheckDuration.Record(ctx, durationMs, attrs)
	if !granted {
		m.DenialsTotal.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) recordGrant(ctx context.Context, action, scope string) {
	if m == nil {
		return
	}
	m.GrantsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("scope", scope),
	))
}

func (m *Metrics) recordTamper(ctx context.Context) {
	if m == nil {
		return
	}
	m.TamperEvents.Add(ctx, 1)
}

func (m *Metrics) recordPurged(ctx context.Context, count int) {
	if m == nil || count == 0 {
		return
	}
	m.PurgedTotal.Add(ctx, int64(count))
}

func (m *Metrics) recordCacheHit(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Add(ctx, 1)
	} else {
		m.CacheMisses.Add(ctx, 1)
	}
}
