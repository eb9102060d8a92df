// Package telemetry wires OpenTelemetry metrics (exported in Prometheus
// format) and optional OTLP trace export.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/nextlevelbuilder/talkgate/internal/timedstore"
)

// Metrics holds the process instruments. The zero value is not usable; a
// disabled Metrics from InitMetrics(false) records nothing.
type Metrics struct {
	storeHits        metric.Int64Counter
	storeMisses      metric.Int64Counter
	storeExpirations metric.Int64Counter
	storeEvictions   metric.Int64Counter
	rateLimited      metric.Int64Counter
	llmErrors        metric.Int64Counter
	llmDuration      metric.Float64Histogram

	provider *sdkmetric.MeterProvider // nil when disabled
	handler  http.Handler
}

// InitMetrics builds the instruments. With enabled=false every instrument is
// a no-op and Handler answers 404.
func InitMetrics(enabled bool) (*Metrics, error) {
	m := &Metrics{handler: http.NotFoundHandler()}

	var meter metric.Meter
	if enabled {
		reg := prometheus.NewRegistry()
		exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		m.provider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
		m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		meter = m.provider.Meter("talkgate")
	} else {
		meter = noop.NewMeterProvider().Meter("talkgate")
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.storeHits, "talkgate_store_hits_total", "Store reads that found a live record"},
		{&m.storeMisses, "talkgate_store_misses_total", "Store reads that found nothing"},
		{&m.storeExpirations, "talkgate_store_expirations_total", "Records removed after their TTL"},
		{&m.storeEvictions, "talkgate_store_evictions_total", "Live records evicted by the size cap"},
		{&m.rateLimited, "talkgate_rate_limited_total", "Requests rejected by a rate-limit tier"},
		{&m.llmErrors, "talkgate_llm_errors_total", "Failed model calls"},
	}
	for _, c := range counters {
		ctr, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", c.name, err)
		}
		*c.dst = ctr
	}

	hist, err := meter.Float64Histogram(
		"talkgate_llm_request_duration_seconds",
		metric.WithDescription("Model request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}
	m.llmDuration = hist
	return m, nil
}

// Handler serves the Prometheus scrape endpoint.
func (m *Metrics) Handler() http.Handler { return m.handler }

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RateLimited counts one rejection by tier.
func (m *Metrics) RateLimited(tier string) {
	m.rateLimited.Add(context.Background(), 1, metric.WithAttributes(attribute.String("tier", tier)))
}

// ObserveLLM records one model call.
func (m *Metrics) ObserveLLM(ctx context.Context, model string, d time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.llmDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.llmErrors.Add(ctx, 1, attrs)
	}
}

// Store returns timedstore hooks labelled with the store name.
func (m *Metrics) Store(name string) timedstore.Metrics {
	return storeMetrics{m: m, attrs: metric.WithAttributeSet(attribute.NewSet(attribute.String("store", name)))}
}

type storeMetrics struct {
	m     *Metrics
	attrs metric.MeasurementOption
}

func (s storeMetrics) Hit()    { s.m.storeHits.Add(context.Background(), 1, s.attrs) }
func (s storeMetrics) Miss()   { s.m.storeMisses.Add(context.Background(), 1, s.attrs) }
func (s storeMetrics) Expire() { s.m.storeExpirations.Add(context.Background(), 1, s.attrs) }
func (s storeMetrics) Evict()  { s.m.storeEvictions.Add(context.Background(), 1, s.attrs) }
