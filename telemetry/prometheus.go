package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// PrometheusMeterProvider wires a go.opentelemetry.io/otel/sdk/metric
// MeterProvider to a Prometheus exporter so the core's Metrics instruments
// (see NewOtelMetrics) become scrapeable. Grounded on the telemetry provider
// used by the yesoreyeram-thaiyyal workflow engine.
type PrometheusMeterProvider struct {
	mp *sdkmetric.MeterProvider
}

// NewPrometheusMeterProvider builds and globally installs a Prometheus-backed
// MeterProvider for the given service name/version. Call Handler to mount the
// scrape endpoint on an HTTP mux owned by an external transport.
func NewPrometheusMeterProvider(ctx context.Context, serviceName, serviceVersion string) (*PrometheusMeterProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(mp)

	return &PrometheusMeterProvider{mp: mp}, nil
}

// Handler returns the standard Prometheus scrape handler. The caller mounts
// it on whatever HTTP surface it owns; this package never listens itself.
func (p *PrometheusMeterProvider) Handler() http.Handler {
	return promhttp.Handler()
}

// Shutdown flushes and stops the underlying meter provider.
func (p *PrometheusMeterProvider) Shutdown(ctx context.Context) error {
	return p.mp.Shutdown(ctx)
}
