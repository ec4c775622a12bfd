// Package observability provides OpenTelemetry instrumentation for tracing and metrics.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Workflow and pipeline counters, scraped from the /metrics endpoint.
var (
	WorkflowRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopsync_workflow_runs_total",
		Help: "Workflow runs by terminal status.",
	}, []string{"workflow", "status"})

	PagesScraped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopsync_pages_scraped_total",
		Help: "Catalog pages fetched from retailer APIs.",
	}, []string{"retailer"})

	ProductsUpserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopsync_products_upserted_total",
		Help: "Product-in-store rows written during scrapes.",
	}, []string{"retailer"})

	BarcodesResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopsync_barcodes_resolved_total",
		Help: "Barcode resolution attempts by outcome.",
	}, []string{"outcome"})
)

// InitMetrics initializes the OpenTelemetry metrics provider with a Prometheus exporter.
// It returns the HTTP handler for the /metrics endpoint and a shutdown function.
// The shutdown function should be called on application exit for graceful cleanup.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := otelprom.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := metric.NewMeterProvider(
		metric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}
