package metrics

import (
	"net/http"
	"time"

	"contrib.go.opencensus.io/exporter/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"
	"go.opencensus.io/stats/view"

	"github.com/filecoin-project/venus-statechannel/config"
)

// Namespace prefixes every exported metric name.
const Namespace = "statechannel"

// NewExporter builds the prometheus exporter backed by a private registry.
func NewExporter() (*prometheus.Exporter, error) {
	registry := prom.NewRegistry()
	return prometheus.NewExporter(prometheus.Options{
		Namespace: Namespace,
		Registry:  registry,
		OnError: func(err error) {
			log.Warnf("prometheus export: %s", err)
		},
	})
}

// RegisterPrometheusEndpoint registers and serves prometheus metrics. It
// returns the server so the caller can shut it down, or nil when metrics are
// disabled.
func RegisterPrometheusEndpoint(cfg *config.MetricsConfig) (*http.Server, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	pe, err := NewExporter()
	if err != nil {
		return nil, err
	}
	view.SetReportingPeriod(time.Duration(cfg.ReportInterval))

	mux := http.NewServeMux()
	mux.Handle("/metrics", pe)
	srv := &http.Server{Addr: cfg.PrometheusEndpoint, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("failed to serve /metrics endpoint on %s: %s", cfg.PrometheusEndpoint, err)
		}
	}()

	return srv, nil
}
