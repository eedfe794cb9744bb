package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RoutesPlugin serves the collected metrics at /metrics.
type RoutesPlugin struct {
	gatherer prometheus.Gatherer
}

func NewRoutesPlugin(gatherer prometheus.Gatherer) *RoutesPlugin {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &RoutesPlugin{gatherer: gatherer}
}

func (p *RoutesPlugin) Name() string {
	return "metrics"
}

func (p *RoutesPlugin) Description() string {
	return "Prometheus metrics endpoint"
}

func (p *RoutesPlugin) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /metrics", promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{}))
}
