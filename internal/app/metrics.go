package app

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type httpMetrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// newHTTPMetrics uses a private registry so several servers can coexist in
// one process.
func newHTTPMetrics() *httpMetrics {
	m := &httpMetrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "huddle_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "huddle_http_request_duration_seconds",
			Help:    "HTTP request latency by route and method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	m.registry.MustRegister(
		m.requests,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *httpMetrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *httpMetrics) observe(path, method string, status int, elapsed time.Duration) {
	route := routeLabel(path)
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

var knownRoutes = map[string]struct{}{
	"/api/health":                         {},
	"/api/ready":                          {},
	"/api/session":                        {},
	"/api/workspaces":                     {},
	"/api/workspaces/:id":                 {},
	"/api/workspaces/:id/info":            {},
	"/api/workspaces/:id/join":            {},
	"/api/workspaces/:id/join-code":       {},
	"/api/workspaces/:id/channels":        {},
	"/api/workspaces/:id/members":         {},
	"/api/workspaces/:id/members/current": {},
	"/api/workspaces/:id/conversations":   {},
	"/api/channels/:id":                   {},
	"/api/members/:id":                    {},
	"/api/messages":                       {},
	"/api/messages/:id":                   {},
	"/api/messages/:id/reactions":         {},
	"/api/uploads":                        {},
	"/metrics":                            {},
}

// routeLabel replaces the id segment so label cardinality stays bounded.
func routeLabel(path string) string {
	label := ""
	for i, part := range splitPath(path) {
		if i == 2 {
			part = ":id"
		}
		label += "/" + part
	}
	if _, ok := knownRoutes[label]; !ok {
		return "other"
	}
	return label
}
