package sniproxy

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	connectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sniproxy_connections_total",
			Help: "Connections accepted, labeled by the backend they were routed to",
		},
		[]string{"backend"},
	)

	helloErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sniproxy_hello_parse_errors_total",
			Help: "Connections whose ClientHello could not be parsed",
		},
	)

	dialErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sniproxy_backend_dial_errors_total",
			Help: "Failed dials to a backend, labeled by backend",
		},
		[]string{"backend"},
	)

	openConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sniproxy_open_connections",
			Help: "Connections currently being proxied",
		},
	)
)

func init() {
	prometheus.MustRegister(connectionsTotal)
	prometheus.MustRegister(helloErrorsTotal)
	prometheus.MustRegister(dialErrorsTotal)
	prometheus.MustRegister(openConnections)
}

// MetricsHandler returns the Prometheus metrics endpoint handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
