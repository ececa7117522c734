package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics handles GET /metrics, the Prometheus text exposition endpoint.
func Metrics() http.Handler {
	return promhttp.Handler()
}
