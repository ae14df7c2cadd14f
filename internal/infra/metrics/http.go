package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(httpRequestsTotal) }

var httpRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bp_http_requests_total",
		Help: "Gateway requests by method, route and status code.",
	},
	[]string{"method", "route", "status"},
)

func IncHTTPRequest(method, route string, status int) {
	httpRequestsTotal.WithLabelValues(norm(method), route, strconv.Itoa(status)).Inc()
}
