// Package metrics holds the Prometheus collectors exported by pairing-server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pairing"

var (
	TokensCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_created_total",
		Help:      "Pairing tokens issued.",
	})

	FinishResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "finish_requests_total",
		Help:      "Credential finish attempts by result.",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status code.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
