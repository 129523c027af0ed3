package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcptap_messages_total",
		Help: "Intercepted messages by direction and entry type",
	}, []string{"direction", "type"})

	tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcptap_tokens_total",
		Help: "Estimated tokens by direction",
	}, []string{"direction"})

	anomaliesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcptap_correlation_anomalies_total",
		Help: "Correlation anomalies such as negative latency or duplicate request ids",
	})

	responseLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mcptap_response_latency_seconds",
		Help:    "Request to response latency for correlated pairs",
		Buckets: prometheus.DefBuckets,
	})
)
