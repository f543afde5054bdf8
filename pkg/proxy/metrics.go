package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	proxiedRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_proxied_requests_total",
		Help: "Requests forwarded upstream, by route and status code.",
	}, []string{"route", "code"})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_upstream_errors_total",
		Help: "Failed upstream requests, by cluster and error kind.",
	}, []string{"cluster", "kind"})
)
