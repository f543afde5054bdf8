package bff

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	loginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_logins_total",
		Help: "Login callback outcomes.",
	}, []string{"outcome"})

	sessionReadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_session_reads_total",
		Help: "Session cookie read outcomes per request.",
	}, []string{"outcome"})
)
