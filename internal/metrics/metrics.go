package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cdpbridge"

var (
	Captures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "captures_total",
		Help:      "Response bodies received, by capture kind.",
	}, []string{"kind"})

	BodyFetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "body_fetch_failures_total",
		Help:      "Body fetch responses without a usable body, by capture kind.",
	}, []string{"kind"})

	Deduplicated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deduplicated_total",
		Help:      "Captures suppressed inside the dedupe window, by category.",
	}, []string{"category"})

	Resumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resumed_total",
		Help:      "Resume commands issued for paused requests, by command.",
	}, []string{"method"})

	Forwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "forwarded_total",
		Help:      "Payloads handed to the collector, by channel and path (socket|fallback).",
	}, []string{"channel", "path"})

	Dropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dropped_total",
		Help:      "Payloads dropped before delivery, by channel and reason.",
	}, []string{"channel", "reason"})

	ChannelReady = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "channel_ready",
		Help:      "1 when the channel socket is connected.",
	}, []string{"channel"})

	Sessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions",
		Help:      "Attached debug sessions.",
	})
)
