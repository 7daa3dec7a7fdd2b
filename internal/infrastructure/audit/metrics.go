package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "talentboard",
			Subsystem: "audit",
			Name:      "events_published_total",
			Help:      "Total security events handed to a sink",
		},
		[]string{"sink"},
	)

	eventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "talentboard",
			Subsystem: "audit",
			Name:      "events_dropped_total",
			Help:      "Total security events dropped before reaching a sink",
		},
		[]string{"reason"},
	)
)
