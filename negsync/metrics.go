package negsync

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nostrc/negsync/metrics"
)

const subsystem = "negentropy"

var (
	syncAttempts = metrics.NewCounter(
		"sync_attempts",
		subsystem,
		"Number of relay syncs by result",
		[]string{"result"},
	)
	syncDuration = metrics.NewHistogramWithBuckets(
		"sync_duration_seconds",
		subsystem,
		"Duration of relay syncs by result",
		[]string{"result"},
		prometheus.ExponentialBuckets(0.01, 2, 14),
	)
	rounds = metrics.NewHistogramWithBuckets(
		"rounds",
		subsystem,
		"Number of reconciliation rounds per sync",
		[]string{},
		prometheus.LinearBuckets(1, 1, 10),
	).WithLabelValues()
	fetchedEvents = metrics.NewSimpleCounter(
		"fetched_events",
		subsystem,
		"Number of events fetched from relays and stored",
	)
)
