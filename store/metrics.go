package store

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nostrc/negsync/metrics"
)

const subsystem = "store"

const (
	resultAdded     = "added"
	resultDuplicate = "duplicate"
	resultInvalid   = "invalid"
	resultFailed    = "failed"
)

var (
	ingested = metrics.NewCounter(
		"ingested",
		subsystem,
		"Number of events passed to the store for ingestion, by result",
		[]string{"result"},
	)
	queriedEvents = metrics.NewHistogramWithBuckets(
		"queried_events",
		subsystem,
		"Number of events returned by store queries",
		[]string{},
		prometheus.ExponentialBuckets(1, 4, 10),
	).WithLabelValues()
)
