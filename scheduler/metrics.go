package scheduler

import "github.com/nostrc/negsync/metrics"

const subsystem = "scheduler"

var (
	attempts = metrics.NewCounter(
		"attempts",
		subsystem,
		"Number of scheduled sync attempts by result",
		[]string{"result"},
	)
	intervalSeconds = metrics.NewSimpleGauge(
		"interval_seconds",
		subsystem,
		"Current interval between sync attempts",
	)
	consecutiveInSync = metrics.NewSimpleGauge(
		"consecutive_in_sync",
		subsystem,
		"Number of consecutive attempts that found all relays in sync",
	)
)
