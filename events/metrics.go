package events

import "github.com/nostrc/negsync/metrics"

const subsystem = "events"

var (
	published = metrics.NewCounter(
		"published",
		subsystem,
		"Number of messages published by topic",
		[]string{"topic"},
	)
	dropped = metrics.NewCounter(
		"dropped",
		subsystem,
		"Number of messages dropped for slow subscribers by topic",
		[]string{"topic"},
	)
)
