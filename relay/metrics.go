package relay

import "github.com/nostrc/negsync/metrics"

const subsystem = "relay"

var (
	sentMessages     = metrics.NewSimpleCounter("sent_messages", subsystem, "Number of messages sent to relays")
	receivedMessages = metrics.NewSimpleCounter("received_messages", subsystem, "Number of messages received from relays")
	droppedMessages  = metrics.NewSimpleCounter("dropped_messages", subsystem,
		"Number of relay messages dropped because the mailbox was full")
	dialFailures = metrics.NewSimpleCounter("dial_failures", subsystem, "Number of failed relay dials")
)
