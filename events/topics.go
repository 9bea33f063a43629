package events

import "strconv"

// Topics published and consumed by the sync subsystem.
const (
	TopicSyncStarted     = "negentropy::sync-started"
	TopicSyncCompleted   = "negentropy::sync-completed"
	TopicSyncError       = "negentropy::sync-error"
	TopicScheduleChanged = "negentropy::schedule-changed"
	TopicRelayConfig     = "relay::config-changed"

	kindChangedPrefix = "negentropy::kind-changed::"
)

// TopicKindChanged returns the topic notified when events of the kind may
// have changed after a sync.
func TopicKindChanged(kind int) string {
	return kindChangedPrefix + strconv.Itoa(kind)
}

// SyncStarted is the payload of TopicSyncStarted.
type SyncStarted struct {
	Relay string `json:"relay"`
}

// SyncCompleted is the payload of TopicSyncCompleted.
type SyncCompleted struct {
	Relay         string `json:"relay"`
	LocalCount    uint32 `json:"local_count"`
	Rounds        uint32 `json:"rounds"`
	EventsFetched uint32 `json:"events_fetched"`
	InSync        bool   `json:"in_sync"`
}

// SyncError is the payload of TopicSyncError.
type SyncError struct {
	Relay   string `json:"relay,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ScheduleChanged is the payload of TopicScheduleChanged.
type ScheduleChanged struct {
	IntervalSec       int64 `json:"interval_sec"`
	ConsecutiveInSync int   `json:"consecutive_in_sync"`
}

// KindChanged is the payload of the topics returned by TopicKindChanged.
type KindChanged struct {
	Kind  int    `json:"kind"`
	Relay string `json:"relay"`
}
