package scheduler

import "sync"

var (
	defaultMu        sync.Mutex
	defaultScheduler *Scheduler
)

// Default returns the process-wide scheduler, creating it with the options
// on the first call. Options are ignored once the scheduler exists.
func Default(opts ...Opt) (*Scheduler, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultScheduler != nil {
		return defaultScheduler, nil
	}
	s, err := New(opts...)
	if err != nil {
		return nil, err
	}
	defaultScheduler = s
	return s, nil
}

// Shutdown stops and discards the process-wide scheduler. It does nothing
// if there is no such scheduler, so a later Default creates a new one.
func Shutdown() {
	defaultMu.Lock()
	s := defaultScheduler
	defaultScheduler = nil
	defaultMu.Unlock()
	if s != nil {
		s.Stop()
	}
}
