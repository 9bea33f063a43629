package config

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/nostrc/negsync/negsync"
)

var presets = map[string]func() Config{
	"standalone": standalone,
	"fast":       fast,
}

// PresetOptions returns the names of the available presets.
func PresetOptions() []string {
	return slices.Sorted(maps.Keys(presets))
}

func getPreset(name string) (Config, error) {
	p, ok := presets[name]
	if !ok {
		return Config{}, fmt.Errorf("preset %q not found, options: %v", name, PresetOptions())
	}
	return p(), nil
}

// standalone syncs with a relay running on the local machine.
func standalone() Config {
	conf := DefaultConfig()
	conf.Logging.Level = "debug"
	conf.Sync.Targets = []negsync.Target{{
		Relay: "ws://127.0.0.1:7777",
		Kinds: []int{0, 1, 3},
	}}
	conf.Scheduler.BaseInterval = 10 * time.Second
	conf.Scheduler.MaxInterval = time.Minute
	return conf
}

// fast uses short timeouts and intervals, for development against public
// relays.
func fast() Config {
	conf := DefaultConfig()
	conf.Sync.HandshakeTimeout = 2 * time.Second
	conf.Sync.ResponseTimeout = 5 * time.Second
	conf.Sync.BatchTimeout = 5 * time.Second
	conf.Sync.FetchRate = 5
	conf.Scheduler.BaseInterval = 15 * time.Second
	conf.Scheduler.MaxInterval = 2 * time.Minute
	return conf
}
