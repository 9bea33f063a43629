package negsync

import (
	"time"

	"github.com/nostrc/negsync/negentropy"
)

// Target is a relay to sync with and the event kinds to sync.
type Target struct {
	Relay string `mapstructure:"relay" yaml:"relay" json:"relay"`
	Kinds []int  `mapstructure:"kinds" yaml:"kinds" json:"kinds"`
}

// Config is the sync configuration.
type Config struct {
	// HandshakeTimeout bounds the wait for the relay connection to be
	// established.
	HandshakeTimeout time.Duration `mapstructure:"handshake-timeout" yaml:"handshake-timeout"`
	// ResponseTimeout bounds the wait for each reply of the relay during
	// reconciliation.
	ResponseTimeout time.Duration `mapstructure:"response-timeout" yaml:"response-timeout"`
	// BatchSize is the max number of event IDs requested at once.
	BatchSize int `mapstructure:"batch-size" yaml:"batch-size"`
	// BatchTimeout bounds the wait for the events of a single batch.
	BatchTimeout time.Duration `mapstructure:"batch-timeout" yaml:"batch-timeout"`
	// FetchRate limits the number of fetch batches per second.
	// Zero means no limit.
	FetchRate float64 `mapstructure:"fetch-rate" yaml:"fetch-rate"`
	// VerifyIDs enables checking that fetched events match their IDs.
	VerifyIDs bool `mapstructure:"verify-ids" yaml:"verify-ids"`
	// MaxRounds limits the number of reconciliation rounds.
	MaxRounds int `mapstructure:"max-rounds" yaml:"max-rounds"`
	// MaxRanges is the number of buckets mismatched ranges are split into.
	MaxRanges int `mapstructure:"max-ranges" yaml:"max-ranges"`
	// FrameSizeLimit limits the size of reconciliation messages.
	// Zero means no limit.
	FrameSizeLimit int `mapstructure:"frame-size-limit" yaml:"frame-size-limit"`
	// MailboxSize is the number of relay messages buffered per subscription.
	MailboxSize int `mapstructure:"mailbox-size" yaml:"mailbox-size"`
	// Targets are the relays and kinds synced by each attempt.
	Targets []Target `mapstructure:"targets" yaml:"targets"`
}

// DefaultConfig returns the default sync configuration.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 5 * time.Second,
		ResponseTimeout:  30 * time.Second,
		BatchSize:        256,
		BatchTimeout:     30 * time.Second,
		VerifyIDs:        true,
		MaxRounds:        negentropy.DefaultMaxRounds,
		MaxRanges:        negentropy.DefaultMaxRanges,
		MailboxSize:      1024,
	}
}
