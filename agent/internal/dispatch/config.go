package dispatch

import "time"

// Defaults for the dispatch loop.
const (
	DefaultProcessInterval = 5 * time.Second
	DefaultMaxRetries      = 4
	DefaultDeltaBackoff    = 1750 * time.Millisecond
	DefaultSendTimeout     = 10 * time.Second
)

// Config is fixed for the lifetime of a Loop.
//
// A value outside its valid range takes the default. Zero is valid for
// MaxRetries (a single attempt) and DeltaBackoff (pure 2^n seconds), so only
// negatives are replaced there; the two durations must be positive. Use
// DefaultConfig for the stock schedule.
type Config struct {
	ProcessInterval time.Duration // cycle interval; <= 0 means 5s
	MaxRetries      int           // retries after the first attempt; < 0 means 4
	DeltaBackoff    time.Duration // additive backoff offset; < 0 means 1.75s
	SendTimeout     time.Duration // per-attempt transport deadline; <= 0 means 10s
}

// DefaultConfig returns the stock schedule: 5s cycles, 4 retries, 1.75s offset.
func DefaultConfig() Config {
	return Config{
		ProcessInterval: DefaultProcessInterval,
		MaxRetries:      DefaultMaxRetries,
		DeltaBackoff:    DefaultDeltaBackoff,
		SendTimeout:     DefaultSendTimeout,
	}
}

// withDefaults replaces out-of-range values with the defaults.
func (c Config) withDefaults() Config {
	if c.ProcessInterval <= 0 {
		c.ProcessInterval = DefaultProcessInterval
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.DeltaBackoff < 0 {
		c.DeltaBackoff = DefaultDeltaBackoff
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	return c
}
