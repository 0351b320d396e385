package session

import "time"

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines request/reply timing against the kernel connector.
type Config struct {
	// RequestTimeout bounds the whole exchange for one seq.
	RequestTimeout time.Duration
	// ReplyIdle ends collection once no frame for the seq arrived for this long.
	ReplyIdle    time.Duration
	WriteTimeout time.Duration
	// MaxAttempts bounds socket dial attempts.
	MaxAttempts int
	Backoff     BackoffConfig
}

// DefaultConfig returns defaults tuned for a local bus master.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 5 * time.Second,
		ReplyIdle:      250 * time.Millisecond,
		WriteTimeout:   time.Second,
		MaxAttempts:    5,
		Backoff: BackoffConfig{
			InitialDelay: 100 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     2 * time.Second,
			Jitter:       true,
		},
	}
}
