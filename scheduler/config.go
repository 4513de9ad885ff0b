package scheduler

import (
	"time"
)

const (
	DefaultNumPriorityLevels   = 2
	DefaultMaxRuntimeStaleness = 100 * time.Millisecond
)

type Config struct {
	// NumPriorityLevels is the highest priority level (inclusive); each
	// real-time class gets levels 0..NumPriorityLevels.
	NumPriorityLevels uint

	// MaxRuntimeStaleness is how long a tier's maximum runtime figure is
	// reused before being recomputed.
	MaxRuntimeStaleness time.Duration
}

func DefaultConfig() Config {
	return Config{
		NumPriorityLevels:   DefaultNumPriorityLevels,
		MaxRuntimeStaleness: DefaultMaxRuntimeStaleness,
	}
}
