package scheduler

import (
	"context"
	"time"
)

// PerfChecker provides the runtime telemetry of the contexts of a core.
type PerfChecker interface {
	// AverageRuntime returns the average per-frame runtime of the context,
	// or zero if there is no history yet.
	AverageRuntime(idx int) time.Duration

	// FrameInterval returns the per-frame deadline of the context, or zero
	// if it has no frame-rate target.
	FrameInterval(idx int) time.Duration
}

// SufficiencyFunc decides whether the context keeps up with its frame rate
// if it has to wait for tierMax before running.
type SufficiencyFunc func(ctx context.Context, idx int, tierMax time.Duration) bool

// IsSufficient is the default sufficiency predicate: the context is
// sufficient if its average runtime plus the slowest ready peer of its tier
// fits in its frame interval.
func IsSufficient(
	avgRuntime time.Duration,
	tierMax time.Duration,
	frameInterval time.Duration,
) bool {
	if frameInterval <= 0 || avgRuntime <= 0 {
		return true
	}
	return avgRuntime+tierMax <= frameInterval
}

type noPerf struct{}

func (noPerf) AverageRuntime(int) time.Duration { return 0 }
func (noPerf) FrameInterval(int) time.Duration  { return 0 }
