// Package internal contains helpers shared by the codecsched packages.
package internal

import (
	"context"

	"github.com/xaionaro-go/codecsched/logger"
)

// Assert panics (through the logger, so the context fields are reported)
// if an invariant does not hold.
func Assert(
	ctx context.Context,
	mustBeTrue bool,
	extraArgs ...any,
) {
	if mustBeTrue {
		return
	}
	logger.Panicf(ctx, "assertion failed: %v", extraArgs)
}
