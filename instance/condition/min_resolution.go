package condition

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/codecsched/instance"
	"github.com/xaionaro-go/codecsched/types"
)

// MinResolution matches the instances having at least as many macroblocks
// per frame as the given resolution.
type MinResolution types.Resolution

var _ Condition = MinResolution{}

func (c MinResolution) String() string {
	return fmt.Sprintf("MinResolution(%s)", types.Resolution(c))
}

func (c MinResolution) Match(_ context.Context, inst *instance.Instance) bool {
	return inst.Config.Resolution.AtLeast(types.Resolution(c))
}
