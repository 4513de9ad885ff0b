package condition

import (
	"context"
	"fmt"
	"slices"

	"github.com/xaionaro-go/codecsched/instance"
	"github.com/xaionaro-go/codecsched/types"
)

type CodecIs []types.Codec

var _ Condition = (CodecIs)(nil)

func (c CodecIs) String() string {
	return fmt.Sprintf("CodecIs(%v)", []types.Codec(c))
}

func (c CodecIs) Match(_ context.Context, inst *instance.Instance) bool {
	return slices.Contains(c, inst.Config.Codec)
}
