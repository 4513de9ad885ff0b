package condition

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/codecsched/instance"
)

type Function func(context.Context, *instance.Instance) bool

var _ Condition = (Function)(nil)

func (fn Function) String() string {
	return fmt.Sprintf("<custom_function:%p>", fn)
}

func (fn Function) Match(ctx context.Context, inst *instance.Instance) bool {
	return fn(ctx, inst)
}
