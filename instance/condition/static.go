package condition

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/codecsched/instance"
)

type Static bool

var _ Condition = (Static)(false)

func (v Static) String() string {
	return fmt.Sprintf("%t", bool(v))
}

func (v Static) Match(context.Context, *instance.Instance) bool {
	return bool(v)
}
