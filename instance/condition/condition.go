// Package condition provides predicates over instances, used to decide
// which instances may run on both cores.
package condition

import (
	"github.com/xaionaro-go/codecsched/instance"
	"github.com/xaionaro-go/codecsched/types"
)

type Condition = types.Condition[*instance.Instance]
