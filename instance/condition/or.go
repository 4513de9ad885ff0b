package condition

import (
	"context"
	"fmt"
	"strings"

	"github.com/xaionaro-go/codecsched/instance"
)

type Or []Condition

var _ Condition = (Or)(nil)

func (s Or) String() string {
	var result []string
	for _, cond := range s {
		result = append(result, cond.String())
	}
	return fmt.Sprintf("(%s)", strings.Join(result, "|"))
}

func (s Or) Match(ctx context.Context, inst *instance.Instance) bool {
	for _, item := range s {
		if item.Match(ctx, inst) {
			return true
		}
	}
	return false
}
