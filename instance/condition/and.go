package condition

import (
	"context"
	"fmt"
	"strings"

	"github.com/xaionaro-go/codecsched/instance"
)

type And []Condition

var _ Condition = (And)(nil)

func (s And) String() string {
	var result []string
	for _, cond := range s {
		result = append(result, cond.String())
	}
	return fmt.Sprintf("(%s)", strings.Join(result, "&"))
}

func (s And) Match(ctx context.Context, inst *instance.Instance) bool {
	for _, item := range s {
		if !item.Match(ctx, inst) {
			return false
		}
	}
	return true
}
