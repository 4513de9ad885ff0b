package resourcemanager

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/codecsched/slotmap"
	"github.com/xaionaro-go/codecsched/types"
	"github.com/xaionaro-go/xsync"
)

// QueryInstanceState compares the state of the main context of the
// instance (and of the sub context, in dual-core operation) with the
// target. Both contexts must match when the instance spans two cores.
// The second target is used only by types.ComparisonEqualEither.
func (m *Manager) QueryInstanceState(
	ctx context.Context,
	h slotmap.Handle,
	cmp types.Comparison,
	target types.CoreContextState,
	target2 ...types.CoreContextState,
) (bool, error) {
	inst, err := m.Instance(h)
	if err != nil {
		return false, err
	}
	other := target
	if len(target2) > 0 {
		other = target2[0]
	}
	return xsync.DoR2(noLog(ctx), &inst.ModeLocker, func() (bool, error) {
		main := inst.MainContext()
		if main == nil {
			return false, fmt.Errorf("%s is not bound to a core: %w", inst, types.ErrInvalidTopology)
		}
		if !cmp.Match(main.State(), target, other) {
			return false, nil
		}
		if !inst.Mode().IsDualCore() {
			return true, nil
		}
		sub := inst.SubContext()
		if sub == nil {
			return false, fmt.Errorf("%s has no sub context in mode %s: %w", inst, inst.Mode(), types.ErrInvalidTopology)
		}
		return cmp.Match(sub.State(), target, other), nil
	})
}
