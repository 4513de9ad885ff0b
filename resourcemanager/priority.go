package resourcemanager

import (
	"context"
	"fmt"

	"github.com/facebookincubator/go-belt"
	"github.com/xaionaro-go/codecsched/logger"
	"github.com/xaionaro-go/codecsched/slotmap"
	"github.com/xaionaro-go/codecsched/types"
)

// ChangePriority moves the instance to another scheduler tier on every
// core it is bound to.
func (m *Manager) ChangePriority(
	ctx context.Context,
	h slotmap.Handle,
	rtClass types.RTClass,
	prio types.Priority,
) error {
	inst, err := m.Instance(h)
	if err != nil {
		return err
	}
	ctx = belt.WithField(ctx, "instance", inst.Index())
	if rtClass == types.UndefinedRTClass {
		rtClass = inst.RTClass()
	}
	inst.SetPriority(rtClass, prio)
	for _, cc := range inst.Contexts() {
		coreID := cc.CoreID()
		if !coreID.IsValid(len(m.Cores)) {
			continue
		}
		if m.Cores[coreID].ChangePriority(ctx, cc.Index(), rtClass, prio) {
			logger.Debugf(ctx, "%s moved to %s/%d on %s", inst, rtClass, prio, coreID)
		}
	}
	return nil
}

// UpdateFramerate applies the stabilized framerate of the instance and
// rebalances the load accordingly.
func (m *Manager) UpdateFramerate(
	ctx context.Context,
	h slotmap.Handle,
	fps float64,
) (*Rebalance, error) {
	if fps < 0 {
		return nil, fmt.Errorf("negative framerate %f", fps)
	}
	inst, err := m.Instance(h)
	if err != nil {
		return nil, err
	}
	ctx = belt.WithField(ctx, "instance", inst.Index())
	old := inst.FrameRate()
	inst.SetFrameRate(fps)
	logger.Debugf(ctx, "%s: framerate %.2f -> %.2f, load %s", inst, old, fps, inst.Load())
	return m.LoadBalance(ctx, inst, LoadBalanceUpdate)
}
