package resourcemanager

import (
	"context"
	"errors"

	"github.com/xaionaro-go/codecsched/instance"
	"github.com/xaionaro-go/codecsched/logger"
	"github.com/xaionaro-go/codecsched/types"
)

// CheckAndRebalanceMultiCore keeps at most one instance in dual-core
// operation while several instances share the device, and spreads a lone
// capable instance over both cores. A busy instance is left as is and
// retried on the next trigger.
func (m *Manager) CheckAndRebalanceMultiCore(ctx context.Context) (_err error) {
	logger.Tracef(ctx, "CheckAndRebalanceMultiCore")
	defer func() { logger.Tracef(ctx, "/CheckAndRebalanceMultiCore: %v", _err) }()

	if len(m.Cores) < 2 || m.IsClosed() {
		return nil
	}

	var (
		active      []*instance.Instance
		duals       []*instance.Instance
		trigger     *instance.Instance
		mixedDomain bool
	)
	m.listLocker.Do(noLog(ctx), func() {
		mixedDomain = m.drmCount > 0 && m.nonDRMCount > 0
		for _, inst := range m.instancesLocked() {
			if inst.IsClosing() {
				continue
			}
			active = append(active, inst)
			if inst.Mode().IsDualCore() {
				duals = append(duals, inst)
			}
		}
	})
	for _, inst := range active {
		if inst.Config.Resolution.Is8K() && len(active) > 1 {
			trigger = inst
			break
		}
		if inst.CoreType == types.CoreTypeFixed && trigger == nil {
			trigger = inst
		}
	}

	var errs []error
	if len(active) > 1 {
		var keep *instance.Instance
		exclusive := trigger != nil && trigger.Config.Resolution.Is8K()
		if !mixedDomain && !exclusive {
			for _, inst := range duals {
				if keep == nil || inst.Load() > keep.Load() {
					keep = inst
				}
			}
		}
		for _, inst := range duals {
			if inst == keep {
				continue
			}
			logger.Debugf(ctx, "consolidating %s: %d active instances, mixed domains: %t", inst, len(active), mixedDomain)
			if err := m.SwitchToSingleMode(ctx, inst, trigger); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	if len(active) != 1 {
		return nil
	}

	inst := active[0]
	switch {
	case !inst.IsMultiCoreCapable():
		return nil
	case !inst.Mode().IsSingleCore():
		return nil
	case m.Config.MultiCoreCondition != nil && !m.Config.MultiCoreCondition.Match(ctx, inst):
		logger.Tracef(ctx, "%s does not match %s", inst, m.Config.MultiCoreCondition)
		return nil
	}
	logger.Debugf(ctx, "%s is the only active instance, spreading it over both cores", inst)
	return m.SwitchToMultiMode(ctx, inst)
}
