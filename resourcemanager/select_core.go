package resourcemanager

import (
	"context"

	"github.com/xaionaro-go/codecsched/instance"
	"github.com/xaionaro-go/codecsched/logger"
	"github.com/xaionaro-go/codecsched/types"
)

// SelectCoreForNewInstance returns whether the instance will be bound to a
// specific core and which core it starts on.
func (m *Manager) SelectCoreForNewInstance(
	ctx context.Context,
	cfg instance.Config,
) (types.CoreType, types.CoreID) {
	if len(m.Cores) < 2 {
		return types.CoreTypeFixed, types.CoreIDMain
	}
	if fixed := cfg.Codec.FixedCore(cfg.SessionType); fixed != types.CoreIDUndefined {
		if !fixed.IsValid(len(m.Cores)) {
			fixed = types.CoreIDMain
		}
		return types.CoreTypeFixed, fixed
	}
	if !m.Config.IsLoadBalancing() {
		return types.CoreTypeNotFixed, types.CoreIDMain
	}

	loads := m.recomputeLoads(ctx)
	defCore := m.Cores[types.CoreIDMain]
	instPercent := cfg.Load().Percent(defCore.MaxLoad())
	defPercent := loads[types.CoreIDMain].Percent(defCore.MaxLoad())
	if defPercent+instPercent < uint64(m.Config.LoadBalancePercent) {
		return types.CoreTypeNotFixed, types.CoreIDMain
	}

	best := types.CoreIDMain
	bestPercent := defPercent
	for id := types.CoreIDMain + 1; int(id) < len(m.Cores); id++ {
		p := loads[id].Percent(m.Cores[id].MaxLoad())
		if p < bestPercent {
			best, bestPercent = id, p
		}
	}
	logger.Debugf(ctx, "the default core is at %d%% (+%d%%), selected %s at %d%%", defPercent, instPercent, best, bestPercent)
	return types.CoreTypeNotFixed, best
}
