package resourcemanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/codecsched/hardware/fake"
	"github.com/xaionaro-go/codecsched/instance"
	"github.com/xaionaro-go/codecsched/scheduler"
	"github.com/xaionaro-go/codecsched/slotmap"
	"github.com/xaionaro-go/codecsched/types"
)

func sumLoads(loads ...types.Load) types.Load {
	var sum types.Load
	for _, l := range loads {
		sum += l
	}
	return sum
}

func coreLoads(m *Manager) []types.Load {
	var result []types.Load
	for _, c := range m.Cores {
		result = append(result, c.Load())
	}
	return result
}

func instanceLoads(insts ...*instance.Instance) []types.Load {
	var result []types.Load
	for _, inst := range insts {
		result = append(result, inst.Load())
	}
	return result
}

func TestLoadBalanceMigrates(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, fake.New(2), OptionLoadBalancePercent(90))

	var insts []*instance.Instance
	for range 3 {
		insts = append(insts, openTestInstance(t, m, cfgH264(types.OpModeSingle)))
	}
	l := insts[0].Load()

	require.Eventually(t, func() bool {
		m.recomputeLoads(ctx)
		loads := coreLoads(m)
		return loads[types.CoreIDMain] == 2*l && loads[types.CoreIDSub] == l
	}, waitFor, time.Millisecond)
	require.Equal(t, types.CoreIDSub, insts[1].MainCore())
	require.Equal(t, uint64(1), m.Stats.Migrations.Load())

	rebalance, err := m.UpdateFramerate(ctx, insts[2].Handle, 60)
	require.NoError(t, err)
	require.NoError(t, rebalance.Wait(ctx))
	require.Equal(t, []*Migration{{Instance: insts[0], From: types.CoreIDMain, To: types.CoreIDSub}}, rebalance.Migrations())
	require.Equal(t, types.CoreIDSub, insts[0].MainCore())

	m.recomputeLoads(ctx)
	require.Equal(t, []types.Load{2 * l, 2 * l}, coreLoads(m))
	require.Equal(t, sumLoads(instanceLoads(insts...)...), sumLoads(coreLoads(m)...))
	require.Equal(t, []types.Load{2 * l, 2 * l}, rebalance.Planned)
}

func TestLoadBalanceConservation(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, fake.New(2), OptionLoadBalancePercent(50))

	dual := openTestInstance(t, m, cfgH264(types.OpModeTwoMode2))
	require.True(t, dual.Mode().IsDualCore())

	cfgFixed := cfgH264(types.OpModeSingle)
	cfgFixed.Codec = types.CodecJPEG
	fixed := openTestInstance(t, m, cfgFixed)
	other := openTestInstance(t, m, cfgH264(types.OpModeSingle))

	rebalance, err := m.LoadBalance(ctx, other, LoadBalanceUpdate)
	require.NoError(t, err)
	require.NoError(t, rebalance.Wait(ctx))

	require.Eventually(t, func() bool {
		loads := m.recomputeLoads(ctx)
		return sumLoads(loads...) == sumLoads(instanceLoads(dual, fixed, other)...)
	}, waitFor, time.Millisecond)
	require.Equal(t, types.CoreIDSub, fixed.MainCore())
}

func TestLoadBalanceDisabled(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, fake.New(2))

	a := openTestInstance(t, m, cfgH264(types.OpModeSingle))
	b := openTestInstance(t, m, cfgH264(types.OpModeSingle))
	require.Equal(t, types.CoreIDMain, a.MainCore())
	require.Equal(t, types.CoreIDMain, b.MainCore())

	rebalance, err := m.UpdateFramerate(ctx, a.Handle, 60)
	require.NoError(t, err)
	require.Empty(t, rebalance.Migrations())
	require.Equal(t, a.Load()+b.Load(), rebalance.Loads[types.CoreIDMain])
	require.Equal(t, []*instance.Instance{a, b}, m.loadSorted)

	require.NoError(t, m.CloseInstance(ctx, a.Handle))
	require.Equal(t, []*instance.Instance{b}, m.loadSorted)

	_, err = m.UpdateFramerate(ctx, b.Handle, -1)
	require.Error(t, err)
}

func TestProcessMigrationsSkipsStale(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, fake.New(2))
	inst := openTestInstance(t, m, cfgH264(types.OpModeSingle))

	stale := &Migration{Instance: inst, From: types.CoreIDSub, To: types.CoreIDMain}
	valid := &Migration{Instance: inst, From: types.CoreIDMain, To: types.CoreIDSub}
	require.NoError(t, m.processMigrations(ctx, []*Migration{stale, valid}))
	require.True(t, stale.Skipped)
	require.NoError(t, stale.Err)
	require.False(t, valid.Skipped)
	require.NoError(t, valid.Err)
	require.Equal(t, types.CoreIDSub, inst.MainCore())
}

func TestChangePriority(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, fake.New(2))
	inst := openTestInstance(t, m, cfgH264(types.OpModeTwoMode1))
	require.True(t, inst.Mode().IsDualCore())

	require.NoError(t, m.ChangePriority(ctx, inst.Handle, types.RTClassRealTime, 1))
	require.Equal(t, types.RTClassRealTime, inst.RTClass())
	require.Equal(t, types.Priority(1), inst.Priority())
	for _, cc := range inst.Contexts() {
		prio, ok := m.Cores[cc.CoreID()].Scheduler.(*scheduler.Priority)
		require.True(t, ok)
		require.Equal(t, prio.TierIndex(types.RTClassRealTime, 1), prio.TierOf(cc.Index()))
	}
	require.Error(t, m.ChangePriority(ctx, slotmap.InvalidHandle, types.RTClassRealTime, 0))
}
