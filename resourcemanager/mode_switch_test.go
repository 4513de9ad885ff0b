package resourcemanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/codecsched/bufqueue"
	"github.com/xaionaro-go/codecsched/hardware"
	"github.com/xaionaro-go/codecsched/hardware/fake"
	"github.com/xaionaro-go/codecsched/indicator"
	"github.com/xaionaro-go/codecsched/instance"
	"github.com/xaionaro-go/codecsched/instance/condition"
	"github.com/xaionaro-go/codecsched/types"
)

func TestLoneInstanceGoesMultiCore(t *testing.T) {
	ctx := context.Background()
	hw := fake.New(2)
	m := newTestManager(t, hw)

	inst := openTestInstance(t, m, cfgH264(types.OpModeTwoMode1))
	require.Equal(t, types.OpModeTwoMode1, inst.Mode())
	require.Equal(t, types.CoreIDMain, inst.MainCore())
	require.NotNil(t, inst.SubContext())
	require.Equal(t, types.CoreIDSub, inst.SubContext().CoreID())
	require.Equal(t, inst.Addresses, hw.Instances(types.CoreIDSub)[inst.Index()])
	require.Equal(t, uint64(1), m.Stats.ModeSwitches.Load())

	mainLoad, subLoad := inst.Load().Split()
	require.Equal(t, mainLoad, m.Cores[types.CoreIDMain].Load())
	require.Equal(t, subLoad, m.Cores[types.CoreIDSub].Load())

	ok, err := m.QueryInstanceState(ctx, inst.Handle, types.ComparisonEqualOrBigger, types.CoreContextStateRunning)
	require.NoError(t, err)
	require.True(t, ok)

	// in mode 1 both cores work on every frame
	for idx := range 3 {
		require.NoError(t, m.QueueBuffer(ctx, inst.Handle, bufqueue.Buffer{Index: idx}))
	}
	require.Eventually(t, func() bool {
		return len(runFrameCalls(hw, inst.Index())) == 6
	}, waitFor, time.Millisecond)
	perCore := map[types.CoreID]int{}
	for _, c := range runFrameCalls(hw, inst.Index()) {
		perCore[c.Core]++
	}
	require.Equal(t, map[types.CoreID]int{types.CoreIDMain: 3, types.CoreIDSub: 3}, perCore)
	require.Empty(t, hw.Violations())
}

func TestQueueBufferMode2(t *testing.T) {
	ctx := context.Background()
	hw := fake.New(2)
	m := newTestManager(t, hw)

	inst := openTestInstance(t, m, cfgH264(types.OpModeTwoMode2))
	require.Equal(t, types.OpModeTwoMode2, inst.Mode())

	for idx := range 6 {
		require.NoError(t, m.QueueBuffer(ctx, inst.Handle, bufqueue.Buffer{Index: idx}))
	}
	require.Eventually(t, func() bool {
		return len(runFrameCalls(hw, inst.Index())) == 6
	}, waitFor, time.Millisecond)
	for _, c := range runFrameCalls(hw, inst.Index()) {
		if c.Buffer%2 == 0 {
			require.Equal(t, types.CoreIDMain, c.Core, c.String())
		} else {
			require.Equal(t, types.CoreIDSub, c.Core, c.String())
		}
	}
}

func TestMultiCoreCondition(t *testing.T) {
	m := newTestManager(t, fake.New(2), OptionMultiCoreCondition(condition.MinResolution(types.Resolution{Width: 3840, Height: 2160})))

	inst := openTestInstance(t, m, cfgH264(types.OpModeTwoMode1))
	require.Equal(t, types.OpModeSingle, inst.Mode())
	require.Nil(t, inst.SubContext())
}

func TestSwitchToSingleMergesQueues(t *testing.T) {
	ctx := context.Background()
	hw := fake.New(2)
	hw.FrameDuration = func(types.CoreID, hardware.InstanceRef, bufqueue.Buffer) time.Duration {
		return 20 * time.Millisecond
	}
	m := newTestManager(t, hw)

	inst := openTestInstance(t, m, cfgH264(types.OpModeTwoMode2))
	require.Equal(t, types.OpModeTwoMode2, inst.Mode())
	main, sub := inst.MainContext(), inst.SubContext()

	// queued without readiness, so the cores do not pick them up yet
	for idx := range 5 {
		buf := bufqueue.Buffer{Index: idx, Sequence: inst.NextSequence()}
		if idx%2 == 0 {
			main.Queue.Push(ctx, buf)
		} else {
			sub.Queue.Push(ctx, buf)
		}
	}
	inst.SetLastCore(types.CoreIDSub)

	require.NoError(t, m.SwitchToSingleMode(ctx, inst, nil))
	require.Equal(t, types.OpModeSwitchButMode2, inst.Mode())
	require.Same(t, main, inst.MainContext())
	require.Nil(t, inst.SubContext())
	require.Equal(t, types.CoreContextStateFree, sub.State())
	require.Nil(t, m.Cores[types.CoreIDSub].Context(inst.Index()))
	require.NotContains(t, hw.Instances(types.CoreIDSub), inst.Index())
	require.Zero(t, main.Queue.Depth(ctx))
	require.Zero(t, sub.Queue.Depth(ctx))
	require.Equal(t, uint64(2), m.Stats.ModeSwitches.Load())
	require.Equal(t, inst.Load(), m.Cores[types.CoreIDMain].Load())
	require.Zero(t, m.Cores[types.CoreIDSub].Load())

	require.Eventually(t, func() bool {
		return len(runFrameCalls(hw, inst.Index())) == 5
	}, waitFor, time.Millisecond)
	var order []int
	for _, c := range runFrameCalls(hw, inst.Index()) {
		require.Equal(t, types.CoreIDMain, c.Core)
		order = append(order, c.Buffer)
	}
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
	require.Eventually(t, func() bool {
		return inst.Mode() == types.OpModeSingle
	}, waitFor, time.Millisecond)
	require.Equal(t, uint64(5), inst.NextSequence())
	require.Empty(t, hw.Violations())
}

func TestSwitchToSingleAvoidsPinnedCore(t *testing.T) {
	ctx := context.Background()
	hw := fake.New(2)
	m := newTestManager(t, hw)

	inst := openTestInstance(t, m, cfgH264(types.OpModeTwoMode1))
	require.True(t, inst.Mode().IsDualCore())

	trigger := instance.New(inst.Handle, cfgH264(types.OpModeSingle), types.CoreTypeFixed)
	triggerCC := instance.NewCoreContext(trigger, types.CoreIDMain, indicator.TypeSMA, 0)
	trigger.SetMainContext(triggerCC)

	require.NoError(t, m.SwitchToSingleMode(ctx, inst, trigger))
	require.Equal(t, types.OpModeSingle, inst.Mode())
	require.Equal(t, types.CoreIDSub, inst.MainCore())
	require.Nil(t, inst.SubContext())
	require.NotContains(t, hw.Instances(types.CoreIDMain), inst.Index())
	require.Contains(t, hw.Instances(types.CoreIDSub), inst.Index())

	// back to two cores with the main context on the canonical core
	require.NoError(t, m.SwitchToMultiMode(ctx, inst))
	require.Equal(t, types.OpModeTwoMode1, inst.Mode())
	require.Equal(t, types.CoreIDMain, inst.MainCore())
	require.Equal(t, types.CoreIDSub, inst.SubContext().CoreID())
}

func TestSwitchToSingleFailureKeepsMode(t *testing.T) {
	ctx := context.Background()
	hw := fake.New(2)
	m := newTestManager(t, hw)

	inst := openTestInstance(t, m, cfgH264(types.OpModeTwoMode1))
	main, sub := inst.MainContext(), inst.SubContext()

	hw.InjectFault(fake.Fault{Op: hardware.OpCloseInstance, Core: types.CoreIDUndefined, Err: types.ErrTimeout, Count: 1})
	err := m.SwitchToSingleMode(ctx, inst, nil)
	var switchErr types.ErrModeSwitch
	require.ErrorAs(t, err, &switchErr)
	require.ErrorIs(t, err, types.ErrTimeout)
	require.Equal(t, types.OpModeTwoMode1, inst.Mode())
	require.Same(t, main, inst.MainContext())
	require.Same(t, sub, inst.SubContext())
	require.Same(t, main, m.Cores[types.CoreIDMain].Context(inst.Index()))
	require.Same(t, sub, m.Cores[types.CoreIDSub].Context(inst.Index()))
}

func TestSwitchToMultiModeRejects(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, fake.New(2))

	single := openTestInstance(t, m, cfgH264(types.OpModeSingle))
	require.ErrorIs(t, m.SwitchToMultiMode(ctx, single), types.ErrInvalidTopology)

	capable := openTestInstance(t, m, cfgH264(types.OpModeTwoMode1))
	require.Equal(t, types.OpModeSingle, capable.Mode())
	capable.MigrationLocker.ManualLock(ctx)
	err := m.SwitchToMultiMode(ctx, capable)
	capable.MigrationLocker.ManualUnlock(ctx)
	require.ErrorIs(t, err, types.ErrBusy)

	capable.IncInFlight()
	err = m.SwitchToMultiMode(ctx, capable)
	capable.DecInFlight()
	require.ErrorIs(t, err, types.ErrBusy)
	require.Equal(t, types.OpModeSingle, capable.Mode())
	require.Nil(t, capable.SubContext())
}

func TestCheckAndRebalanceMultiCore(t *testing.T) {
	ctx := context.Background()
	hw := fake.New(2)
	m := newTestManager(t, hw)

	a := openTestInstance(t, m, cfgH264(types.OpModeTwoMode1))
	require.Equal(t, types.OpModeTwoMode1, a.Mode())

	cfgB := cfgH264(types.OpModeSingle)
	cfgB.IsDRM = true
	b := openTestInstance(t, m, cfgB)
	require.True(t, a.Mode().IsSingleCore(), a.Mode().String())
	require.Nil(t, a.SubContext())
	require.Contains(t, hw.Instances(a.MainCore()), a.Index())
	require.NotContains(t, hw.Instances(a.MainCore().Other()), a.Index())

	require.NoError(t, m.CloseInstance(ctx, b.Handle))
	require.Equal(t, types.OpModeTwoMode1, a.Mode())
	require.Equal(t, types.CoreIDMain, a.MainCore())
	require.NotNil(t, a.SubContext())
}

func TestCheckAndRebalanceKeepsHeaviestDual(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, fake.New(2))

	a := openTestInstance(t, m, cfgH264(types.OpModeTwoMode1))
	require.True(t, a.Mode().IsDualCore())
	b := openTestInstance(t, m, cfgH264(types.OpModeSingle))
	require.Equal(t, types.OpModeSingle, b.Mode())

	// a single non-DRM dual-core instance may stay on both cores
	require.NoError(t, m.CheckAndRebalanceMultiCore(ctx))
	require.True(t, a.Mode().IsDualCore())
}

func TestQueryInstanceStateDualCore(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, fake.New(2))

	inst := openTestInstance(t, m, cfgH264(types.OpModeTwoMode2))
	require.True(t, inst.Mode().IsDualCore())
	inst.SubContext().RestoreState(ctx, types.CoreContextStateAllocated)

	ok, err := m.QueryInstanceState(ctx, inst.Handle, types.ComparisonEqualOrBigger, types.CoreContextStateRunning)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = m.QueryInstanceState(ctx, inst.Handle, types.ComparisonEqualEither, types.CoreContextStateRunning, types.CoreContextStateAllocated)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.QueryInstanceState(ctx, inst.Handle, types.ComparisonBigger, types.CoreContextStateFree)
	require.NoError(t, err)
	require.True(t, ok)

	inst.SubContext().RestoreState(ctx, types.CoreContextStateRunning)
	ok, err = m.QueryInstanceState(ctx, inst.Handle, types.ComparisonEqualOrBigger, types.CoreContextStateRunning)
	require.NoError(t, err)
	require.True(t, ok)
}
