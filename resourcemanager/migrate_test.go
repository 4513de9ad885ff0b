package resourcemanager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/codecsched/bufqueue"
	"github.com/xaionaro-go/codecsched/core"
	"github.com/xaionaro-go/codecsched/hardware"
	"github.com/xaionaro-go/codecsched/hardware/fake"
	"github.com/xaionaro-go/codecsched/hwlock"
	"github.com/xaionaro-go/codecsched/indicator"
	"github.com/xaionaro-go/codecsched/instance"
	"github.com/xaionaro-go/codecsched/types"
)

func TestMigrateRunningInstance(t *testing.T) {
	ctx := context.Background()
	hw := fake.New(2)
	m := newTestManager(t, hw)
	inst := openTestInstance(t, m, cfgH264(types.OpModeSingle))
	cc := inst.MainContext()
	addrs := inst.Addresses

	require.NoError(t, m.MigrateRunningInstance(ctx, inst, types.CoreIDMain, types.CoreIDSub))

	require.Equal(t, types.CoreIDSub, inst.MainCore())
	require.Same(t, cc, inst.MainContext())
	require.Equal(t, types.CoreContextStateRunning, cc.State())
	require.Nil(t, m.Cores[types.CoreIDMain].Context(inst.Index()))
	require.Same(t, cc, m.Cores[types.CoreIDSub].Context(inst.Index()))
	require.NotContains(t, hw.Instances(types.CoreIDMain), inst.Index())
	require.Equal(t, addrs, hw.Instances(types.CoreIDSub)[inst.Index()])
	require.Equal(t, uint64(1), m.Stats.Migrations.Load())
	require.Zero(t, m.Cores[types.CoreIDMain].Load())
	require.Equal(t, inst.Load(), m.Cores[types.CoreIDSub].Load())

	require.NoError(t, m.QueueBuffer(ctx, inst.Handle, bufqueue.Buffer{Index: 1}))
	require.Eventually(t, func() bool {
		calls := runFrameCalls(hw, inst.Index())
		return len(calls) == 1 && calls[0].Core == types.CoreIDSub
	}, waitFor, time.Millisecond)
	require.Empty(t, hw.Violations())
}

func TestMigrateFixedInstance(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, fake.New(2))
	cfg := cfgH264(types.OpModeSingle)
	cfg.Codec = types.CodecMPEG2
	inst := openTestInstance(t, m, cfg)

	err := m.MigrateRunningInstance(ctx, inst, types.CoreIDMain, types.CoreIDSub)
	var migErr types.ErrMigration
	require.ErrorAs(t, err, &migErr)
	require.Equal(t, types.MigrationStepPrepare, migErr.Step)
	require.ErrorIs(t, err, types.ErrInvalidTopology)
	require.Equal(t, types.CoreIDMain, inst.MainCore())
}

func TestMigrationAtomicity(t *testing.T) {
	errInjected := errors.New("injected")

	for _, tc := range []struct {
		name   string
		step   types.MigrationStep
		errIs  error
		inject func(t *testing.T, m *Manager, hw *fake.Hardware, inst *instance.Instance) (cleanup func())
	}{
		{
			name:  "prepare-concurrent-migration",
			step:  types.MigrationStepPrepare,
			errIs: types.ErrBusy,
			inject: func(t *testing.T, m *Manager, hw *fake.Hardware, inst *instance.Instance) func() {
				ctx := context.Background()
				inst.MigrationLocker.ManualLock(ctx)
				return func() { inst.MigrationLocker.ManualUnlock(ctx) }
			},
		},
		{
			name:  "lock-cores",
			step:  types.MigrationStepLockCores,
			errIs: types.ErrBusy,
			inject: func(t *testing.T, m *Manager, hw *fake.Hardware, inst *instance.Instance) func() {
				ctx := context.Background()
				owner := hwlock.OwnerContext(types.MaxContexts - 1)
				require.NoError(t, m.Cores[types.CoreIDSub].HWLock.Acquire(ctx, owner))
				return func() { require.NoError(t, m.Cores[types.CoreIDSub].HWLock.Release(ctx, owner)) }
			},
		},
		{
			name:  "init-destination",
			step:  types.MigrationStepInitDestination,
			errIs: errInjected,
			inject: func(t *testing.T, m *Manager, hw *fake.Hardware, inst *instance.Instance) func() {
				hw.InjectFault(fake.Fault{Op: hardware.OpInitInstance, Core: types.CoreIDSub, Err: errInjected, Count: 1})
				return func() {}
			},
		},
		{
			name:  "set-migration-addresses",
			step:  types.MigrationStepInitDestination,
			errIs: errInjected,
			inject: func(t *testing.T, m *Manager, hw *fake.Hardware, inst *instance.Instance) func() {
				hw.InjectFault(fake.Fault{Op: hardware.OpSetMigrationAddresses, Core: types.CoreIDSub, Err: errInjected, Count: 1})
				return func() {}
			},
		},
		{
			name:  "move-work",
			step:  types.MigrationStepMoveWork,
			errIs: errInjected,
			inject: func(t *testing.T, m *Manager, hw *fake.Hardware, inst *instance.Instance) func() {
				hw.InjectFault(fake.Fault{Op: hardware.OpCloseInstance, Core: types.CoreIDMain, Err: errInjected, Count: 1})
				return func() {}
			},
		},
		{
			name:  "hand-over",
			step:  types.MigrationStepHandOver,
			errIs: types.ErrInvalidTopology,
			inject: func(t *testing.T, m *Manager, hw *fake.Hardware, inst *instance.Instance) func() {
				ctx := context.Background()
				squatter := instance.NewCoreContext(inst, types.CoreIDSub, indicator.TypeSMA, 4)
				require.NoError(t, m.Cores[types.CoreIDSub].AttachContext(ctx, squatter))
				return func() { m.Cores[types.CoreIDSub].DetachContext(ctx, squatter.Index()) }
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			hw := fake.New(2)
			m := newTestManager(t, hw, OptionCoreOptions{core.OptionHWLockTimeout(50 * time.Millisecond)})
			inst := openTestInstance(t, m, cfgH264(types.OpModeSingle))
			cc := inst.MainContext()
			addrs := inst.Addresses

			cleanup := tc.inject(t, m, hw, inst)
			err := m.MigrateRunningInstance(ctx, inst, types.CoreIDMain, types.CoreIDSub)
			cleanup()

			var migErr types.ErrMigration
			require.ErrorAs(t, err, &migErr)
			require.Equal(t, tc.step, migErr.Step)
			require.Equal(t, types.CoreIDMain, migErr.From)
			require.Equal(t, types.CoreIDSub, migErr.To)
			require.ErrorIs(t, err, types.ErrMigrationAborted)
			require.ErrorIs(t, err, tc.errIs)

			require.Equal(t, types.CoreIDMain, inst.MainCore())
			require.Same(t, cc, inst.MainContext())
			require.Equal(t, types.CoreContextStateRunning, cc.State())
			require.Same(t, cc, m.Cores[types.CoreIDMain].Context(inst.Index()))
			require.Nil(t, m.Cores[types.CoreIDSub].Context(inst.Index()))
			require.Contains(t, hw.Instances(types.CoreIDMain), inst.Index())
			require.NotContains(t, hw.Instances(types.CoreIDSub), inst.Index())
			require.Equal(t, addrs, inst.Addresses)
			require.Equal(t, uint64(1), m.Stats.MigrationFailures.Load())
			require.Zero(t, m.Stats.Migrations.Load())
			require.False(t, m.Cores[types.CoreIDMain].HWLock.IsLocked())
			require.False(t, m.Cores[types.CoreIDSub].HWLock.IsLocked())

			// the instance keeps working on its original core
			hw.ClearFaults()
			require.NoError(t, m.QueueBuffer(ctx, inst.Handle, bufqueue.Buffer{Index: 3}))
			require.Eventually(t, func() bool {
				calls := runFrameCalls(hw, inst.Index())
				return len(calls) == 1 && calls[0].Core == types.CoreIDMain
			}, waitFor, time.Millisecond)
			require.Empty(t, hw.Violations())

			require.NoError(t, m.MigrateRunningInstance(ctx, inst, types.CoreIDMain, types.CoreIDSub))
			require.Equal(t, types.CoreIDSub, inst.MainCore())
		})
	}
}
