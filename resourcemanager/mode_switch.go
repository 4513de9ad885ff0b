package resourcemanager

import (
	"context"
	"fmt"

	"github.com/facebookincubator/go-belt"
	"github.com/xaionaro-go/codecsched/bufqueue"
	"github.com/xaionaro-go/codecsched/instance"
	"github.com/xaionaro-go/codecsched/logger"
	"github.com/xaionaro-go/codecsched/types"
	"github.com/xaionaro-go/xsync"
)

// SwitchToSingleMode consolidates a dual-core instance to one core. The
// trigger is the instance causing the switch, if any: the selected core is
// preferably not the one the trigger is pinned to.
func (m *Manager) SwitchToSingleMode(
	ctx context.Context,
	inst *instance.Instance,
	trigger *instance.Instance,
) error {
	ctx = belt.WithField(ctx, "instance", inst.Index())
	if !inst.MigrationLocker.ManualTryLock(ctx) {
		return types.ErrModeSwitch{
			Instance: inst.Index(),
			From:     inst.Mode(),
			To:       types.OpModeSingle,
			Err:      fmt.Errorf("another migration or mode switch is in progress: %w", types.ErrBusy),
		}
	}
	defer inst.MigrationLocker.ManualUnlock(ctx)
	return m.switchToSingleLocked(ctx, inst, trigger)
}

// switchToSingleLocked must be called with the migration lock of the
// instance held.
func (m *Manager) switchToSingleLocked(
	ctx context.Context,
	inst *instance.Instance,
	trigger *instance.Instance,
) (_err error) {
	logger.Tracef(ctx, "switchToSingleLocked")
	defer func() { logger.Tracef(ctx, "/switchToSingleLocked: %v", _err) }()

	mode := inst.Mode()
	if !mode.IsDualCore() {
		return nil
	}
	fail := func(err error) error {
		return types.ErrModeSwitch{
			Instance: inst.Index(),
			From:     mode,
			To:       types.OpModeSingle,
			Err:      err,
		}
	}
	main, sub := inst.MainContext(), inst.SubContext()
	if main == nil || sub == nil {
		return fail(fmt.Errorf("%s has no sub context: %w", inst, types.ErrInvalidTopology))
	}

	target, err := xsync.DoR2(ctx, &m.crossCoreLocker, func() (types.CoreID, error) {
		release, err := m.lockCores(ctx, main.CoreID(), sub.CoreID())
		if err != nil {
			return types.CoreIDUndefined, err
		}
		defer release()

		target := m.chooseSingleCore(inst, trigger)
		keep, drop := main, sub
		if sub.CoreID() == target {
			keep, drop = sub, main
		}
		if err := m.Hardware.CloseInstance(ctx, drop.CoreID(), inst.Ref()); err != nil {
			return types.CoreIDUndefined, fmt.Errorf("unable to close on %s: %w", drop.CoreID(), err)
		}

		inst.ModeLocker.Do(noLog(ctx), func() {
			inst.SetMode(ctx, types.OpModeSwitching)
			bufs := bufqueue.MergeBySequence(
				main.Queue.Drain(ctx),
				sub.Queue.Drain(ctx),
				inst.ReadyQueue.Drain(ctx),
			)
			if len(bufs) > 0 {
				inst.ResetSequence(bufqueue.Renumber(bufs, bufs[0].Sequence))
			}
			inst.ReadyQueue.Push(ctx, bufs...)

			m.Cores[drop.CoreID()].DetachContext(ctx, drop.Index())
			_ = drop.SetState(ctx, types.CoreContextStateFree)
			inst.SetMainContext(keep)
			inst.SetSubContext(nil)

			newMode := types.OpModeSwitchToSingle
			if mode == types.OpModeTwoMode2 {
				if last := inst.LastCore(); last != types.CoreIDUndefined && last != target {
					newMode = types.OpModeSwitchButMode2
				}
			}
			if inst.InFlight() == 0 && inst.ReadyQueue.Depth(ctx) == 0 {
				newMode = types.OpModeSingle
			}
			inst.SetMode(ctx, newMode)
			logger.Debugf(ctx, "%s consolidated to %s with %d pending buffers", inst, target, len(bufs))
		})
		return target, nil
	})
	if err != nil {
		return fail(err)
	}
	m.Stats.ModeSwitches.Inc()
	m.recomputeLoads(ctx)
	m.Cores[target].UpdateReadiness(ctx, inst.Index())
	return nil
}

// chooseSingleCore prefers the core the trigger is not pinned to, else the
// less loaded one.
func (m *Manager) chooseSingleCore(inst *instance.Instance, trigger *instance.Instance) types.CoreID {
	main, sub := inst.MainContext().CoreID(), inst.SubContext().CoreID()
	if trigger != nil && trigger != inst && trigger.CoreType == types.CoreTypeFixed {
		switch trigger.MainCore() {
		case main:
			return sub
		case sub:
			return main
		}
	}
	if m.Cores[sub].Load() < m.Cores[main].Load() {
		return sub
	}
	return main
}

// SwitchToMultiMode spreads a single-core instance over both cores using
// its configured dual-core mode. The main context ends up on the canonical
// core.
func (m *Manager) SwitchToMultiMode(
	ctx context.Context,
	inst *instance.Instance,
) (_err error) {
	ctx = belt.WithField(ctx, "instance", inst.Index())
	logger.Tracef(ctx, "SwitchToMultiMode")
	defer func() { logger.Tracef(ctx, "/SwitchToMultiMode: %v", _err) }()

	targetMode := inst.Config.MultiCoreMode
	fail := func(err error) error {
		return types.ErrModeSwitch{
			Instance: inst.Index(),
			From:     inst.Mode(),
			To:       targetMode,
			Err:      err,
		}
	}
	if len(m.Cores) < 2 || !inst.IsMultiCoreCapable() {
		return fail(fmt.Errorf("%s cannot run on two cores: %w", inst, types.ErrInvalidTopology))
	}
	if !inst.MigrationLocker.ManualTryLock(ctx) {
		return fail(fmt.Errorf("another migration or mode switch is in progress: %w", types.ErrBusy))
	}
	defer inst.MigrationLocker.ManualUnlock(ctx)

	mode := inst.Mode()
	if mode.IsDualCore() {
		return nil
	}
	if !mode.IsSingleCore() {
		return fail(fmt.Errorf("%s is in mode %s: %w", inst, mode, types.ErrBusy))
	}
	if inst.InFlight() > 0 {
		return fail(fmt.Errorf("%s has a frame in flight: %w", inst, types.ErrBusy))
	}
	cur := inst.MainContext()
	if cur == nil || inst.SubContext() != nil {
		return fail(fmt.Errorf("%s is not bound to exactly one core: %w", inst, types.ErrInvalidTopology))
	}
	curCore := cur.CoreID()
	otherCore := curCore.Other()
	if !otherCore.IsValid(len(m.Cores)) {
		return fail(fmt.Errorf("no core to pair %s with: %w", curCore, types.ErrInvalidTopology))
	}

	err := xsync.DoR1(ctx, &m.crossCoreLocker, func() error {
		release, err := m.lockCores(ctx, types.CoreIDMain, types.CoreIDSub)
		if err != nil {
			return err
		}
		defer release()
		if inst.InFlight() > 0 {
			return fmt.Errorf("%s has a frame in flight: %w", inst, types.ErrBusy)
		}

		ref := inst.Ref()
		if _, err := m.Hardware.InitInstance(ctx, otherCore, ref); err != nil {
			return fmt.Errorf("unable to initialize on %s: %w", otherCore, err)
		}
		if err := m.Hardware.SetMigrationAddresses(ctx, otherCore, ref, inst.Addresses); err != nil {
			m.closeOn(ctx, inst, otherCore)
			return fmt.Errorf("unable to set the addresses on %s: %w", otherCore, err)
		}
		added := m.newCoreContext(inst, otherCore)
		added.SetAddresses(inst.Addresses)
		_ = added.SetState(ctx, types.CoreContextStateInitialized)
		if err := m.Cores[otherCore].AttachContext(ctx, added); err != nil {
			m.closeOn(ctx, inst, otherCore)
			return err
		}

		inst.ModeLocker.Do(noLog(ctx), func() {
			inst.SetMode(ctx, types.OpModeSwitching)
			main, sub := cur, added
			if curCore != types.CoreIDMain {
				main, sub = added, cur
			}
			inst.SetMainContext(main)
			inst.SetSubContext(sub)

			bufs := inst.ReadyQueue.Drain(ctx)
			distributeBuffers(ctx, targetMode, main, sub, bufs...)
			_ = added.SetState(ctx, types.CoreContextStateRunning)
			inst.SetMode(ctx, targetMode)
			logger.Debugf(ctx, "%s spread over %s and %s with %d pending buffers", inst, main.CoreID(), sub.CoreID(), len(bufs))
		})
		return nil
	})
	if err != nil {
		return fail(err)
	}
	m.Stats.ModeSwitches.Inc()
	m.recomputeLoads(ctx)
	for _, cc := range inst.Contexts() {
		m.Cores[cc.CoreID()].UpdateReadiness(ctx, cc.Index())
	}
	return nil
}

func (m *Manager) closeOn(ctx context.Context, inst *instance.Instance, coreID types.CoreID) {
	if err := m.Hardware.CloseInstance(ctx, coreID, inst.Ref()); err != nil {
		logger.Errorf(ctx, "rollback: unable to close %s on %s: %v", inst, coreID, err)
	}
}

// distributeBuffers routes buffers to the private queues: in mode 1 both
// cores get every buffer, in mode 2 the cores alternate by sequence.
func distributeBuffers(
	ctx context.Context,
	mode types.OpMode,
	main, sub *instance.CoreContext,
	bufs ...bufqueue.Buffer,
) {
	for _, buf := range bufs {
		switch mode {
		case types.OpModeTwoMode1:
			main.Queue.Push(ctx, buf)
			sub.Queue.Push(ctx, buf)
		case types.OpModeTwoMode2:
			if buf.Sequence%2 == 0 {
				main.Queue.Push(ctx, buf)
			} else {
				sub.Queue.Push(ctx, buf)
			}
		default:
			main.Instance.ReadyQueue.Push(ctx, buf)
		}
	}
}
