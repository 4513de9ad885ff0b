package resourcemanager

import (
	"context"
	"fmt"

	"github.com/facebookincubator/go-belt"
	"github.com/xaionaro-go/codecsched/instance"
	"github.com/xaionaro-go/codecsched/logger"
	"github.com/xaionaro-go/codecsched/types"
	"github.com/xaionaro-go/xsync"
)

// MigrateRunningInstance moves a single-core instance between cores. It
// either completes or leaves the instance on its original core, in its
// original state; in the latter case the error is a types.ErrMigration.
func (m *Manager) MigrateRunningInstance(
	ctx context.Context,
	inst *instance.Instance,
	from, to types.CoreID,
) (_err error) {
	ctx = belt.WithField(ctx, "instance", inst.Index())
	logger.Tracef(ctx, "MigrateRunningInstance(%s -> %s)", from, to)
	defer func() { logger.Tracef(ctx, "/MigrateRunningInstance(%s -> %s): %v", from, to, _err) }()

	fail := func(step types.MigrationStep, err error) error {
		m.Stats.MigrationFailures.Inc()
		return types.ErrMigration{
			Step:     step,
			Instance: inst.Index(),
			From:     from,
			To:       to,
			Err:      err,
		}
	}

	if m.IsClosed() {
		return fail(types.MigrationStepPrepare, types.ErrShuttingDown)
	}
	if from == to || !from.IsValid(len(m.Cores)) || !to.IsValid(len(m.Cores)) {
		return fail(types.MigrationStepPrepare, fmt.Errorf("invalid cores: %w", types.ErrInvalidTopology))
	}
	if inst.CoreType == types.CoreTypeFixed {
		return fail(types.MigrationStepPrepare, fmt.Errorf("%s is pinned to its core: %w", inst, types.ErrInvalidTopology))
	}

	// step 1: serialize with other migrations and mode switches
	if !inst.MigrationLocker.ManualTryLock(ctx) {
		return fail(types.MigrationStepPrepare, fmt.Errorf("another migration or mode switch is in progress: %w", types.ErrBusy))
	}
	defer inst.MigrationLocker.ManualUnlock(ctx)

	if mode := inst.Mode(); mode != types.OpModeSingle {
		return fail(types.MigrationStepPrepare, fmt.Errorf("%s is in mode %s: %w", inst, mode, types.ErrBusy))
	}
	cc := inst.MainContext()
	if cc == nil || cc.CoreID() != from || inst.SubContext() != nil {
		return fail(types.MigrationStepPrepare, fmt.Errorf("%s does not run on %s only: %w", inst, from, types.ErrInvalidTopology))
	}
	prevState := cc.State()
	if err := cc.SetState(ctx, types.CoreContextStateMoveInProgress); err != nil {
		return fail(types.MigrationStepPrepare, err)
	}

	step, err := xsync.DoR2(ctx, &m.crossCoreLocker, func() (types.MigrationStep, error) {
		return m.migrateLocked(ctx, inst, cc, from, to)
	})
	if err != nil {
		cc.RestoreState(ctx, prevState)
		m.Cores[from].UpdateReadiness(ctx, cc.Index())
		return fail(step, err)
	}

	cc.RestoreState(ctx, prevState)
	m.Stats.Migrations.Inc()
	m.recomputeLoads(ctx)
	m.Cores[from].RequestWork(ctx)
	m.Cores[to].UpdateReadiness(ctx, cc.Index())
	m.Cores[to].RequestWork(ctx)
	logger.Debugf(ctx, "migrated %s from %s to %s", inst, from, to)
	return nil
}

// migrateLocked performs the steps 2 to 5; on failure everything done is
// rolled back and the failed step is returned.
func (m *Manager) migrateLocked(
	ctx context.Context,
	inst *instance.Instance,
	cc *instance.CoreContext,
	from, to types.CoreID,
) (types.MigrationStep, error) {
	ref := inst.Ref()

	// step 2: own both cores, source first
	release, err := m.lockCores(ctx, from, to)
	if err != nil {
		return types.MigrationStepLockCores, err
	}
	defer release()

	// step 3: the destination gets the addressing of the authoritative core
	if _, err := m.Hardware.InitInstance(ctx, to, ref); err != nil {
		return types.MigrationStepInitDestination, fmt.Errorf("unable to initialize on %s: %w", to, err)
	}
	closeOnDest := func() {
		if err := m.Hardware.CloseInstance(ctx, to, ref); err != nil {
			logger.Errorf(ctx, "rollback: unable to close %s on %s: %v", inst, to, err)
		}
	}
	if err := m.Hardware.SetMigrationAddresses(ctx, to, ref, inst.Addresses); err != nil {
		closeOnDest()
		return types.MigrationStepInitDestination, fmt.Errorf("unable to set the addresses on %s: %w", to, err)
	}

	// step 4: flush the work of the source
	if err := m.Hardware.CloseInstance(ctx, from, ref); err != nil {
		closeOnDest()
		return types.MigrationStepMoveWork, fmt.Errorf("unable to close on %s: %w", from, err)
	}
	if moved := inst.ReadyQueue.Depth(ctx) + cc.Queue.Depth(ctx); moved > 0 {
		logger.Debugf(ctx, "%d pending buffers follow %s to %s", moved, inst, to)
	}
	reopenOnSource := func() {
		if _, err := m.Hardware.InitInstance(ctx, from, ref); err != nil {
			logger.Errorf(ctx, "rollback: unable to re-initialize %s on %s: %v", inst, from, err)
			return
		}
		if err := m.Hardware.SetMigrationAddresses(ctx, from, ref, inst.Addresses); err != nil {
			logger.Errorf(ctx, "rollback: unable to restore the addresses of %s on %s: %v", inst, from, err)
		}
	}

	// step 5: hand the context over
	m.Cores[from].DetachContext(ctx, cc.Index())
	if err := m.Cores[to].AttachContext(ctx, cc); err != nil {
		if err := m.Cores[from].AttachContext(ctx, cc); err != nil {
			logger.Errorf(ctx, "rollback: unable to re-attach %s to %s: %v", cc, from, err)
		}
		reopenOnSource()
		closeOnDest()
		return types.MigrationStepHandOver, err
	}
	cc.SetAddresses(inst.Addresses)
	return types.EndOfMigrationStep, nil
}
