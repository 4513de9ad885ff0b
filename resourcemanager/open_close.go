package resourcemanager

import (
	"context"
	"fmt"

	"github.com/facebookincubator/go-belt"
	"github.com/xaionaro-go/codecsched/instance"
	"github.com/xaionaro-go/codecsched/logger"
	"github.com/xaionaro-go/codecsched/slotmap"
	"github.com/xaionaro-go/codecsched/types"
	"github.com/xaionaro-go/xsync"
)

// OpenInstance creates an instance, binds it to the selected core and
// initializes it on the hardware.
func (m *Manager) OpenInstance(
	ctx context.Context,
	cfg instance.Config,
) (_ret *instance.Instance, _err error) {
	logger.Tracef(ctx, "OpenInstance(%s %s)", cfg.Codec, cfg.SessionType)
	defer func() { logger.Tracef(ctx, "/OpenInstance(%s %s): %v", cfg.Codec, cfg.SessionType, _err) }()

	if m.IsClosed() {
		return nil, types.ErrShuttingDown
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid instance config: %w", err)
	}
	if cfg.MultiCoreMode == types.UndefinedOpMode {
		cfg.MultiCoreMode = types.OpModeSingle
	}

	coreType, coreID := m.SelectCoreForNewInstance(ctx, cfg)
	inst := instance.New(slotmap.InvalidHandle, cfg, coreType)
	err := xsync.DoR1(noLog(ctx), &m.listLocker, func() error {
		h, err := m.instances.Insert(inst)
		if err != nil {
			return err
		}
		inst.Handle = h
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to allocate an instance slot: %w", err)
	}
	ctx = belt.WithField(ctx, "instance", inst.Index())

	if err := m.bindNewInstance(ctx, inst, coreID); err != nil {
		m.listLocker.Do(noLog(ctx), func() {
			m.instances.Remove(inst.Handle)
		})
		return nil, err
	}

	m.listLocker.Do(noLog(ctx), func() {
		if cfg.IsDRM {
			m.drmCount++
		} else {
			m.nonDRMCount++
		}
	})
	logger.Debugf(ctx, "opened %s on %s (%s)", inst, coreID, coreType)

	if _, err := m.LoadBalance(ctx, inst, LoadBalanceAdd); err != nil {
		logger.Errorf(ctx, "unable to balance the load after opening %s: %v", inst, err)
	}
	if err := m.CheckAndRebalanceMultiCore(ctx); err != nil {
		logger.Debugf(ctx, "multi-core rebalance after opening %s: %v", inst, err)
	}
	return inst, nil
}

func (m *Manager) bindNewInstance(
	ctx context.Context,
	inst *instance.Instance,
	coreID types.CoreID,
) error {
	c := m.Cores[coreID]
	cc := m.newCoreContext(inst, coreID)

	addrs, err := m.Hardware.InitInstance(ctx, coreID, inst.Ref())
	if err != nil {
		return fmt.Errorf("unable to initialize %s on %s: %w", inst, c, err)
	}
	inst.Addresses = addrs
	cc.SetAddresses(addrs)
	if err := cc.SetState(ctx, types.CoreContextStateInitialized); err != nil {
		return err
	}
	inst.SetMainContext(cc)
	if err := c.AttachContext(ctx, cc); err != nil {
		inst.SetMainContext(nil)
		if closeErr := m.Hardware.CloseInstance(ctx, coreID, inst.Ref()); closeErr != nil {
			logger.Errorf(ctx, "unable to close %s on %s: %v", inst, c, closeErr)
		}
		return fmt.Errorf("unable to bind %s to %s: %w", inst, c, err)
	}
	return cc.SetState(ctx, types.CoreContextStateRunning)
}

// CloseInstance consolidates the instance to one core, waits for its
// in-flight frame and releases it.
func (m *Manager) CloseInstance(
	ctx context.Context,
	h slotmap.Handle,
) (_err error) {
	logger.Tracef(ctx, "CloseInstance(%s)", h)
	defer func() { logger.Tracef(ctx, "/CloseInstance(%s): %v", h, _err) }()

	inst, err := m.Instance(h)
	if err != nil {
		return err
	}
	ctx = belt.WithField(ctx, "instance", inst.Index())
	inst.SetClosing()

	err = xsync.DoR1(ctx, &inst.MigrationLocker, func() error {
		if inst.Mode().IsDualCore() {
			if err := m.switchToSingleLocked(ctx, inst, nil); err != nil {
				return err
			}
		}
		return m.unbindInstance(ctx, inst)
	})
	if err != nil {
		return fmt.Errorf("unable to close %s: %w", inst, err)
	}

	m.listLocker.Do(noLog(ctx), func() {
		m.instances.Remove(inst.Handle)
		if inst.Config.IsDRM {
			m.drmCount--
		} else {
			m.nonDRMCount--
		}
	})
	logger.Debugf(ctx, "closed %s", inst)

	if _, err := m.LoadBalance(ctx, inst, LoadBalanceRemove); err != nil {
		logger.Errorf(ctx, "unable to balance the load after closing %s: %v", inst, err)
	}
	if err := m.CheckAndRebalanceMultiCore(ctx); err != nil {
		logger.Debugf(ctx, "multi-core rebalance after closing %s: %v", inst, err)
	}
	return nil
}

// unbindInstance must be called with the migration lock of the instance
// held.
func (m *Manager) unbindInstance(ctx context.Context, inst *instance.Instance) error {
	for _, cc := range inst.Contexts() {
		coreID := cc.CoreID()
		err := xsync.DoR1(ctx, &m.crossCoreLocker, func() error {
			release, err := m.lockCores(ctx, coreID)
			if err != nil {
				return err
			}
			defer release()
			_ = cc.SetState(ctx, types.CoreContextStateFinishing)
			m.Cores[coreID].DetachContext(ctx, cc.Index())
			if err := m.Hardware.CloseInstance(ctx, coreID, inst.Ref()); err != nil {
				logger.Errorf(ctx, "unable to close %s on %s: %v", inst, coreID, err)
			}
			_ = cc.SetState(ctx, types.CoreContextStateFree)
			cc.Queue.Drain(ctx)
			return nil
		})
		if err != nil {
			return err
		}
	}
	inst.SetMainContext(nil)
	inst.SetSubContext(nil)
	dropped := inst.ReadyQueue.Drain(ctx)
	if len(dropped) > 0 {
		logger.Debugf(ctx, "dropped %d pending buffers of %s", len(dropped), inst)
	}
	return nil
}
