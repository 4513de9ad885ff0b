package core

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/xaionaro-go/codecsched/bufqueue"
	"github.com/xaionaro-go/codecsched/hwlock"
	"github.com/xaionaro-go/codecsched/instance"
	"github.com/xaionaro-go/codecsched/logger"
	"github.com/xaionaro-go/codecsched/types"
)

func (c *Core) butlerLoop(ctx context.Context) {
	logger.Debugf(ctx, "butlerLoop")
	defer func() { logger.Debugf(ctx, "/butlerLoop") }()
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		logger.Errorf(ctx, "got panic in the butler of %s: %v:\n%s\n", c, r, debug.Stack())
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closer.CloseChan():
			return
		case <-c.workCh:
		}
		for c.dispatchOne(ctx) {
			if c.closer.IsClosed() {
				return
			}
		}
		if !c.Scheduler.IsWorkPending(ctx) {
			c.CommandQueue.Finish(ctx)
		}
	}
}

// dispatchOne runs one frame of the context chosen by the scheduler;
// returns false when the loop should wait for the next trigger.
func (c *Core) dispatchOne(ctx context.Context) bool {
	if !c.Scheduler.IsWorkPending(ctx) {
		return false
	}
	idx, err := c.Scheduler.PickNext(ctx)
	var cc *instance.CoreContext
	for {
		if err != nil {
			if !errors.Is(err, types.ErrNoWork) {
				logger.Errorf(ctx, "unable to pick the next context on %s: %v", c, err)
			}
			return false
		}
		if c.PreemptContextIndex() == idx {
			c.ClearPreempt(ctx)
		}
		cc = c.Context(idx)
		if cc != nil && cc.HasWork(ctx) {
			break
		}
		idx, err = c.yield(ctx, idx)
	}

	owner := hwlock.OwnerContext(idx)
	if err := c.HWLock.TryAcquire(ctx, owner); err != nil {
		// re-triggered by OnFree once the current owner releases
		logger.Tracef(ctx, "%s is busy: %v", c.HWLock, err)
		return false
	}

	// the binding may have changed while we were not owning the core
	if c.Context(idx) != cc || cc.CoreID() != c.ID || !cc.HasWork(ctx) {
		c.releaseLock(ctx, owner)
		if !c.UpdateReadiness(ctx, idx) {
			c.yield(ctx, idx)
		}
		return true
	}

	buf, runErr := c.runFrameLocked(ctx, cc)
	c.releaseLock(ctx, owner)

	if errors.Is(runErr, errNoBuffer) {
		c.UpdateReadiness(ctx, idx)
		return true
	}
	if c.Config.OnFrameDone != nil {
		c.Config.OnFrameDone(ctx, cc, buf, runErr)
	}
	c.UpdateReadiness(ctx, idx)
	if runErr != nil {
		return false
	}
	if c.Config.Lookahead {
		if next, err := c.Scheduler.PredictNext(ctx); err == nil {
			logger.Tracef(ctx, "%s: predicted ctx%d", c, next)
		}
	}
	return true
}

// yield gives up the turn of a context found without work and returns the
// scheduler's next pick. Work queued meanwhile re-marks the context ready.
func (c *Core) yield(ctx context.Context, idx int) (int, error) {
	next, err := c.Scheduler.YieldAndRetry(ctx, idx)
	if cc := c.Context(idx); cc != nil && cc.HasWork(ctx) {
		c.Scheduler.SetReady(ctx, idx)
	}
	return next, err
}

func (c *Core) releaseLock(ctx context.Context, owner hwlock.Owner) {
	if err := c.HWLock.Release(ctx, owner); err != nil {
		logger.Errorf(ctx, "unable to release %s: %v", c.HWLock, err)
	}
}

var errNoBuffer = errors.New("no buffer")

// runFrameLocked must be called with the hardware lock owned.
func (c *Core) runFrameLocked(
	ctx context.Context,
	cc *instance.CoreContext,
) (_buf bufqueue.Buffer, _err error) {
	inst := cc.Instance
	logger.Tracef(ctx, "runFrameLocked[%s]", cc)
	defer func() { logger.Tracef(ctx, "/runFrameLocked[%s]: %v", cc, _err) }()

	c.current.Store(int32(cc.Index()))
	c.lastActivity.Store(time.Now())

	if err := c.ensurePoweredLocked(ctx); err != nil {
		return bufqueue.Buffer{}, err
	}
	if err := c.switchDomainLocked(ctx, inst.Config.IsDRM); err != nil {
		return bufqueue.Buffer{}, err
	}

	queue := cc.WorkQueue()
	buf, ok := queue.Pop(ctx)
	if !ok {
		return bufqueue.Buffer{}, errNoBuffer
	}
	c.queueCommandLocked(ctx)

	inst.IncInFlight()
	defer inst.DecInFlight()

	c.Watchdog.Start(ctx)
	startedAt := time.Now()
	cmd, err := c.Hardware.RunOneFrame(ctx, c.ID, inst.Ref(), buf)
	if err == nil {
		c.Watchdog.Progress(ctx)
		err = c.Hardware.AwaitCompletion(ctx, c.ID, cmd)
	}
	c.Watchdog.Stop(ctx)
	c.lastActivity.Store(time.Now())

	if err != nil {
		c.Stats.FrameErrors.Inc()
		queue.PushFront(ctx, buf)
		err = fmt.Errorf("unable to process %s of %s on %s: %w", buf, inst, c, err)
		logger.Errorf(ctx, "%v", err)
		if errors.Is(err, types.ErrTimeout) && c.Config.WatchdogHandler != nil {
			c.Config.WatchdogHandler.OnCoreStuck(ctx, c.ID, err)
		}
		return buf, err
	}

	avg := cc.RecordRuntime(time.Since(startedAt))
	inst.SetLastCore(c.ID)
	c.Stats.FramesDone.Inc()
	logger.Tracef(ctx, "%s done on %s, average runtime %v", buf, cc, avg)
	return buf, nil
}

// queueCommandLocked accounts the frame in the command batch, draining
// first if a priority change raised an exception in the meantime.
func (c *Core) queueCommandLocked(ctx context.Context) {
	for !c.CommandQueue.Append(ctx) {
		c.CommandQueue.Drain(ctx)
	}
}

func (c *Core) ensurePoweredLocked(ctx context.Context) error {
	if c.powered.Load() {
		return nil
	}
	if err := c.Hardware.PowerOn(ctx, c.ID); err != nil {
		return fmt.Errorf("unable to power on %s: %w", c, err)
	}
	c.powered.Store(true)
	c.Stats.PowerOns.Inc()
	if !c.firmwareLoaded.Load() {
		if err := c.Hardware.LoadFirmware(ctx, c.ID); err != nil {
			return fmt.Errorf("unable to load the firmware on %s: %w", c, err)
		}
		c.firmwareLoaded.Store(true)
	}
	logger.Debugf(ctx, "%s powered on", c)
	return nil
}

// switchDomainLocked enters or leaves the secure domain to match the
// instance about to run.
func (c *Core) switchDomainLocked(ctx context.Context, isDRM bool) error {
	if c.protected.Load() == isDRM {
		return nil
	}
	var err error
	if isDRM {
		err = c.Hardware.ProtectOn(ctx, c.ID)
	} else {
		err = c.Hardware.ProtectOff(ctx, c.ID)
	}
	if err != nil {
		return fmt.Errorf("unable to switch the protection of %s to %t: %w", c, isDRM, err)
	}
	c.protected.Store(isDRM)
	c.Stats.DomainSwitch.Inc()
	return nil
}
