package core

import (
	"context"
	"time"

	"github.com/xaionaro-go/codecsched/hwlock"
	"github.com/xaionaro-go/codecsched/logger"
	"github.com/xaionaro-go/codecsched/types"
)

// ownerIdle is the lock owner of the idle power-down; it uses the bit right
// after the context ones.
var ownerIdle = hwlock.OwnerContext(types.MaxContexts)

func (c *Core) idleLoop(ctx context.Context) {
	interval := c.Config.IdleTimeout / 2
	if interval <= 0 {
		interval = time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closer.CloseChan():
			return
		case now := <-t.C:
			c.checkIdle(ctx, now)
		}
	}
}

// checkIdle powers the core off if it has been idle for IdleTimeout.
func (c *Core) checkIdle(ctx context.Context, now time.Time) bool {
	if !c.powered.Load() {
		return false
	}
	if now.Sub(c.lastActivity.Load()) < c.Config.IdleTimeout {
		return false
	}
	if c.Scheduler.IsWorkPending(ctx) {
		return false
	}
	if err := c.HWLock.TryAcquire(ctx, ownerIdle); err != nil {
		return false
	}
	defer c.releaseLock(ctx, ownerIdle)
	if c.Scheduler.IsWorkPending(ctx) {
		return false
	}
	if err := c.Hardware.PowerOff(ctx, c.ID); err != nil {
		logger.Errorf(ctx, "unable to power off %s: %v", c, err)
		return false
	}
	c.powered.Store(false)
	c.protected.Store(false)
	c.Stats.PowerOffs.Inc()
	logger.Debugf(ctx, "%s powered off after %v of idling", c, now.Sub(c.lastActivity.Load()))
	return true
}
