// core.go defines the controller of one hardware codec core.

// Package core implements the controller of one hardware codec core: the
// table of bound contexts, the dispatch loop consuming the scheduler
// decisions under the hardware lock, the watchdog and the idle power
// management.
package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/facebookincubator/go-belt"
	"github.com/xaionaro-go/codecsched/hardware"
	"github.com/xaionaro-go/codecsched/helpers/closuresignaler"
	"github.com/xaionaro-go/codecsched/hwlock"
	"github.com/xaionaro-go/codecsched/instance"
	"github.com/xaionaro-go/codecsched/logger"
	"github.com/xaionaro-go/codecsched/scheduler"
	"github.com/xaionaro-go/codecsched/types"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/xsync"
	"go.uber.org/atomic"
)

type Stats struct {
	FramesDone   atomic.Uint64
	FrameErrors  atomic.Uint64
	PowerOns     atomic.Uint64
	PowerOffs    atomic.Uint64
	DomainSwitch atomic.Uint64
}

type Core struct {
	ID           types.CoreID
	Config       Config
	HWLock       *hwlock.Lock
	Scheduler    scheduler.Strategy
	Hardware     hardware.Hardware
	Watchdog     *Watchdog
	CommandQueue *CommandQueue
	Stats        Stats

	locker         xsync.Mutex
	contexts       [types.MaxContexts]atomic.Pointer[instance.CoreContext]
	load           atomic.Uint64
	current        atomic.Int32
	preempt        atomic.Int32
	powered        atomic.Bool
	protected      atomic.Bool
	firmwareLoaded atomic.Bool
	lastActivity   atomic.Time
	workCh         chan struct{}
	closer         *closuresignaler.ClosureSignaler
	waitGroup      sync.WaitGroup
	isServing      atomic.Bool
}

var (
	_ scheduler.CoreInfo    = (*Core)(nil)
	_ scheduler.PerfChecker = (*Core)(nil)
	_ types.Closer          = (*Core)(nil)
)

func New(
	ctx context.Context,
	id types.CoreID,
	hw hardware.Hardware,
	opts ...Option,
) (*Core, error) {
	cfg := Options(opts).config()
	c := &Core{
		ID:           id,
		Config:       cfg,
		Hardware:     hw,
		HWLock:       hwlock.New(id, cfg.HWLockTimeout),
		CommandQueue: newCommandQueue(),
		workCh:       make(chan struct{}, 1),
		closer:       closuresignaler.New(),
	}
	c.Watchdog = newWatchdog(id, cfg.WatchdogTimeout, cfg.WatchdogHandler)
	c.current.Store(-1)
	c.preempt.Store(-1)
	c.lastActivity.Store(time.Now())
	c.HWLock.OnFree = c.RequestWork

	var err error
	c.Scheduler, err = scheduler.New(cfg.SchedulerType, c, c, cfg.SchedulerConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize the scheduler of %s: %w", id, err)
	}
	logger.Debugf(ctx, "initialized %s with scheduler %s", id, cfg.SchedulerType)
	return c, nil
}

func (c *Core) String() string {
	return c.ID.String()
}

func noLog(ctx context.Context) context.Context {
	return xsync.WithNoLogging(ctx, true)
}

func (c *Core) withFields(ctx context.Context) context.Context {
	return belt.WithField(ctx, "core", int(c.ID))
}

// Serve starts the background loops of the core; they are stopped by
// Close.
func (c *Core) Serve(ctx context.Context) {
	if !c.isServing.CompareAndSwap(false, true) {
		logger.Errorf(ctx, "%s is already being served", c)
		return
	}
	ctx = c.withFields(ctx)
	c.waitGroup.Add(1)
	observability.Go(ctx, func(ctx context.Context) {
		defer c.waitGroup.Done()
		c.butlerLoop(ctx)
	})
	if c.Config.WatchdogTimeout > 0 {
		c.waitGroup.Add(1)
		observability.Go(ctx, func(ctx context.Context) {
			defer c.waitGroup.Done()
			c.Watchdog.loop(ctx, c.closer.CloseChan())
		})
	}
	if c.Config.IdleTimeout > 0 {
		c.waitGroup.Add(1)
		observability.Go(ctx, func(ctx context.Context) {
			defer c.waitGroup.Done()
			c.idleLoop(ctx)
		})
	}
	c.RequestWork(ctx)
}

// Close stops the loops and releases the waiters of the hardware lock with
// types.ErrShuttingDown.
func (c *Core) Close(ctx context.Context) error {
	logger.Debugf(ctx, "Close[%s]", c)
	if !c.closer.Close(ctx) {
		return nil
	}
	c.HWLock.Shutdown(ctx)
	c.waitGroup.Wait()
	return nil
}

func (c *Core) IsClosed() bool {
	return c.closer.IsClosed()
}

// RequestWork re-triggers the dispatch loop; it never blocks.
func (c *Core) RequestWork(ctx context.Context) {
	select {
	case c.workCh <- struct{}{}:
	default:
	}
}

func (c *Core) CurrentContextIndex() int {
	return int(c.current.Load())
}

func (c *Core) PreemptContextIndex() int {
	return int(c.preempt.Load())
}

// SetPreempt makes the context run next regardless of the policy.
func (c *Core) SetPreempt(ctx context.Context, idx int) {
	logger.Debugf(ctx, "%s: preempt ctx%d", c, idx)
	c.preempt.Store(int32(idx))
	c.RequestWork(ctx)
}

func (c *Core) ClearPreempt(ctx context.Context) {
	c.preempt.Store(-1)
}

func (c *Core) AverageRuntime(idx int) time.Duration {
	cc := c.Context(idx)
	if cc == nil {
		return 0
	}
	return cc.AverageRuntime()
}

func (c *Core) FrameInterval(idx int) time.Duration {
	cc := c.Context(idx)
	if cc == nil {
		return 0
	}
	return cc.Instance.FrameInterval()
}

func (c *Core) Load() types.Load {
	return types.Load(c.load.Load())
}

func (c *Core) SetLoad(l types.Load) {
	c.load.Store(uint64(l))
}

func (c *Core) MaxLoad() types.Load {
	return c.Config.MaxLoad
}

// LoadPercent is the load as a percentage of the rating of the core.
func (c *Core) LoadPercent() uint64 {
	return c.Load().Percent(c.MaxLoad())
}

func (c *Core) IsPowered() bool {
	return c.powered.Load()
}

func (c *Core) IsProtected() bool {
	return c.protected.Load()
}

func (c *Core) Context(idx int) *instance.CoreContext {
	if idx < 0 || idx >= types.MaxContexts {
		return nil
	}
	return c.contexts[idx].Load()
}

// Contexts returns the bound contexts ordered by index.
func (c *Core) Contexts() []*instance.CoreContext {
	var result []*instance.CoreContext
	for idx := range c.contexts {
		if cc := c.contexts[idx].Load(); cc != nil {
			result = append(result, cc)
		}
	}
	return result
}

// AttachContext binds the context to the core; the slot of its index must
// be free.
func (c *Core) AttachContext(ctx context.Context, cc *instance.CoreContext) error {
	idx := cc.Index()
	if idx < 0 || idx >= types.MaxContexts {
		return fmt.Errorf("context index %d is out of range: %w", idx, types.ErrInvalidTopology)
	}
	err := xsync.DoR1(noLog(ctx), &c.locker, func() error {
		if !c.contexts[idx].CompareAndSwap(nil, cc) {
			return fmt.Errorf("slot %d of %s is occupied by %s: %w", idx, c, c.contexts[idx].Load(), types.ErrInvalidTopology)
		}
		cc.SetCoreID(c.ID)
		return nil
	})
	if err != nil {
		return err
	}
	c.Scheduler.ChangePriority(ctx, idx, cc.Instance.RTClass(), cc.Instance.Priority())
	logger.Debugf(ctx, "%s attached to %s", cc, c)
	c.UpdateReadiness(ctx, idx)
	return nil
}

// DetachContext unbinds the context of the given index and returns it.
func (c *Core) DetachContext(ctx context.Context, idx int) *instance.CoreContext {
	if idx < 0 || idx >= types.MaxContexts {
		return nil
	}
	cc := xsync.DoR1(noLog(ctx), &c.locker, func() *instance.CoreContext {
		return c.contexts[idx].Swap(nil)
	})
	c.Scheduler.ClearReady(ctx, idx)
	c.preempt.CompareAndSwap(int32(idx), -1)
	if cc != nil {
		logger.Debugf(ctx, "%s detached from %s", cc, c)
	}
	return cc
}

// UpdateReadiness re-evaluates the readiness bit of the context and
// triggers the dispatch loop if it has work.
func (c *Core) UpdateReadiness(ctx context.Context, idx int) bool {
	cc := c.Context(idx)
	if cc == nil || !cc.HasWork(ctx) {
		c.Scheduler.ClearReady(ctx, idx)
		return false
	}
	c.Scheduler.SetReady(ctx, idx)
	c.RequestWork(ctx)
	return true
}

// ChangePriority moves the context between the scheduler tiers; a tier
// change invalidates the batched command list.
func (c *Core) ChangePriority(
	ctx context.Context,
	idx int,
	rtClass types.RTClass,
	prio types.Priority,
) bool {
	if !c.Scheduler.ChangePriority(ctx, idx, rtClass, prio) {
		return false
	}
	c.CommandQueue.RaiseException(ctx)
	c.RequestWork(ctx)
	return true
}

// IsIdle returns true if nothing is bound-and-ready and the lock is free.
func (c *Core) IsIdle(ctx context.Context) bool {
	return !c.Scheduler.IsWorkPending(ctx) && !c.HWLock.IsLocked()
}
