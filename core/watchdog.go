package core

import (
	"context"
	"fmt"
	"time"

	"github.com/xaionaro-go/codecsched/hardware"
	"github.com/xaionaro-go/codecsched/logger"
	"github.com/xaionaro-go/codecsched/types"
	"github.com/xaionaro-go/xsync"
)

// Watchdog reports a core stuck on a frame for longer than Timeout. It is
// armed on dispatch and disarmed on completion.
type Watchdog struct {
	CoreID  types.CoreID
	Timeout time.Duration
	Handler hardware.WatchdogHandler

	locker       xsync.Mutex
	armed        bool
	fired        bool
	lastProgress time.Time
}

func newWatchdog(coreID types.CoreID, timeout time.Duration, handler hardware.WatchdogHandler) *Watchdog {
	return &Watchdog{
		CoreID:  coreID,
		Timeout: timeout,
		Handler: handler,
	}
}

func (w *Watchdog) Start(ctx context.Context) {
	w.locker.Do(noLog(ctx), func() {
		w.armed = true
		w.fired = false
		w.lastProgress = time.Now()
	})
}

// Progress postpones the expiration.
func (w *Watchdog) Progress(ctx context.Context) {
	w.locker.Do(noLog(ctx), func() {
		w.lastProgress = time.Now()
	})
}

func (w *Watchdog) Stop(ctx context.Context) {
	w.locker.Do(noLog(ctx), func() {
		w.armed = false
	})
}

func (w *Watchdog) IsArmed() bool {
	return xsync.DoR1(noLog(context.Background()), &w.locker, func() bool {
		return w.armed
	})
}

// check fires the handler at most once per arming.
func (w *Watchdog) check(ctx context.Context, now time.Time) bool {
	stuckFor, expired := xsync.DoR2(noLog(ctx), &w.locker, func() (time.Duration, bool) {
		if !w.armed || w.fired {
			return 0, false
		}
		d := now.Sub(w.lastProgress)
		if d < w.Timeout {
			return 0, false
		}
		w.fired = true
		return d, true
	})
	if !expired {
		return false
	}
	err := fmt.Errorf("no progress for %v: %w", stuckFor, types.ErrTimeout)
	logger.Errorf(ctx, "watchdog: %s is stuck: %v", w.CoreID, err)
	if w.Handler != nil {
		w.Handler.OnCoreStuck(ctx, w.CoreID, err)
	}
	return true
}

func (w *Watchdog) loop(ctx context.Context, stopCh <-chan struct{}) {
	interval := w.Timeout / 4
	if interval <= 0 {
		interval = time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case now := <-t.C:
			w.check(ctx, now)
		}
	}
}
