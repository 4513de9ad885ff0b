// lock.go implements the per-core hardware lock.

// Package hwlock provides the token serializing the access to a core
// between contexts. Waiters are served in FIFO order and the lock is handed
// over directly to the head waiter on release, without re-arbitration.
package hwlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xaionaro-go/codecsched/helpers/closuresignaler"
	"github.com/xaionaro-go/codecsched/internal"
	"github.com/xaionaro-go/codecsched/logger"
	"github.com/xaionaro-go/codecsched/types"
	"github.com/xaionaro-go/xsync"
)

const DefaultTimeout = 12 * time.Second

var ErrNotOwner = errors.New("not the owner of the hardware lock")

type waiter struct {
	owner  Owner
	wakeCh chan struct{}
}

type Lock struct {
	CoreID  types.CoreID
	Timeout time.Duration

	// OnFree is called (without any internal lock held) every time a release
	// leaves the lock free.
	OnFree func(ctx context.Context)

	locker        xsync.Mutex
	bits          uint64
	dev           bool
	transferOwner bool
	waitingList   []*waiter
	closer        *closuresignaler.ClosureSignaler
}

func New(coreID types.CoreID, timeout time.Duration) *Lock {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Lock{
		CoreID:  coreID,
		Timeout: timeout,
		closer:  closuresignaler.New(),
	}
}

func (l *Lock) String() string {
	return fmt.Sprintf("HWLock(%s)", l.CoreID)
}

func noLog(ctx context.Context) context.Context {
	return xsync.WithNoLogging(ctx, true)
}

func (l *Lock) isFreeLocked() bool {
	return l.bits == 0 && !l.dev
}

func (l *Lock) isOwnerLocked(owner Owner) bool {
	if owner.IsDevice {
		return l.dev
	}
	return l.bits&(uint64(1)<<uint(owner.Context)) != 0
}

func (l *Lock) setOwnerLocked(owner Owner) {
	if owner.IsDevice {
		l.dev = true
		return
	}
	l.bits |= uint64(1) << uint(owner.Context)
}

func (l *Lock) clearOwnerLocked(owner Owner) {
	if owner.IsDevice {
		l.dev = false
		return
	}
	l.bits &^= uint64(1) << uint(owner.Context)
}

func (l *Lock) findWaiterLocked(owner Owner) int {
	for idx, w := range l.waitingList {
		if w.owner == owner {
			return idx
		}
	}
	return -1
}

// Acquire blocks until the owner becomes the sole owner of the core. It
// fails with types.ErrTimeout if not granted within the timeout and with
// types.ErrShuttingDown if the lock is shut down meanwhile.
func (l *Lock) Acquire(ctx context.Context, owner Owner) (_err error) {
	logger.Tracef(ctx, "Acquire[%s](%s)", l.CoreID, owner)
	defer func() { logger.Tracef(ctx, "/Acquire[%s](%s): %v", l.CoreID, owner, _err) }()

	w, err := xsync.DoA2R2(noLog(ctx), &l.locker, l.acquireOrEnqueueLocked, ctx, owner)
	if err != nil {
		return err
	}
	if w == nil {
		return nil
	}

	t := time.NewTimer(l.Timeout)
	defer t.Stop()
	select {
	case <-w.wakeCh:
	case <-t.C:
		return l.abortWait(ctx, w, fmt.Errorf("%w: waited %v for %s as %s", types.ErrTimeout, l.Timeout, l, owner))
	case <-ctx.Done():
		return l.abortWait(ctx, w, ctx.Err())
	case <-l.closer.CloseChan():
		return l.abortWait(ctx, w, types.ErrShuttingDown)
	}

	return l.confirmTransfer(ctx, owner)
}

func (l *Lock) acquireOrEnqueueLocked(ctx context.Context, owner Owner) (*waiter, error) {
	if l.closer.IsClosed() {
		return nil, types.ErrShuttingDown
	}
	if l.isOwnerLocked(owner) {
		logger.Debugf(ctx, "%s already owns %s", owner, l)
		return nil, nil
	}
	if l.isFreeLocked() {
		internal.Assert(ctx, len(l.waitingList) == 0, "a free lock must have no waiters", l.CoreID)
		l.setOwnerLocked(owner)
		l.transferOwner = false
		return nil, nil
	}
	if l.findWaiterLocked(owner) >= 0 {
		return nil, fmt.Errorf("%s is already waiting for %s: %w", owner, l, types.ErrBusy)
	}
	w := &waiter{
		owner:  owner,
		wakeCh: make(chan struct{}),
	}
	l.waitingList = append(l.waitingList, w)
	logger.Debugf(ctx, "%s waits for %s, waiting list length: %d", owner, l, len(l.waitingList))
	return w, nil
}

// confirmTransfer is called by a woken waiter: the releaser has already
// made it the owner, so only the flag and the bit are checked.
func (l *Lock) confirmTransfer(ctx context.Context, owner Owner) error {
	var release bool
	err := xsync.DoR1(noLog(ctx), &l.locker, func() error {
		if !l.transferOwner || !l.isOwnerLocked(owner) {
			return fmt.Errorf("%s was woken up without the ownership of %s: %w", owner, l, types.ErrBusy)
		}
		l.transferOwner = false
		if l.closer.IsClosed() {
			release = true
			return types.ErrShuttingDown
		}
		return nil
	})
	if release {
		l.releaseAnyway(ctx, owner)
	}
	return err
}

// abortWait leaves the waiting list. If the ownership was transferred
// concurrently, it is passed on to the next waiter.
func (l *Lock) abortWait(ctx context.Context, w *waiter, cause error) error {
	var owned bool
	l.locker.Do(noLog(ctx), func() {
		if l.isOwnerLocked(w.owner) {
			owned = true
			l.transferOwner = false
			return
		}
		l.removeWaiterLocked(ctx, w.owner)
	})
	if owned {
		logger.Debugf(ctx, "%s got %s while giving up: %v", w.owner, l, cause)
		l.releaseAnyway(ctx, w.owner)
	}
	return cause
}

func (l *Lock) releaseAnyway(ctx context.Context, owner Owner) {
	if err := l.Release(ctx, owner); err != nil {
		logger.Errorf(ctx, "unable to release %s as %s: %v", l, owner, err)
	}
}

// TryAcquire takes the lock only if it is free; it never waits.
func (l *Lock) TryAcquire(ctx context.Context, owner Owner) error {
	return xsync.DoR1(noLog(ctx), &l.locker, func() error {
		if l.closer.IsClosed() {
			return types.ErrShuttingDown
		}
		if l.isOwnerLocked(owner) {
			return nil
		}
		if !l.isFreeLocked() {
			return types.ErrBusy
		}
		l.setOwnerLocked(owner)
		l.transferOwner = false
		return nil
	})
}

// Release clears the ownership; if somebody waits, the ownership is
// transferred to the head of the waiting list.
func (l *Lock) Release(ctx context.Context, owner Owner) (_err error) {
	logger.Tracef(ctx, "Release[%s](%s)", l.CoreID, owner)
	defer func() { logger.Tracef(ctx, "/Release[%s](%s): %v", l.CoreID, owner, _err) }()

	var isFree bool
	err := xsync.DoR1(noLog(ctx), &l.locker, func() error {
		if !l.isOwnerLocked(owner) {
			return fmt.Errorf("%s: %w (%s)", owner, ErrNotOwner, l)
		}
		l.clearOwnerLocked(owner)
		l.transferOwner = false
		if len(l.waitingList) == 0 {
			isFree = l.isFreeLocked()
			return nil
		}
		next := l.waitingList[0]
		l.waitingList = l.waitingList[1:]
		l.setOwnerLocked(next.owner)
		l.transferOwner = true
		close(next.wakeCh)
		logger.Debugf(ctx, "%s: ownership transferred %s -> %s", l, owner, next.owner)
		return nil
	})
	if err != nil {
		return err
	}
	if isFree && l.OnFree != nil {
		l.OnFree(ctx)
	}
	return nil
}

// RemoveWaiter excises the owner from the waiting list without disturbing
// the other entries.
func (l *Lock) RemoveWaiter(ctx context.Context, owner Owner) bool {
	return xsync.DoA2R1(noLog(ctx), &l.locker, l.removeWaiterLocked, ctx, owner)
}

func (l *Lock) removeWaiterLocked(ctx context.Context, owner Owner) bool {
	idx := l.findWaiterLocked(owner)
	if idx < 0 {
		return false
	}
	l.waitingList = append(l.waitingList[:idx], l.waitingList[idx+1:]...)
	logger.Debugf(ctx, "%s removed from the waiting list of %s", owner, l)
	return true
}

// Shutdown releases all the waiters with types.ErrShuttingDown and refuses
// any further acquisition.
func (l *Lock) Shutdown(ctx context.Context) {
	logger.Debugf(ctx, "Shutdown[%s]", l.CoreID)
	l.closer.Close(ctx)
	l.locker.Do(noLog(ctx), func() {
		l.waitingList = nil
	})
}

func (l *Lock) IsShutdown() bool {
	return l.closer.IsClosed()
}

// Owner returns the current owner.
func (l *Lock) Owner() (Owner, bool) {
	return xsync.DoR2(noLog(context.Background()), &l.locker, func() (Owner, bool) {
		if l.dev {
			return OwnerDevice, true
		}
		for idx := 0; idx < 64; idx++ {
			if l.bits&(uint64(1)<<uint(idx)) != 0 {
				return OwnerContext(idx), true
			}
		}
		return Owner{}, false
	})
}

func (l *Lock) IsLocked() bool {
	_, ok := l.Owner()
	return ok
}

func (l *Lock) IsOwnedBy(owner Owner) bool {
	return xsync.DoR1(noLog(context.Background()), &l.locker, func() bool {
		return l.isOwnerLocked(owner)
	})
}

// WaitingList returns a snapshot of the waiters in FIFO order.
func (l *Lock) WaitingList() []Owner {
	return xsync.DoR1(noLog(context.Background()), &l.locker, func() []Owner {
		result := make([]Owner, 0, len(l.waitingList))
		for _, w := range l.waitingList {
			result = append(result, w.owner)
		}
		return result
	})
}

// AcquireDevice takes the lock on behalf of the device for an operation
// spanning several contexts; it shares the FIFO with the contexts.
func (l *Lock) AcquireDevice(ctx context.Context) error {
	return l.Acquire(ctx, OwnerDevice)
}

func (l *Lock) ReleaseDevice(ctx context.Context) error {
	return l.Release(ctx, OwnerDevice)
}
