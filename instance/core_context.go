package instance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xaionaro-go/codecsched/bufqueue"
	"github.com/xaionaro-go/codecsched/hardware"
	"github.com/xaionaro-go/codecsched/indicator"
	"github.com/xaionaro-go/codecsched/logger"
	"github.com/xaionaro-go/codecsched/types"
	"go.uber.org/atomic"
)

var ErrInvalidTransition = errors.New("invalid state transition")

const DefaultRuntimeWindow = 8

// CoreContext is the handle of an instance on one core. It is handed over
// as a whole when the instance migrates.
type CoreContext struct {
	Instance *Instance

	// Queue is the private queue consumed in dual-core operation.
	Queue *bufqueue.Queue

	coreID     atomic.Int32
	state      atomic.Int32
	addresses  atomic.Pointer[hardware.Addresses]
	runtime    indicator.MovingAverage[int64]
	avgRuntime atomic.Duration
	frames     atomic.Uint64
}

func NewCoreContext(
	inst *Instance,
	coreID types.CoreID,
	runtimeAverager indicator.Type,
	runtimeWindow int,
) *CoreContext {
	if runtimeWindow <= 0 {
		runtimeWindow = DefaultRuntimeWindow
	}
	cc := &CoreContext{
		Instance: inst,
		Queue:    bufqueue.New(),
		runtime:  indicator.New[int64](runtimeAverager, runtimeWindow),
	}
	cc.coreID.Store(int32(coreID))
	cc.state.Store(int32(types.CoreContextStateAllocated))
	return cc
}

func (cc *CoreContext) String() string {
	return fmt.Sprintf("%s@%s", cc.Instance, cc.CoreID())
}

// Index is the readiness bit of the context on its core.
func (cc *CoreContext) Index() int {
	return cc.Instance.Index()
}

func (cc *CoreContext) CoreID() types.CoreID {
	return types.CoreID(cc.coreID.Load())
}

func (cc *CoreContext) SetCoreID(coreID types.CoreID) {
	cc.coreID.Store(int32(coreID))
}

func (cc *CoreContext) State() types.CoreContextState {
	return types.CoreContextState(cc.state.Load())
}

// SetState advances the state machine; backward transitions are refused
// except for the error, reset and migration ones.
func (cc *CoreContext) SetState(ctx context.Context, next types.CoreContextState) error {
	for {
		cur := cc.State()
		if cur == next {
			return nil
		}
		if !cur.CanTransitionTo(next) {
			return fmt.Errorf("%s: %s -> %s: %w", cc, cur, next, ErrInvalidTransition)
		}
		if cc.state.CompareAndSwap(int32(cur), int32(next)) {
			logger.Debugf(ctx, "%s: state %s -> %s", cc, cur, next)
			return nil
		}
	}
}

// RestoreState puts back a state saved before a failed multi-step
// operation.
func (cc *CoreContext) RestoreState(ctx context.Context, prev types.CoreContextState) {
	old := types.CoreContextState(cc.state.Swap(int32(prev)))
	if old != prev {
		logger.Debugf(ctx, "%s: state restored %s -> %s", cc, old, prev)
	}
}

func (cc *CoreContext) Addresses() hardware.Addresses {
	if addrs := cc.addresses.Load(); addrs != nil {
		return *addrs
	}
	return hardware.Addresses{}
}

func (cc *CoreContext) SetAddresses(addrs hardware.Addresses) {
	cc.addresses.Store(&addrs)
}

// WorkQueue is the queue the context consumes from: the private one in
// dual-core operation and the shared one otherwise.
func (cc *CoreContext) WorkQueue() *bufqueue.Queue {
	if cc.Instance.Mode().IsDualCore() {
		return cc.Queue
	}
	return cc.Instance.ReadyQueue
}

// HasWork returns true if the context may be dispatched and has a buffer
// to process.
func (cc *CoreContext) HasWork(ctx context.Context) bool {
	if !cc.State().IsRunnable() {
		return false
	}
	if cc.Instance.Mode() == types.OpModeSwitching {
		return false
	}
	return cc.WorkQueue().Depth(ctx) > 0
}

// RecordRuntime accounts the runtime of a completed frame.
func (cc *CoreContext) RecordRuntime(d time.Duration) time.Duration {
	avg := time.Duration(cc.runtime.Update(int64(d)))
	cc.avgRuntime.Store(avg)
	cc.frames.Inc()
	return avg
}

func (cc *CoreContext) AverageRuntime() time.Duration {
	return cc.avgRuntime.Load()
}

func (cc *CoreContext) FramesDone() uint64 {
	return cc.frames.Load()
}
