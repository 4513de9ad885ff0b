// instance.go defines the Instance entity.

// Package instance contains the entities bound to the cores: Instance, one
// client codec session, and CoreContext, the scheduling handle of an
// instance on one core.
package instance

import (
	"context"
	"fmt"
	"time"

	"github.com/xaionaro-go/codecsched/bufqueue"
	"github.com/xaionaro-go/codecsched/hardware"
	"github.com/xaionaro-go/codecsched/logger"
	"github.com/xaionaro-go/codecsched/slotmap"
	"github.com/xaionaro-go/codecsched/types"
	"github.com/xaionaro-go/xsync"
	"go.uber.org/atomic"
)

type Instance struct {
	Handle   slotmap.Handle
	Config   Config
	CoreType types.CoreType

	// MigrationLocker serializes the migrations of the instance.
	MigrationLocker xsync.Mutex

	// ModeLocker guards the mode transitions and keeps the states of the
	// main and the sub contexts consistent.
	ModeLocker xsync.Mutex

	// ReadyQueue is the shared queue consumed in single-core operation.
	ReadyQueue *bufqueue.Queue

	// Addresses are the authoritative firmware references, obtained from
	// the first core the instance was initialized on.
	Addresses hardware.Addresses

	mode      atomic.Int32
	frameRate atomic.Float64
	rtClass   atomic.Int32
	priority  atomic.Uint32
	main      atomic.Pointer[CoreContext]
	sub       atomic.Pointer[CoreContext]
	inFlight  atomic.Int32
	sequence  atomic.Uint64
	lastCore  atomic.Int32
	closing   atomic.Bool
}

func New(
	handle slotmap.Handle,
	cfg Config,
	coreType types.CoreType,
) *Instance {
	inst := &Instance{
		Handle:     handle,
		Config:     cfg,
		CoreType:   coreType,
		ReadyQueue: bufqueue.New(),
	}
	inst.mode.Store(int32(types.OpModeSingle))
	inst.frameRate.Store(cfg.FrameRate)
	rtClass := cfg.RTClass
	if rtClass == types.UndefinedRTClass {
		rtClass = types.RTClassNonRealTime
	}
	inst.rtClass.Store(int32(rtClass))
	inst.priority.Store(uint32(cfg.Priority))
	inst.lastCore.Store(int32(types.CoreIDUndefined))
	return inst
}

// Index is the context index the instance occupies on every core it is
// bound to.
func (inst *Instance) Index() int {
	return int(inst.Handle.Index)
}

func (inst *Instance) String() string {
	return fmt.Sprintf("inst%d(%s %s %s)", inst.Index(), inst.Config.Codec, inst.Config.SessionType, inst.Config.Resolution)
}

func (inst *Instance) Ref() hardware.InstanceRef {
	return hardware.InstanceRef{
		Index:       inst.Index(),
		Codec:       inst.Config.Codec,
		SessionType: inst.Config.SessionType,
		IsDRM:       inst.Config.IsDRM,
	}
}

func (inst *Instance) Mode() types.OpMode {
	return types.OpMode(inst.mode.Load())
}

// SetMode must be called with ModeLocker held.
func (inst *Instance) SetMode(ctx context.Context, mode types.OpMode) {
	old := types.OpMode(inst.mode.Swap(int32(mode)))
	if old != mode {
		logger.Debugf(ctx, "%s: mode %s -> %s", inst, old, mode)
	}
}

// IsMultiCoreCapable returns true if the instance may ever run on both
// cores.
func (inst *Instance) IsMultiCoreCapable() bool {
	if inst.CoreType != types.CoreTypeNotFixed {
		return false
	}
	if !inst.Config.MultiCoreMode.IsDualCore() {
		return false
	}
	return inst.Config.Codec.IsMultiCoreCapable(inst.Config.SessionType)
}

func (inst *Instance) FrameRate() float64 {
	return inst.frameRate.Load()
}

func (inst *Instance) SetFrameRate(fps float64) {
	inst.frameRate.Store(fps)
}

// FrameInterval is the per-frame deadline, zero if there is no frame rate
// target.
func (inst *Instance) FrameInterval() time.Duration {
	fps := inst.FrameRate()
	if fps <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / fps)
}

func (inst *Instance) RTClass() types.RTClass {
	return types.RTClass(inst.rtClass.Load())
}

func (inst *Instance) Priority() types.Priority {
	return types.Priority(inst.priority.Load())
}

func (inst *Instance) SetPriority(rtClass types.RTClass, prio types.Priority) {
	inst.rtClass.Store(int32(rtClass))
	inst.priority.Store(uint32(prio))
}

// Load is the weighted amount of macroblocks per second the instance
// requires.
func (inst *Instance) Load() types.Load {
	cfg := inst.Config
	cfg.FrameRate = inst.FrameRate()
	return cfg.Load()
}

func (inst *Instance) MainContext() *CoreContext {
	return inst.main.Load()
}

func (inst *Instance) SubContext() *CoreContext {
	return inst.sub.Load()
}

func (inst *Instance) SetMainContext(cc *CoreContext) {
	inst.main.Store(cc)
}

func (inst *Instance) SetSubContext(cc *CoreContext) {
	inst.sub.Store(cc)
}

// Contexts returns the bound core contexts, main first.
func (inst *Instance) Contexts() []*CoreContext {
	var result []*CoreContext
	if cc := inst.MainContext(); cc != nil {
		result = append(result, cc)
	}
	if cc := inst.SubContext(); cc != nil {
		result = append(result, cc)
	}
	return result
}

// ContextOn returns the core context bound to the given core, if any.
func (inst *Instance) ContextOn(coreID types.CoreID) *CoreContext {
	for _, cc := range inst.Contexts() {
		if cc.CoreID() == coreID {
			return cc
		}
	}
	return nil
}

// MainCore returns the core of the main context.
func (inst *Instance) MainCore() types.CoreID {
	cc := inst.MainContext()
	if cc == nil {
		return types.CoreIDUndefined
	}
	return cc.CoreID()
}

func (inst *Instance) InFlight() int {
	return int(inst.inFlight.Load())
}

func (inst *Instance) IncInFlight() {
	inst.inFlight.Inc()
}

func (inst *Instance) DecInFlight() {
	inst.inFlight.Dec()
}

// NextSequence returns the sequence number for a newly queued buffer.
func (inst *Instance) NextSequence() uint64 {
	return inst.sequence.Inc() - 1
}

// ResetSequence makes the buffers queued after the call numbered from next.
func (inst *Instance) ResetSequence(next uint64) {
	inst.sequence.Store(next)
}

// LastCore is the core which processed the latest frame.
func (inst *Instance) LastCore() types.CoreID {
	return types.CoreID(inst.lastCore.Load())
}

func (inst *Instance) SetLastCore(coreID types.CoreID) {
	inst.lastCore.Store(int32(coreID))
}

func (inst *Instance) IsClosing() bool {
	return inst.closing.Load()
}

func (inst *Instance) SetClosing() {
	inst.closing.Store(true)
}
