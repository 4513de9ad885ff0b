// manager.go defines the device-wide resource manager.

// Package resourcemanager owns the cores of a device and the instances
// bound to them: it selects cores for new instances, balances the load by
// migrating running instances and switches instances between single-core
// and dual-core operation.
//
// Lock order: Instance.MigrationLocker, crossCoreLocker, the hardware
// locks of the cores (lower core id first), Instance.ModeLocker.
// listLocker is a leaf.
package resourcemanager

import (
	"context"
	"fmt"
	"sort"

	"github.com/joeycumines/go-microbatch"
	"github.com/xaionaro-go/codecsched/bufqueue"
	"github.com/xaionaro-go/codecsched/core"
	"github.com/xaionaro-go/codecsched/hardware"
	"github.com/xaionaro-go/codecsched/helpers/closuresignaler"
	"github.com/xaionaro-go/codecsched/instance"
	"github.com/xaionaro-go/codecsched/logger"
	"github.com/xaionaro-go/codecsched/slotmap"
	"github.com/xaionaro-go/codecsched/types"
	"github.com/xaionaro-go/xcontext"
	"github.com/xaionaro-go/xsync"
	"go.uber.org/atomic"
)

type Stats struct {
	Migrations        atomic.Uint64
	MigrationFailures atomic.Uint64
	ModeSwitches      atomic.Uint64
}

type Manager struct {
	Config   Config
	Hardware hardware.Hardware
	Cores    []*core.Core
	Stats    Stats

	listLocker  xsync.Mutex
	instances   *slotmap.SlotMap[*instance.Instance]
	loadSorted  []*instance.Instance
	drmCount    int
	nonDRMCount int

	crossCoreLocker  xsync.Mutex
	migrationBatcher *microbatch.Batcher[*Migration]
	baseCtx          context.Context
	closer           *closuresignaler.ClosureSignaler
}

func New(
	ctx context.Context,
	hw hardware.Hardware,
	opts ...Option,
) (_ret *Manager, _err error) {
	logger.Debugf(ctx, "New")
	defer func() { logger.Debugf(ctx, "/New: %v", _err) }()

	cfg := Options(opts).config()
	if cfg.NumCores < 1 {
		return nil, fmt.Errorf("at least one core is required, got %d: %w", cfg.NumCores, types.ErrInvalidTopology)
	}
	m := &Manager{
		Config:    cfg,
		Hardware:  hw,
		instances: slotmap.New[*instance.Instance](types.MaxContexts),
		baseCtx:   xcontext.DetachDone(ctx),
		closer:    closuresignaler.New(),
	}

	coreOpts := append(core.Options{}, cfg.CoreOptions...)
	coreOpts = append(coreOpts, core.OptionOnFrameDone(m.onFrameDone))
	for id := range cfg.NumCores {
		c, err := core.New(ctx, types.CoreID(id), hw, coreOpts...)
		if err != nil {
			if closeErr := types.CloseAll(ctx, m.Cores...); closeErr != nil {
				logger.Errorf(ctx, "%v", closeErr)
			}
			return nil, fmt.Errorf("unable to initialize core %d: %w", id, err)
		}
		m.Cores = append(m.Cores, c)
	}

	m.migrationBatcher = microbatch.NewBatcher(&microbatch.BatcherConfig{
		MaxSize:       cfg.MigrationBatchSize,
		FlushInterval: cfg.MigrationFlushInterval,
	}, m.processMigrations)

	for _, c := range m.Cores {
		c.Serve(m.baseCtx)
	}
	return m, nil
}

func (m *Manager) String() string {
	return fmt.Sprintf("ResourceManager(%d cores)", len(m.Cores))
}

var _ types.Closer = (*Manager)(nil)

func noLog(ctx context.Context) context.Context {
	return xsync.WithNoLogging(ctx, true)
}

// Close stops the cores and the background tasks; the waiters of the
// hardware locks get types.ErrShuttingDown.
func (m *Manager) Close(ctx context.Context) error {
	logger.Debugf(ctx, "Close")
	if !m.closer.Close(ctx) {
		return nil
	}
	for _, c := range m.Cores {
		c.HWLock.Shutdown(ctx)
	}
	if m.migrationBatcher != nil {
		if err := m.migrationBatcher.Close(); err != nil {
			logger.Errorf(ctx, "unable to close the migration batcher: %v", err)
		}
	}
	return types.CloseAll(ctx, m.Cores...)
}

func (m *Manager) IsClosed() bool {
	return m.closer.IsClosed()
}

func (m *Manager) Core(id types.CoreID) (*core.Core, error) {
	if !id.IsValid(len(m.Cores)) {
		return nil, fmt.Errorf("core %s does not exist: %w", id, types.ErrInvalidTopology)
	}
	return m.Cores[id], nil
}

func (m *Manager) Instance(h slotmap.Handle) (*instance.Instance, error) {
	inst, ok := xsync.DoR2(noLog(context.Background()), &m.listLocker, func() (*instance.Instance, bool) {
		return m.instances.Get(h)
	})
	if !ok {
		return nil, fmt.Errorf("instance %s is not open: %w", h, types.ErrInvalidTopology)
	}
	return inst, nil
}

// Instances returns the open instances ordered by index.
func (m *Manager) Instances() []*instance.Instance {
	return xsync.DoR1(noLog(context.Background()), &m.listLocker, m.instancesLocked)
}

func (m *Manager) instancesLocked() []*instance.Instance {
	var result []*instance.Instance
	m.instances.Range(func(_ slotmap.Handle, inst *instance.Instance) bool {
		result = append(result, inst)
		return true
	})
	sort.Slice(result, func(i, j int) bool {
		return result[i].Index() < result[j].Index()
	})
	return result
}

// lockCores acquires the hardware locks of the cores on behalf of the
// device, in the given order. On failure nothing remains acquired and the
// error wraps types.ErrBusy.
func (m *Manager) lockCores(ctx context.Context, ids ...types.CoreID) (func(), error) {
	var acquired []*core.Core
	release := func() {
		for idx := len(acquired) - 1; idx >= 0; idx-- {
			if err := acquired[idx].HWLock.ReleaseDevice(ctx); err != nil {
				logger.Errorf(ctx, "unable to release %s: %v", acquired[idx].HWLock, err)
			}
		}
	}
	for _, id := range ids {
		c, err := m.Core(id)
		if err != nil {
			release()
			return nil, err
		}
		if err := c.HWLock.AcquireDevice(ctx); err != nil {
			release()
			return nil, fmt.Errorf("%w: unable to lock %s: %w", types.ErrBusy, c, err)
		}
		acquired = append(acquired, c)
	}
	return release, nil
}

// recomputeLoadsLocked derives the per-core loads from the instance list;
// the load of a dual-core instance is split between its cores.
func (m *Manager) recomputeLoadsLocked() []types.Load {
	loads := make([]types.Load, len(m.Cores))
	m.instances.Range(func(_ slotmap.Handle, inst *instance.Instance) bool {
		addInstanceLoad(loads, inst)
		return true
	})
	for id, c := range m.Cores {
		c.SetLoad(loads[id])
	}
	return loads
}

func addInstanceLoad(loads []types.Load, inst *instance.Instance) {
	load := inst.Load()
	main, sub := inst.MainContext(), inst.SubContext()
	switch {
	case main != nil && sub != nil:
		mainLoad, subLoad := load.Split()
		addLoad(loads, main.CoreID(), mainLoad)
		addLoad(loads, sub.CoreID(), subLoad)
	case main != nil:
		addLoad(loads, main.CoreID(), load)
	}
}

func addLoad(loads []types.Load, id types.CoreID, l types.Load) {
	if !id.IsValid(len(loads)) {
		return
	}
	loads[id] += l
}

func (m *Manager) recomputeLoads(ctx context.Context) []types.Load {
	return xsync.DoR1(noLog(ctx), &m.listLocker, m.recomputeLoadsLocked)
}

func (m *Manager) newCoreContext(inst *instance.Instance, id types.CoreID) *instance.CoreContext {
	cfg := m.Cores[id].Config
	return instance.NewCoreContext(inst, id, cfg.RuntimeAverager, cfg.RuntimeWindow)
}

func (m *Manager) onFrameDone(
	ctx context.Context,
	cc *instance.CoreContext,
	buf bufqueue.Buffer,
	err error,
) {
	inst := cc.Instance
	if err != nil {
		logger.Debugf(ctx, "%s failed %s: %v", cc, buf, err)
		return
	}
	if !inst.Mode().IsSwitchingToSingle() || inst.InFlight() > 0 {
		return
	}
	inst.ModeLocker.Do(noLog(ctx), func() {
		if !inst.Mode().IsSwitchingToSingle() || inst.InFlight() > 0 {
			return
		}
		inst.SetMode(ctx, types.OpModeSingle)
	})
}
