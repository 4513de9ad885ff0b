package resourcemanager

import (
	"context"

	"github.com/xaionaro-go/codecsched/types"
)

type ContextState struct {
	Core       types.CoreID
	State      types.CoreContextState
	QueueDepth int
	FramesDone uint64
	AvgRuntime string
}

type InstanceState struct {
	Index      int
	Codec      types.Codec
	Session    types.SessionType
	CoreType   types.CoreType
	Mode       types.OpMode
	RTClass    types.RTClass
	Priority   types.Priority
	FrameRate  float64
	Load       types.Load
	ReadyDepth int
	Contexts   []ContextState
}

type CoreState struct {
	ID          types.CoreID
	Load        types.Load
	LoadPercent uint64
	Powered     bool
	Protected   bool
	FramesDone  uint64
	FrameErrors uint64
	Waiting     int
}

// State is a point-in-time view of the device, for diagnostics.
type State struct {
	Cores             []CoreState
	Instances         []InstanceState
	Migrations        uint64
	MigrationFailures uint64
	ModeSwitches      uint64
}

func (m *Manager) State(ctx context.Context) State {
	m.recomputeLoads(ctx)
	var s State
	for _, c := range m.Cores {
		s.Cores = append(s.Cores, CoreState{
			ID:          c.ID,
			Load:        c.Load(),
			LoadPercent: c.LoadPercent(),
			Powered:     c.IsPowered(),
			Protected:   c.IsProtected(),
			FramesDone:  c.Stats.FramesDone.Load(),
			FrameErrors: c.Stats.FrameErrors.Load(),
			Waiting:     len(c.HWLock.WaitingList()),
		})
	}
	for _, inst := range m.Instances() {
		is := InstanceState{
			Index:      inst.Index(),
			Codec:      inst.Config.Codec,
			Session:    inst.Config.SessionType,
			CoreType:   inst.CoreType,
			Mode:       inst.Mode(),
			RTClass:    inst.RTClass(),
			Priority:   inst.Priority(),
			FrameRate:  inst.FrameRate(),
			Load:       inst.Load(),
			ReadyDepth: inst.ReadyQueue.Depth(ctx),
		}
		for _, cc := range inst.Contexts() {
			is.Contexts = append(is.Contexts, ContextState{
				Core:       cc.CoreID(),
				State:      cc.State(),
				QueueDepth: cc.Queue.Depth(ctx),
				FramesDone: cc.FramesDone(),
				AvgRuntime: cc.AverageRuntime().String(),
			})
		}
		s.Instances = append(s.Instances, is)
	}
	s.Migrations = m.Stats.Migrations.Load()
	s.MigrationFailures = m.Stats.MigrationFailures.Load()
	s.ModeSwitches = m.Stats.ModeSwitches.Load()
	return s
}
