// fake.go implements a simulated codec hardware.

// Package fake provides an in-memory simulation of the codec hardware with
// fault injection. It is used by the tests and by the simulator command.
package fake

import (
	"context"
	"fmt"
	"time"

	"github.com/xaionaro-go/codecsched/bufqueue"
	"github.com/xaionaro-go/codecsched/hardware"
	"github.com/xaionaro-go/codecsched/logger"
	"github.com/xaionaro-go/codecsched/types"
	"github.com/xaionaro-go/xsync"
	"go.uber.org/atomic"
)

type Call struct {
	Op       hardware.Op
	Core     types.CoreID
	Instance int
	Buffer   int
}

func (c Call) String() string {
	return fmt.Sprintf("%s@%s(inst:%d, buf:%d)", c.Op, c.Core, c.Instance, c.Buffer)
}

// Fault makes the matching calls fail.
type Fault struct {
	Op   hardware.Op
	Core types.CoreID // CoreIDUndefined matches any core
	Err  error

	// Count is the amount of calls to fail; zero means all of them.
	Count int
}

type coreState struct {
	powered        bool
	protected      bool
	firmwareLoaded bool
	instances      map[int]hardware.Addresses
	inFlight       map[hardware.CommandID]int
}

type Hardware struct {
	// FrameDuration is how long a simulated frame takes.
	FrameDuration func(core types.CoreID, inst hardware.InstanceRef, buf bufqueue.Buffer) time.Duration

	locker     xsync.Mutex
	cores      []*coreState
	faults     []*Fault
	calls      []Call
	cmdInst    map[hardware.CommandID]hardware.InstanceRef
	cmdBuf     map[hardware.CommandID]bufqueue.Buffer
	violations []string
	nextCmd    atomic.Uint64
}

var _ hardware.Hardware = (*Hardware)(nil)

func New(numCores int) *Hardware {
	hw := &Hardware{
		cmdInst: map[hardware.CommandID]hardware.InstanceRef{},
		cmdBuf:  map[hardware.CommandID]bufqueue.Buffer{},
	}
	for range numCores {
		hw.cores = append(hw.cores, &coreState{
			instances: map[int]hardware.Addresses{},
			inFlight:  map[hardware.CommandID]int{},
		})
	}
	return hw
}

func noLog(ctx context.Context) context.Context {
	return xsync.WithNoLogging(ctx, true)
}

func (hw *Hardware) InjectFault(f Fault) {
	hw.locker.Do(context.Background(), func() {
		hw.faults = append(hw.faults, &f)
	})
}

func (hw *Hardware) ClearFaults() {
	hw.locker.Do(context.Background(), func() {
		hw.faults = nil
	})
}

// Calls returns the log of all the calls made so far.
func (hw *Hardware) Calls() []Call {
	return xsync.DoR1(context.Background(), &hw.locker, func() []Call {
		return append([]Call(nil), hw.calls...)
	})
}

func (hw *Hardware) CallsOf(op hardware.Op) []Call {
	var result []Call
	for _, c := range hw.Calls() {
		if c.Op == op {
			result = append(result, c)
		}
	}
	return result
}

// Violations lists detected misuses, e.g. two frames in flight on one core.
func (hw *Hardware) Violations() []string {
	return xsync.DoR1(context.Background(), &hw.locker, func() []string {
		return append([]string(nil), hw.violations...)
	})
}

func (hw *Hardware) IsPowered(core types.CoreID) bool {
	return xsync.DoR1(context.Background(), &hw.locker, func() bool {
		return hw.cores[core].powered
	})
}

func (hw *Hardware) IsProtected(core types.CoreID) bool {
	return xsync.DoR1(context.Background(), &hw.locker, func() bool {
		return hw.cores[core].protected
	})
}

// Instances returns the instance indexes initialized on the core.
func (hw *Hardware) Instances(core types.CoreID) map[int]hardware.Addresses {
	return xsync.DoR1(context.Background(), &hw.locker, func() map[int]hardware.Addresses {
		result := map[int]hardware.Addresses{}
		for k, v := range hw.cores[core].instances {
			result[k] = v
		}
		return result
	})
}

// enter records the call and applies the faults; must be called with the
// locker held.
func (hw *Hardware) enter(call Call) (*coreState, error) {
	hw.calls = append(hw.calls, call)
	if !call.Core.IsValid(len(hw.cores)) {
		return nil, fmt.Errorf("core %s does not exist: %w", call.Core, types.ErrInvalidTopology)
	}
	for idx, f := range hw.faults {
		if f.Op != call.Op {
			continue
		}
		if f.Core != types.CoreIDUndefined && f.Core != call.Core {
			continue
		}
		if f.Count > 0 {
			f.Count--
			if f.Count == 0 {
				hw.faults = append(hw.faults[:idx], hw.faults[idx+1:]...)
			}
		}
		return nil, fmt.Errorf("injected fault on %s: %w", call, f.Err)
	}
	return hw.cores[call.Core], nil
}

func (hw *Hardware) simple(
	ctx context.Context,
	call Call,
	fn func(c *coreState) error,
) error {
	return xsync.DoR1(noLog(ctx), &hw.locker, func() error {
		c, err := hw.enter(call)
		if err != nil {
			return err
		}
		return fn(c)
	})
}

func (hw *Hardware) PowerOn(ctx context.Context, core types.CoreID) error {
	return hw.simple(ctx, Call{Op: hardware.OpPowerOn, Core: core, Instance: -1, Buffer: -1}, func(c *coreState) error {
		c.powered = true
		return nil
	})
}

func (hw *Hardware) PowerOff(ctx context.Context, core types.CoreID) error {
	return hw.simple(ctx, Call{Op: hardware.OpPowerOff, Core: core, Instance: -1, Buffer: -1}, func(c *coreState) error {
		if len(c.inFlight) > 0 {
			hw.violations = append(hw.violations, fmt.Sprintf("power off of %s with %d commands in flight", core, len(c.inFlight)))
		}
		c.powered = false
		c.protected = false
		return nil
	})
}

func (hw *Hardware) ProtectOn(ctx context.Context, core types.CoreID) error {
	return hw.simple(ctx, Call{Op: hardware.OpProtectOn, Core: core, Instance: -1, Buffer: -1}, func(c *coreState) error {
		c.protected = true
		return nil
	})
}

func (hw *Hardware) ProtectOff(ctx context.Context, core types.CoreID) error {
	return hw.simple(ctx, Call{Op: hardware.OpProtectOff, Core: core, Instance: -1, Buffer: -1}, func(c *coreState) error {
		c.protected = false
		return nil
	})
}

func (hw *Hardware) LoadFirmware(ctx context.Context, core types.CoreID) error {
	return hw.simple(ctx, Call{Op: hardware.OpLoadFirmware, Core: core, Instance: -1, Buffer: -1}, func(c *coreState) error {
		c.firmwareLoaded = true
		return nil
	})
}

func (hw *Hardware) SetMigrationAddresses(
	ctx context.Context,
	core types.CoreID,
	inst hardware.InstanceRef,
	addrs hardware.Addresses,
) error {
	return hw.simple(ctx, Call{Op: hardware.OpSetMigrationAddresses, Core: core, Instance: inst.Index, Buffer: -1}, func(c *coreState) error {
		if _, ok := c.instances[inst.Index]; !ok {
			return fmt.Errorf("%s is not initialized on %s: %w", inst, core, types.ErrInvalidTopology)
		}
		c.instances[inst.Index] = addrs
		return nil
	})
}

func (hw *Hardware) InitInstance(
	ctx context.Context,
	core types.CoreID,
	inst hardware.InstanceRef,
) (hardware.Addresses, error) {
	var addrs hardware.Addresses
	err := hw.simple(ctx, Call{Op: hardware.OpInitInstance, Core: core, Instance: inst.Index, Buffer: -1}, func(c *coreState) error {
		if _, ok := c.instances[inst.Index]; ok {
			return fmt.Errorf("%s is already initialized on %s: %w", inst, core, types.ErrInvalidTopology)
		}
		addrs = hardware.Addresses{
			Firmware: 0x1000_0000 * uint64(core+1),
			Context:  0x1000_0000*uint64(core+1) + 0x10_0000*uint64(inst.Index+1),
		}
		c.instances[inst.Index] = addrs
		return nil
	})
	return addrs, err
}

func (hw *Hardware) CloseInstance(
	ctx context.Context,
	core types.CoreID,
	inst hardware.InstanceRef,
) error {
	return hw.simple(ctx, Call{Op: hardware.OpCloseInstance, Core: core, Instance: inst.Index, Buffer: -1}, func(c *coreState) error {
		if _, ok := c.instances[inst.Index]; !ok {
			return fmt.Errorf("%s is not initialized on %s: %w", inst, core, types.ErrInvalidTopology)
		}
		delete(c.instances, inst.Index)
		return nil
	})
}

func (hw *Hardware) RunOneFrame(
	ctx context.Context,
	core types.CoreID,
	inst hardware.InstanceRef,
	buf bufqueue.Buffer,
) (hardware.CommandID, error) {
	cmd := hardware.CommandID(hw.nextCmd.Inc())
	err := hw.simple(ctx, Call{Op: hardware.OpRunOneFrame, Core: core, Instance: inst.Index, Buffer: buf.Index}, func(c *coreState) error {
		if !c.powered {
			hw.violations = append(hw.violations, fmt.Sprintf("%s: running %s on a powered-off core", core, inst))
		}
		if inst.IsDRM != c.protected {
			hw.violations = append(hw.violations, fmt.Sprintf("%s: running %s with protection=%t", core, inst, c.protected))
		}
		if _, ok := c.instances[inst.Index]; !ok {
			return fmt.Errorf("%s is not initialized on %s: %w", inst, core, types.ErrInvalidTopology)
		}
		if len(c.inFlight) > 0 {
			hw.violations = append(hw.violations, fmt.Sprintf("%s: %d commands already in flight while starting %s", core, len(c.inFlight), inst))
		}
		c.inFlight[cmd] = inst.Index
		hw.cmdInst[cmd] = inst
		hw.cmdBuf[cmd] = buf
		return nil
	})
	if err != nil {
		return 0, err
	}
	return cmd, nil
}

func (hw *Hardware) AwaitCompletion(
	ctx context.Context,
	core types.CoreID,
	cmd hardware.CommandID,
) error {
	var (
		inst hardware.InstanceRef
		buf  bufqueue.Buffer
	)
	err := hw.simple(ctx, Call{Op: hardware.OpAwaitCompletion, Core: core, Instance: -1, Buffer: -1}, func(c *coreState) error {
		if _, ok := c.inFlight[cmd]; !ok {
			return fmt.Errorf("command %d is not in flight on %s: %w", cmd, core, types.ErrInvalidTopology)
		}
		inst, buf = hw.cmdInst[cmd], hw.cmdBuf[cmd]
		return nil
	})

	if err == nil && hw.FrameDuration != nil {
		if d := hw.FrameDuration(core, inst, buf); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				err = ctx.Err()
			case <-t.C:
			}
			t.Stop()
		}
	}

	hw.locker.Do(noLog(ctx), func() {
		if !core.IsValid(len(hw.cores)) {
			return
		}
		delete(hw.cores[core].inFlight, cmd)
		delete(hw.cmdInst, cmd)
		delete(hw.cmdBuf, cmd)
	})
	if err != nil {
		logger.Debugf(ctx, "command %d on %s failed: %v", cmd, core, err)
	}
	return err
}
