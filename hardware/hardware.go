// hardware.go defines the calls the scheduling core makes into the hardware
// execution, firmware and power layers.

// Package hardware declares the collaborators the cores and the resource
// manager drive: power, secure-domain switching, instance setup and
// one-frame execution.
package hardware

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/codecsched/bufqueue"
	"github.com/xaionaro-go/codecsched/types"
)

// CommandID identifies a command sent to a core.
type CommandID uint64

// Addresses are the firmware and context memory references of an instance
// as seen by the firmware.
type Addresses struct {
	Firmware uint64
	Context  uint64
}

func (a Addresses) String() string {
	return fmt.Sprintf("fw:%#x ctx:%#x", a.Firmware, a.Context)
}

// InstanceRef is what the hardware layer needs to know about an instance.
type InstanceRef struct {
	Index       int
	Codec       types.Codec
	SessionType types.SessionType
	IsDRM       bool
}

func (r InstanceRef) String() string {
	return fmt.Sprintf("inst%d(%s %s)", r.Index, r.Codec, r.SessionType)
}

type Power interface {
	PowerOn(ctx context.Context, core types.CoreID) error
	PowerOff(ctx context.Context, core types.CoreID) error
}

type Protection interface {
	ProtectOn(ctx context.Context, core types.CoreID) error
	ProtectOff(ctx context.Context, core types.CoreID) error
}

type Firmware interface {
	LoadFirmware(ctx context.Context, core types.CoreID) error
	SetMigrationAddresses(ctx context.Context, core types.CoreID, inst InstanceRef, addrs Addresses) error
}

type Instances interface {
	InitInstance(ctx context.Context, core types.CoreID, inst InstanceRef) (Addresses, error)
	CloseInstance(ctx context.Context, core types.CoreID, inst InstanceRef) error
}

type Execution interface {
	// RunOneFrame starts processing one buffer and returns the command to
	// wait for.
	RunOneFrame(ctx context.Context, core types.CoreID, inst InstanceRef, buf bufqueue.Buffer) (CommandID, error)

	// AwaitCompletion blocks until the command completes; it returns an
	// error wrapping types.ErrTimeout if the hardware did not respond in time.
	AwaitCompletion(ctx context.Context, core types.CoreID, cmd CommandID) error
}

type Hardware interface {
	Power
	Protection
	Firmware
	Instances
	Execution
}

// WatchdogHandler is the external recovery path: it receives the signals
// about cores that look stuck.
type WatchdogHandler interface {
	OnCoreStuck(ctx context.Context, core types.CoreID, err error)
}

type WatchdogHandlerFunc func(ctx context.Context, core types.CoreID, err error)

func (fn WatchdogHandlerFunc) OnCoreStuck(ctx context.Context, core types.CoreID, err error) {
	fn(ctx, core, err)
}
