package hardware

import (
	"fmt"
)

// Op enumerates the hardware calls; used by observers and fault injection.
type Op int

const (
	UndefinedOp = Op(iota)
	OpPowerOn
	OpPowerOff
	OpProtectOn
	OpProtectOff
	OpLoadFirmware
	OpSetMigrationAddresses
	OpInitInstance
	OpCloseInstance
	OpRunOneFrame
	OpAwaitCompletion
	EndOfOp
)

func (op Op) String() string {
	switch op {
	case UndefinedOp:
		return "<undefined>"
	case OpPowerOn:
		return "power-on"
	case OpPowerOff:
		return "power-off"
	case OpProtectOn:
		return "protect-on"
	case OpProtectOff:
		return "protect-off"
	case OpLoadFirmware:
		return "load-firmware"
	case OpSetMigrationAddresses:
		return "set-migration-addresses"
	case OpInitInstance:
		return "init-instance"
	case OpCloseInstance:
		return "close-instance"
	case OpRunOneFrame:
		return "run-one-frame"
	case OpAwaitCompletion:
		return "await-completion"
	default:
		return fmt.Sprintf("<unexpected_%d>", int(op))
	}
}
