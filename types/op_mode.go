package types

import (
	"fmt"
)

// OpMode is the operating mode of an instance with respect to the cores.
type OpMode int

const (
	UndefinedOpMode = OpMode(iota)

	// OpModeSingle means the instance runs on one core.
	OpModeSingle

	// OpModeTwoMode1 means both cores work on every frame, each core
	// handling a fixed part of it.
	OpModeTwoMode1

	// OpModeTwoMode2 means the cores take turns: frames are distributed
	// between the cores.
	OpModeTwoMode2

	// OpModeSwitching means a transition between single-core and dual-core
	// operation is in progress.
	OpModeSwitching

	// OpModeSwitchToSingle means the instance was consolidated to one core
	// and waits for the in-progress work to drain.
	OpModeSwitchToSingle

	// OpModeSwitchButMode2 is OpModeSwitchToSingle entered from
	// OpModeTwoMode2 where the last core used differs from the selected
	// single core.
	OpModeSwitchButMode2

	EndOfOpMode
)

func (m OpMode) String() string {
	switch m {
	case UndefinedOpMode:
		return "<undefined>"
	case OpModeSingle:
		return "single"
	case OpModeTwoMode1:
		return "two-mode1"
	case OpModeTwoMode2:
		return "two-mode2"
	case OpModeSwitching:
		return "switching"
	case OpModeSwitchToSingle:
		return "switch-to-single"
	case OpModeSwitchButMode2:
		return "switch-but-mode2"
	default:
		return fmt.Sprintf("<unexpected_%d>", int(m))
	}
}

func ParseOpMode(s string) (OpMode, error) {
	for m := UndefinedOpMode + 1; m < EndOfOpMode; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return UndefinedOpMode, fmt.Errorf("unknown operating mode '%s'", s)
}

func (m OpMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *OpMode) UnmarshalText(b []byte) error {
	v, err := ParseOpMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// IsDualCore returns true if the instance currently spans two cores.
func (m OpMode) IsDualCore() bool {
	return m == OpModeTwoMode1 || m == OpModeTwoMode2
}

// IsSingleCore returns true if the instance is bound to exactly one core,
// including the draining phase after a consolidation.
func (m OpMode) IsSingleCore() bool {
	switch m {
	case OpModeSingle, OpModeSwitchToSingle, OpModeSwitchButMode2:
		return true
	}
	return false
}

func (m OpMode) IsSwitchingToSingle() bool {
	return m == OpModeSwitchToSingle || m == OpModeSwitchButMode2
}
