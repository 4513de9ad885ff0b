// core_id.go defines identifiers of hardware codec cores.

// Package types contains the enums, identifiers and errors shared by the
// scheduling and resource-management packages.
package types

import (
	"fmt"
)

// MaxContexts is the amount of instance slots a single core is able to
// track in its readiness bitmaps.
const MaxContexts = 32

// CoreID identifies a hardware execution core.
type CoreID int

const (
	CoreIDUndefined = CoreID(-1)

	// CoreIDMain is the canonical core: addressing references are
	// authoritative on it and dual-core instances pin their main
	// CoreContext to it.
	CoreIDMain = CoreID(0)
	CoreIDSub  = CoreID(1)
)

func (id CoreID) String() string {
	if id < 0 {
		return "<undefined>"
	}
	return fmt.Sprintf("core%d", int(id))
}

func (id CoreID) IsValid(numCores int) bool {
	return id >= 0 && int(id) < numCores
}

// Other returns the opposite core on a two-core device.
func (id CoreID) Other() CoreID {
	switch id {
	case CoreIDMain:
		return CoreIDSub
	case CoreIDSub:
		return CoreIDMain
	default:
		return CoreIDUndefined
	}
}

// CoreType describes whether an instance is bound to a specific core.
type CoreType int

const (
	UndefinedCoreType = CoreType(iota)
	CoreTypeFixed
	CoreTypeNotFixed
	EndOfCoreType
)

func (t CoreType) String() string {
	switch t {
	case UndefinedCoreType:
		return "<undefined>"
	case CoreTypeFixed:
		return "fixed"
	case CoreTypeNotFixed:
		return "not-fixed"
	default:
		return fmt.Sprintf("<unexpected_%d>", int(t))
	}
}
