package types

import (
	"fmt"
)

// CoreContextState is the state of the scheduling handle binding an
// instance to a core. The values are ordered: the state advances forward
// only, except through the explicit error/reset and migration transitions.
type CoreContextState int32

const (
	CoreContextStateFree = CoreContextState(iota)
	CoreContextStateAllocated
	CoreContextStateInitialized
	CoreContextStateRunning
	CoreContextStateFinishing
	CoreContextStateError
	CoreContextStateMoveInProgress
	EndOfCoreContextState
)

func (s CoreContextState) String() string {
	switch s {
	case CoreContextStateFree:
		return "free"
	case CoreContextStateAllocated:
		return "allocated"
	case CoreContextStateInitialized:
		return "initialized"
	case CoreContextStateRunning:
		return "running"
	case CoreContextStateFinishing:
		return "finishing"
	case CoreContextStateError:
		return "error"
	case CoreContextStateMoveInProgress:
		return "move-in-progress"
	default:
		return fmt.Sprintf("<unexpected_%d>", int(s))
	}
}

// CanTransitionTo reports whether the state machine allows moving from s
// to next.
func (s CoreContextState) CanTransitionTo(next CoreContextState) bool {
	switch next {
	case CoreContextStateFree, CoreContextStateError:
		return true
	case CoreContextStateMoveInProgress:
		return s == CoreContextStateRunning || s == CoreContextStateInitialized
	}
	switch s {
	case CoreContextStateMoveInProgress:
		return next == CoreContextStateRunning || next == CoreContextStateInitialized
	case CoreContextStateError:
		return false
	}
	return next > s && next < CoreContextStateError
}

// IsRunnable returns true if work may be dispatched in this state.
func (s CoreContextState) IsRunnable() bool {
	return s == CoreContextStateInitialized || s == CoreContextStateRunning || s == CoreContextStateFinishing
}
