package types

import (
	"errors"
	"fmt"
)

var (
	// ErrNoWork is a normal outcome of picking the next context: nothing
	// is ready.
	ErrNoWork = errors.New("no work")

	ErrBusy             = errors.New("busy")
	ErrTimeout          = errors.New("timeout")
	ErrInvalidTopology  = errors.New("invalid topology")
	ErrShuttingDown     = errors.New("shutting down")
	ErrMigrationAborted = errors.New("migration aborted")
)

type MigrationStep int

const (
	UndefinedMigrationStep = MigrationStep(iota)
	MigrationStepPrepare
	MigrationStepLockCores
	MigrationStepInitDestination
	MigrationStepMoveWork
	MigrationStepHandOver
	EndOfMigrationStep
)

func (s MigrationStep) String() string {
	switch s {
	case UndefinedMigrationStep:
		return "<undefined>"
	case MigrationStepPrepare:
		return "prepare"
	case MigrationStepLockCores:
		return "lock-cores"
	case MigrationStepInitDestination:
		return "init-destination"
	case MigrationStepMoveWork:
		return "move-work"
	case MigrationStepHandOver:
		return "hand-over"
	default:
		return fmt.Sprintf("<unexpected_%d>", int(s))
	}
}

// ErrMigration is returned when a migration did not happen. The instance
// remains on From.
type ErrMigration struct {
	Step     MigrationStep
	Instance int
	From     CoreID
	To       CoreID
	Err      error
}

func (e ErrMigration) Error() string {
	return fmt.Sprintf(
		"unable to migrate instance #%d from %s to %s at step '%s': %v",
		e.Instance, e.From, e.To, e.Step, e.Err,
	)
}

func (e ErrMigration) Unwrap() []error {
	return []error{ErrMigrationAborted, e.Err}
}

// ErrModeSwitch is returned when a single/dual-core transition did not
// happen. The instance keeps its previous mode.
type ErrModeSwitch struct {
	Instance int
	From     OpMode
	To       OpMode
	Err      error
}

func (e ErrModeSwitch) Error() string {
	return fmt.Sprintf(
		"unable to switch instance #%d from mode '%s' to '%s': %v",
		e.Instance, e.From, e.To, e.Err,
	)
}

func (e ErrModeSwitch) Unwrap() error {
	return e.Err
}
