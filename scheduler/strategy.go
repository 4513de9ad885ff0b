// strategy.go defines the interface shared by the scheduling policies.

// Package scheduler implements the policies selecting which ready context
// runs next on a core. Readiness is tracked in atomic bitmaps, so marking a
// context ready never blocks on I/O.
package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/xaionaro-go/codecsched/types"
)

// CoreInfo is the view of the owning core a strategy needs.
type CoreInfo interface {
	// CurrentContextIndex returns the index of the context running on the
	// core, or -1.
	CurrentContextIndex() int

	// PreemptContextIndex returns the index of the context requested to
	// preempt, or -1.
	PreemptContextIndex() int
}

type Strategy interface {
	fmt.Stringer
	Type() Type

	Reset(ctx context.Context)
	IsWorkPending(ctx context.Context) bool

	// SetReady marks the context as ready and returns whether it was ready
	// already.
	SetReady(ctx context.Context, idx int) bool

	// ClearReady unmarks the context and returns whether it was ready.
	ClearReady(ctx context.Context, idx int) bool

	IsReady(idx int) bool

	// PickNext selects the context to run next; types.ErrNoWork is a
	// normal outcome.
	PickNext(ctx context.Context) (int, error)

	// PredictNext performs the same search as PickNext without committing.
	PredictNext(ctx context.Context) (int, error)

	// YieldAndRetry gives up the turn of the context and picks another one.
	YieldAndRetry(ctx context.Context, idx int) (int, error)

	// ChangePriority moves the context to the tier of the given class and
	// priority; returns whether the tier changed.
	ChangePriority(ctx context.Context, idx int, rtClass types.RTClass, prio types.Priority) bool
}

type Type int

const (
	UndefinedType = Type(iota)
	TypeRoundRobin
	TypePriority
	EndOfType
)

func (t Type) String() string {
	switch t {
	case UndefinedType:
		return "<undefined>"
	case TypeRoundRobin:
		return "rr"
	case TypePriority:
		return "prio"
	default:
		return fmt.Sprintf("<unexpected_%d>", int(t))
	}
}

func ParseType(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t := UndefinedType + 1; t < EndOfType; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return UndefinedType, fmt.Errorf("unknown scheduler type '%s'", s)
}

func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	v, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// New constructs the strategy of the given type.
func New(
	t Type,
	core CoreInfo,
	perf PerfChecker,
	cfg Config,
) (Strategy, error) {
	switch t {
	case TypeRoundRobin:
		return NewRoundRobin(core), nil
	case TypePriority:
		return NewPriority(core, perf, cfg), nil
	default:
		return nil, fmt.Errorf("unsupported scheduler type: %s", t)
	}
}
