// moving_average.go defines the MovingAverage interface and its factory.

// Package indicator provides the moving averages used to smooth per-frame
// runtime telemetry.
package indicator

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

type MovingAverage[T constraints.Integer | constraints.Float] interface {
	Update(v T) T
	InitPeriod() int64
	Valid() bool
}

type Type int

const (
	UndefinedType = Type(iota)
	TypeSMA
	TypeMAMA
	EndOfType
)

func (t Type) String() string {
	switch t {
	case UndefinedType:
		return "<undefined>"
	case TypeSMA:
		return "sma"
	case TypeMAMA:
		return "mama"
	default:
		return fmt.Sprintf("<unexpected_%d>", int(t))
	}
}

func ParseType(s string) (Type, error) {
	for t := UndefinedType + 1; t < EndOfType; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return UndefinedType, fmt.Errorf("unknown moving average type '%s'", s)
}

func New[T constraints.Integer | constraints.Float](t Type, n int) MovingAverage[T] {
	switch t {
	case TypeMAMA:
		return NewMAMADefault[T](n)
	default:
		return NewSMA[T](n)
	}
}
