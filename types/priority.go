package types

import (
	"fmt"
)

// Priority is a priority level; lower values are served first.
type Priority uint

// RTClass is the real-time class of an instance.
type RTClass int

const (
	UndefinedRTClass = RTClass(iota)
	RTClassRealTime
	RTClassNonRealTime
	EndOfRTClass
)

func (c RTClass) String() string {
	switch c {
	case UndefinedRTClass:
		return "<undefined>"
	case RTClassRealTime:
		return "rt"
	case RTClassNonRealTime:
		return "non-rt"
	default:
		return fmt.Sprintf("<unexpected_%d>", int(c))
	}
}

func (c RTClass) IsRealTime() bool {
	return c == RTClassRealTime
}

func ParseRTClass(s string) (RTClass, error) {
	for c := UndefinedRTClass + 1; c < EndOfRTClass; c++ {
		if c.String() == s {
			return c, nil
		}
	}
	return UndefinedRTClass, fmt.Errorf("unknown real-time class '%s'", s)
}

func (c RTClass) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *RTClass) UnmarshalText(b []byte) error {
	v, err := ParseRTClass(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
