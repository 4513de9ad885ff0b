// session_type.go defines the SessionType enum.

package types

import (
	"fmt"
)

type SessionType int

const (
	UndefinedSessionType SessionType = iota
	SessionTypeDecoder
	SessionTypeEncoder
	EndOfSessionType
)

func (t SessionType) String() string {
	switch t {
	case UndefinedSessionType:
		return "<undefined>"
	case SessionTypeDecoder:
		return "decoder"
	case SessionTypeEncoder:
		return "encoder"
	default:
		return fmt.Sprintf("<unexpected_%d>", int(t))
	}
}

func ParseSessionType(s string) (SessionType, error) {
	for t := UndefinedSessionType + 1; t < EndOfSessionType; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return UndefinedSessionType, fmt.Errorf("unknown session type '%s'", s)
}

func (t SessionType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *SessionType) UnmarshalText(b []byte) error {
	v, err := ParseSessionType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
