package types

import (
	"fmt"
	"strings"
)

type Codec int

const (
	UndefinedCodec = Codec(iota)
	CodecH264
	CodecHEVC
	CodecVP8
	CodecVP9
	CodecAV1
	CodecMPEG2
	CodecMPEG4
	CodecH263
	CodecVC1
	CodecJPEG
	EndOfCodec
)

func (c Codec) String() string {
	switch c {
	case UndefinedCodec:
		return "<undefined>"
	case CodecH264:
		return "h264"
	case CodecHEVC:
		return "hevc"
	case CodecVP8:
		return "vp8"
	case CodecVP9:
		return "vp9"
	case CodecAV1:
		return "av1"
	case CodecMPEG2:
		return "mpeg2"
	case CodecMPEG4:
		return "mpeg4"
	case CodecH263:
		return "h263"
	case CodecVC1:
		return "vc1"
	case CodecJPEG:
		return "jpeg"
	default:
		return fmt.Sprintf("<unexpected_%d>", int(c))
	}
}

func ParseCodec(s string) (Codec, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for c := UndefinedCodec + 1; c < EndOfCodec; c++ {
		if c.String() == s {
			return c, nil
		}
	}
	return UndefinedCodec, fmt.Errorf("unknown codec '%s'", s)
}

func (c Codec) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Codec) UnmarshalText(b []byte) error {
	v, err := ParseCodec(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// IsMultiCoreCapable returns true if the standard allows splitting the work
// of a single session across two cores.
func (c Codec) IsMultiCoreCapable(sessionType SessionType) bool {
	switch c {
	case CodecH264, CodecHEVC:
		return true
	case CodecVP9, CodecAV1:
		return sessionType == SessionTypeDecoder
	default:
		return false
	}
}

// FixedCore returns the core the codec class is always served by, or
// CoreIDUndefined if a session may be split and so may run on any core.
func (c Codec) FixedCore(sessionType SessionType) CoreID {
	if c.IsMultiCoreCapable(sessionType) {
		return CoreIDUndefined
	}
	switch c {
	case CodecJPEG, CodecVP9, CodecAV1:
		return CoreIDSub
	default:
		return CoreIDMain
	}
}

// LoadWeight is the relative per-macroblock cost of the codec, in percent
// of the H.264 cost.
func (c Codec) LoadWeight(sessionType SessionType) uint64 {
	var w uint64
	switch c {
	case CodecH264, CodecVP8:
		w = 100
	case CodecHEVC, CodecVP9:
		w = 120
	case CodecAV1:
		w = 150
	case CodecVC1:
		w = 90
	case CodecMPEG2, CodecMPEG4, CodecH263:
		w = 80
	case CodecJPEG:
		w = 50
	default:
		w = 100
	}
	if sessionType == SessionTypeEncoder {
		w = w * 3 / 2
	}
	return w
}
