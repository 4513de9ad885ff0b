package types

import (
	"fmt"
)

const macroblockSize = 16

type Resolution struct {
	Width  uint32 `yaml:"width"`
	Height uint32 `yaml:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

func (r Resolution) Macroblocks() uint64 {
	mbW := (uint64(r.Width) + macroblockSize - 1) / macroblockSize
	mbH := (uint64(r.Height) + macroblockSize - 1) / macroblockSize
	return mbW * mbH
}

// Is8K returns true for resolutions that need a whole core on their own.
func (r Resolution) Is8K() bool {
	return r.Macroblocks() > Resolution{Width: 4096, Height: 2304}.Macroblocks()
}

func (r Resolution) AtLeast(other Resolution) bool {
	return r.Macroblocks() >= other.Macroblocks()
}
