package types

import (
	"github.com/dustin/go-humanize"
)

// Load is a weighted amount of macroblocks per second.
type Load uint64

func (l Load) String() string {
	return humanize.SI(float64(l), "MB/s")
}

// Percent returns the load as a percentage of the given rating.
func (l Load) Percent(max Load) uint64 {
	if max == 0 {
		return 0
	}
	return uint64(l) * 100 / uint64(max)
}

// Split divides the load between a main and a sub core without losing
// the remainder.
func (l Load) Split() (main, sub Load) {
	sub = l / 2
	main = l - sub
	return
}
