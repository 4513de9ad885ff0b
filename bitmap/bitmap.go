// Package bitmap provides the readiness bitsets of the schedulers.
//
// Mutation is a single atomic operation and never blocks, so it is safe to
// call from completion callbacks.
package bitmap

import (
	"fmt"
	"math/bits"

	"go.uber.org/atomic"
)

const Size = 64

type Bitmap struct {
	word atomic.Uint64
}

// Set marks the bit and returns whether it was already set.
func (b *Bitmap) Set(idx int) bool {
	mask := uint64(1) << uint(idx)
	for {
		old := b.word.Load()
		if old&mask != 0 {
			return true
		}
		if b.word.CompareAndSwap(old, old|mask) {
			return false
		}
	}
}

// Clear unmarks the bit and returns whether it was set.
func (b *Bitmap) Clear(idx int) bool {
	mask := uint64(1) << uint(idx)
	for {
		old := b.word.Load()
		if old&mask == 0 {
			return false
		}
		if b.word.CompareAndSwap(old, old&^mask) {
			return true
		}
	}
}

func (b *Bitmap) Test(idx int) bool {
	return b.word.Load()&(uint64(1)<<uint(idx)) != 0
}

func (b *Bitmap) Load() uint64 {
	return b.word.Load()
}

func (b *Bitmap) Reset() {
	b.word.Store(0)
}

func (b *Bitmap) IsEmpty() bool {
	return b.word.Load() == 0
}

func (b *Bitmap) Count() int {
	return bits.OnesCount64(b.word.Load())
}

func (b *Bitmap) String() string {
	return fmt.Sprintf("%#x", b.word.Load())
}

// NextSet returns the first set bit of word scanning forward from `from`
// and wrapping around within [0, size). Returns -1 if no bit is set.
func NextSet(word uint64, from int, size int) int {
	if size <= 0 || size > Size {
		size = Size
	}
	if size < Size {
		word &= (uint64(1) << uint(size)) - 1
	}
	if word == 0 {
		return -1
	}
	if from < 0 || from >= size {
		from = 0
	}
	if upper := word >> uint(from); upper != 0 {
		return from + bits.TrailingZeros64(upper)
	}
	return bits.TrailingZeros64(word)
}

// Single returns the index of the only set bit, or -1 if the amount of set
// bits is not exactly one.
func Single(word uint64) int {
	if bits.OnesCount64(word) != 1 {
		return -1
	}
	return bits.TrailingZeros64(word)
}

// ForEach calls fn for each set bit starting from `from` with wrap-around,
// until fn returns false.
func ForEach(word uint64, from int, size int, fn func(idx int) bool) {
	if size <= 0 || size > Size {
		size = Size
	}
	if from < 0 || from >= size {
		from = 0
	}
	for i := 0; i < size; i++ {
		idx := (from + i) % size
		if word&(uint64(1)<<uint(idx)) == 0 {
			continue
		}
		if !fn(idx) {
			return
		}
	}
}
