// slotmap.go implements a generational arena of fixed capacity.

// Package slotmap provides an arena addressed by stable-index handles. A
// handle carries the generation of its slot so a stale handle never
// resolves to an object that later reused the slot.
package slotmap

import (
	"errors"
	"fmt"
)

var ErrFull = errors.New("no free slots")

type Handle struct {
	Index      uint32
	Generation uint32
}

// InvalidHandle never resolves: generations start from 1.
var InvalidHandle = Handle{}

func (h Handle) String() string {
	return fmt.Sprintf("#%d.%d", h.Index, h.Generation)
}

func (h Handle) IsValid() bool {
	return h.Generation != 0
}

type slot[T any] struct {
	value      T
	generation uint32
	occupied   bool
}

// SlotMap is not safe for concurrent use; the owner guards it.
type SlotMap[T any] struct {
	slots []slot[T]
	count int
}

func New[T any](capacity int) *SlotMap[T] {
	return &SlotMap[T]{
		slots: make([]slot[T], capacity),
	}
}

func (m *SlotMap[T]) Cap() int {
	return len(m.slots)
}

func (m *SlotMap[T]) Len() int {
	return m.count
}

// Insert places the value into the lowest free slot.
func (m *SlotMap[T]) Insert(v T) (Handle, error) {
	for idx := range m.slots {
		s := &m.slots[idx]
		if s.occupied {
			continue
		}
		s.generation++
		if s.generation == 0 {
			s.generation = 1
		}
		s.value = v
		s.occupied = true
		m.count++
		return Handle{Index: uint32(idx), Generation: s.generation}, nil
	}
	return InvalidHandle, ErrFull
}

func (m *SlotMap[T]) lookup(h Handle) *slot[T] {
	if int(h.Index) >= len(m.slots) {
		return nil
	}
	s := &m.slots[h.Index]
	if !s.occupied || s.generation != h.Generation {
		return nil
	}
	return s
}

func (m *SlotMap[T]) Get(h Handle) (T, bool) {
	s := m.lookup(h)
	if s == nil {
		var zero T
		return zero, false
	}
	return s.value, true
}

func (m *SlotMap[T]) Contains(h Handle) bool {
	return m.lookup(h) != nil
}

func (m *SlotMap[T]) Remove(h Handle) (T, bool) {
	var zero T
	s := m.lookup(h)
	if s == nil {
		return zero, false
	}
	v := s.value
	s.value = zero
	s.occupied = false
	m.count--
	return v, true
}

// Range calls fn for every occupied slot in index order until fn returns false.
func (m *SlotMap[T]) Range(fn func(Handle, T) bool) {
	for idx := range m.slots {
		s := &m.slots[idx]
		if !s.occupied {
			continue
		}
		if !fn(Handle{Index: uint32(idx), Generation: s.generation}, s.value) {
			return
		}
	}
}
