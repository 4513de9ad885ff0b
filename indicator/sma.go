// sma.go implements a simple moving average over a fixed window.

package indicator

import (
	"sync"

	"golang.org/x/exp/constraints"
)

type SMA[T constraints.Integer | constraints.Float] struct {
	values            []float64
	sum               float64
	curIdx            int
	measurementsCount int
	locker            sync.Mutex
}

var _ MovingAverage[int64] = (*SMA[int64])(nil)

func NewSMA[T constraints.Integer | constraints.Float](n int) *SMA[T] {
	if n < 1 {
		n = 1
	}
	return &SMA[T]{
		values: make([]float64, n),
	}
}

func (m *SMA[T]) Update(v T) T {
	m.locker.Lock()
	defer m.locker.Unlock()

	m.sum -= m.values[m.curIdx]
	m.values[m.curIdx] = float64(v)
	m.sum += float64(v)
	m.curIdx = (m.curIdx + 1) % len(m.values)
	if m.measurementsCount < len(m.values) {
		m.measurementsCount++
	}
	return T(m.sum / float64(m.measurementsCount))
}

func (m *SMA[T]) InitPeriod() int64 {
	return int64(len(m.values))
}

func (m *SMA[T]) Valid() bool {
	m.locker.Lock()
	defer m.locker.Unlock()
	return m.measurementsCount >= len(m.values)
}
