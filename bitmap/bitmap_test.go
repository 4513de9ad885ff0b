package bitmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetClear(t *testing.T) {
	var b Bitmap
	require.True(t, b.IsEmpty())
	require.False(t, b.Set(3))
	require.True(t, b.Set(3))
	require.True(t, b.Test(3))
	require.Equal(t, 1, b.Count())
	require.True(t, b.Clear(3))
	require.False(t, b.Clear(3))
	require.True(t, b.IsEmpty())
}

func TestConcurrentSet(t *testing.T) {
	var b Bitmap
	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Set(i)
		}()
	}
	wg.Wait()
	require.Equal(t, 32, b.Count())
	require.Equal(t, uint64(0xffffffff), b.Load())
}

func TestNextSet(t *testing.T) {
	word := uint64(1<<1 | 1<<5)
	require.Equal(t, 1, NextSet(word, 0, 32))
	require.Equal(t, 5, NextSet(word, 2, 32))
	require.Equal(t, 1, NextSet(word, 6, 32), "must wrap around")
	require.Equal(t, 5, NextSet(word, 5, 32))
	require.Equal(t, -1, NextSet(0, 0, 32))
	require.Equal(t, -1, NextSet(1<<40, 0, 32), "bits beyond the size are ignored")
}

func TestSingle(t *testing.T) {
	require.Equal(t, 7, Single(1<<7))
	require.Equal(t, -1, Single(0))
	require.Equal(t, -1, Single(1<<7|1))
}

func TestForEach(t *testing.T) {
	var got []int
	ForEach(1<<0|1<<2|1<<4, 3, 8, func(idx int) bool {
		got = append(got, idx)
		return true
	})
	require.Equal(t, []int{4, 0, 2}, got)
}
