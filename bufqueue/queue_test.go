package bufqueue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func bufs(seqs ...uint64) []Buffer {
	var result []Buffer
	for _, seq := range seqs {
		result = append(result, Buffer{Index: int(seq), Sequence: seq})
	}
	return result
}

func TestQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := New()
	q.Push(ctx, bufs(1, 2, 3)...)
	require.Equal(t, 3, q.Depth(ctx))

	b, ok := q.Peek(ctx)
	require.True(t, ok)
	require.Equal(t, uint64(1), b.Sequence)

	b, ok = q.Pop(ctx)
	require.True(t, ok)
	require.Equal(t, uint64(1), b.Sequence)

	q.PushFront(ctx, bufs(0)...)
	require.Equal(t, bufs(0, 2, 3), q.Snapshot(ctx))

	require.Equal(t, bufs(0, 2, 3), q.Drain(ctx))
	_, ok = q.Pop(ctx)
	require.False(t, ok)
}

func TestMoveAll(t *testing.T) {
	ctx := context.Background()
	src, dst := New(), New()
	src.Push(ctx, bufs(3, 4)...)
	dst.Push(ctx, bufs(1)...)

	require.Equal(t, 2, MoveAll(ctx, src, dst))
	require.Equal(t, 0, src.Depth(ctx))
	require.Equal(t, bufs(1, 3, 4), dst.Snapshot(ctx))
}

func TestMergeAndRenumber(t *testing.T) {
	merged := MergeBySequence(bufs(4, 2), bufs(3, 2), nil)
	require.Equal(t, bufs(2, 3, 4), merged)

	next := Renumber(merged, 10)
	require.Equal(t, uint64(13), next)
	require.Equal(t, uint64(10), merged[0].Sequence)
	require.Equal(t, 2, merged[0].Index)
	require.Equal(t, uint64(12), merged[2].Sequence)
}
