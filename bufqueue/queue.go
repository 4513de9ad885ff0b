package bufqueue

import (
	"context"
	"sort"

	"github.com/eapache/queue"
	"github.com/xaionaro-go/xsync"
)

type Queue struct {
	locker xsync.Mutex
	q      *queue.Queue
}

func New() *Queue {
	return &Queue{
		q: queue.New(),
	}
}

func noLog(ctx context.Context) context.Context {
	return xsync.WithNoLogging(ctx, true)
}

func (q *Queue) Push(ctx context.Context, bufs ...Buffer) {
	q.locker.Do(noLog(ctx), func() {
		for _, buf := range bufs {
			q.q.Add(buf)
		}
	})
}

// PushFront puts the buffers before the already queued ones, preserving
// their order.
func (q *Queue) PushFront(ctx context.Context, bufs ...Buffer) {
	q.locker.Do(noLog(ctx), func() {
		n := queue.New()
		for _, buf := range bufs {
			n.Add(buf)
		}
		for q.q.Length() > 0 {
			n.Add(q.q.Remove())
		}
		q.q = n
	})
}

// Pop returns the oldest ready buffer.
func (q *Queue) Pop(ctx context.Context) (Buffer, bool) {
	return xsync.DoR2(noLog(ctx), &q.locker, func() (Buffer, bool) {
		if q.q.Length() == 0 {
			return Buffer{}, false
		}
		return q.q.Remove().(Buffer), true
	})
}

func (q *Queue) Peek(ctx context.Context) (Buffer, bool) {
	return xsync.DoR2(noLog(ctx), &q.locker, func() (Buffer, bool) {
		if q.q.Length() == 0 {
			return Buffer{}, false
		}
		return q.q.Peek().(Buffer), true
	})
}

func (q *Queue) Depth(ctx context.Context) int {
	return xsync.DoR1(noLog(ctx), &q.locker, func() int {
		return q.q.Length()
	})
}

// Drain removes and returns all the queued buffers.
func (q *Queue) Drain(ctx context.Context) []Buffer {
	return xsync.DoR1(noLog(ctx), &q.locker, func() []Buffer {
		result := make([]Buffer, 0, q.q.Length())
		for q.q.Length() > 0 {
			result = append(result, q.q.Remove().(Buffer))
		}
		return result
	})
}

// Snapshot returns the queued buffers without removing them.
func (q *Queue) Snapshot(ctx context.Context) []Buffer {
	return xsync.DoR1(noLog(ctx), &q.locker, func() []Buffer {
		result := make([]Buffer, 0, q.q.Length())
		for i := 0; i < q.q.Length(); i++ {
			result = append(result, q.q.Get(i).(Buffer))
		}
		return result
	})
}

// MoveAll moves every buffer of src to the tail of dst and returns the
// amount of moved buffers. The two queues are never locked together.
func MoveAll(ctx context.Context, src, dst *Queue) int {
	bufs := src.Drain(ctx)
	dst.Push(ctx, bufs...)
	return len(bufs)
}

// MergeBySequence combines the buffers of several queues ordered by their
// sequence numbers, dropping duplicates of the same sequence number.
func MergeBySequence(bufSets ...[]Buffer) []Buffer {
	var all []Buffer
	for _, bufs := range bufSets {
		all = append(all, bufs...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Sequence < all[j].Sequence
	})
	result := make([]Buffer, 0, len(all))
	for _, buf := range all {
		if len(result) > 0 && result[len(result)-1].Sequence == buf.Sequence {
			continue
		}
		result = append(result, buf)
	}
	return result
}

// Renumber assigns consecutive sequence numbers starting from `first`.
func Renumber(bufs []Buffer, first uint64) uint64 {
	for idx := range bufs {
		bufs[idx].Sequence = first
		first++
	}
	return first
}
