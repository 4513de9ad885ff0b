package core

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/codecsched/logger"
	"go.uber.org/atomic"
)

// CommandQueueState is the state of the accelerated hardware command list
// of a core.
type CommandQueueState int32

const (
	UndefinedCommandQueueState = CommandQueueState(iota)
	CommandQueueStateIdle
	CommandQueueStateStarted
	CommandQueueStateException
	EndOfCommandQueueState
)

func (s CommandQueueState) String() string {
	switch s {
	case UndefinedCommandQueueState:
		return "<undefined>"
	case CommandQueueStateIdle:
		return "idle"
	case CommandQueueStateStarted:
		return "started"
	case CommandQueueStateException:
		return "exception"
	default:
		return fmt.Sprintf("<unexpected_%d>", int(s))
	}
}

// CommandQueue tracks the batch of commands queued back-to-back on a core.
// Once in the exception state no command may be appended until the batch
// is drained.
type CommandQueue struct {
	state   atomic.Int32
	queued  atomic.Uint64
	batches atomic.Uint64
	drains  atomic.Uint64
}

func newCommandQueue() *CommandQueue {
	q := &CommandQueue{}
	q.state.Store(int32(CommandQueueStateIdle))
	return q
}

func (q *CommandQueue) State() CommandQueueState {
	return CommandQueueState(q.state.Load())
}

// Append accounts a command; returns false if the queue must be drained
// first.
func (q *CommandQueue) Append(ctx context.Context) bool {
	for {
		cur := q.State()
		switch cur {
		case CommandQueueStateException:
			return false
		case CommandQueueStateIdle:
			if !q.state.CompareAndSwap(int32(cur), int32(CommandQueueStateStarted)) {
				continue
			}
			q.batches.Inc()
		}
		q.queued.Inc()
		return true
	}
}

// Finish ends the current batch.
func (q *CommandQueue) Finish(ctx context.Context) {
	q.state.CompareAndSwap(int32(CommandQueueStateStarted), int32(CommandQueueStateIdle))
}

// RaiseException stops the batching until Drain is called.
func (q *CommandQueue) RaiseException(ctx context.Context) {
	old := CommandQueueState(q.state.Swap(int32(CommandQueueStateException)))
	if old != CommandQueueStateException {
		logger.Debugf(ctx, "command queue: %s -> %s", old, CommandQueueStateException)
	}
}

// Drain must be called with no command in flight; it leaves the exception
// state.
func (q *CommandQueue) Drain(ctx context.Context) bool {
	if !q.state.CompareAndSwap(int32(CommandQueueStateException), int32(CommandQueueStateIdle)) {
		return false
	}
	q.drains.Inc()
	logger.Debugf(ctx, "command queue drained")
	return true
}

func (q *CommandQueue) Batches() uint64 {
	return q.batches.Load()
}

func (q *CommandQueue) Drains() uint64 {
	return q.drains.Load()
}
