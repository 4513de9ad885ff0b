// closure_signaler.go provides a one-shot "closed" signal.

// Package closuresignaler provides a one-shot signal used to tell waiters
// and loops that their owner is shutting down.
package closuresignaler

import (
	"context"
	"sync"

	"github.com/xaionaro-go/codecsched/logger"
)

type ClosureSignaler struct {
	closeOnce sync.Once
	c         chan struct{}
}

func New() *ClosureSignaler {
	return &ClosureSignaler{
		c: make(chan struct{}),
	}
}

func (c *ClosureSignaler) CloseChan() <-chan struct{} {
	return c.c
}

// Close signals the closure; returns true only for the call that actually
// closed it.
func (c *ClosureSignaler) Close(ctx context.Context) bool {
	var closed bool
	c.closeOnce.Do(func() {
		logger.Debugf(ctx, "closing")
		close(c.c)
		closed = true
	})
	return closed
}

func (c *ClosureSignaler) IsClosed() bool {
	select {
	case <-c.c:
		return true
	default:
		return false
	}
}
