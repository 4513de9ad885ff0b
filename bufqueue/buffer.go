// Package bufqueue is the buffer queue layer consumed by the cores: the
// readiness of a context is derived from the depth of the queue it
// consumes from.
package bufqueue

import (
	"fmt"
	"time"
)

// Buffer is a source buffer waiting to be processed by a core.
type Buffer struct {
	Index      int
	Sequence   uint64
	Size       uint
	EnqueuedAt time.Time
}

func (b Buffer) String() string {
	return fmt.Sprintf("buf%d(seq:%d)", b.Index, b.Sequence)
}
