package resourcemanager

import (
	"context"
	"fmt"
	"time"

	"github.com/xaionaro-go/codecsched/bufqueue"
	"github.com/xaionaro-go/codecsched/instance"
	"github.com/xaionaro-go/codecsched/slotmap"
	"github.com/xaionaro-go/codecsched/types"
)

// QueueBuffer enqueues a source buffer of the instance and marks the
// instance ready on the cores it is bound to.
func (m *Manager) QueueBuffer(
	ctx context.Context,
	h slotmap.Handle,
	buf bufqueue.Buffer,
) error {
	if m.IsClosed() {
		return types.ErrShuttingDown
	}
	inst, err := m.Instance(h)
	if err != nil {
		return err
	}
	if inst.IsClosing() {
		return fmt.Errorf("%s is closing: %w", inst, types.ErrShuttingDown)
	}

	var contexts []*instance.CoreContext
	inst.ModeLocker.Do(noLog(ctx), func() {
		buf.Sequence = inst.NextSequence()
		if buf.EnqueuedAt.IsZero() {
			buf.EnqueuedAt = time.Now()
		}
		contexts = inst.Contexts()
		mode := inst.Mode()
		if mode.IsDualCore() && len(contexts) == 2 {
			distributeBuffers(ctx, mode, contexts[0], contexts[1], buf)
			return
		}
		inst.ReadyQueue.Push(ctx, buf)
	})

	for _, cc := range contexts {
		if coreID := cc.CoreID(); coreID.IsValid(len(m.Cores)) {
			m.Cores[coreID].UpdateReadiness(ctx, cc.Index())
		}
	}
	return nil
}
