package scheduler

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/codecsched/bitmap"
	"github.com/xaionaro-go/codecsched/logger"
	"github.com/xaionaro-go/codecsched/types"
)

// RoundRobin keeps a single flat bitmap and serves ready contexts in index
// order starting after the running one.
type RoundRobin struct {
	Core  CoreInfo
	ready bitmap.Bitmap
}

var _ Strategy = (*RoundRobin)(nil)

func NewRoundRobin(core CoreInfo) *RoundRobin {
	return &RoundRobin{
		Core: core,
	}
}

func (s *RoundRobin) String() string {
	return fmt.Sprintf("RoundRobin(%s)", s.ready.String())
}

func (s *RoundRobin) Type() Type {
	return TypeRoundRobin
}

func (s *RoundRobin) Reset(ctx context.Context) {
	logger.Debugf(ctx, "Reset")
	s.ready.Reset()
}

func (s *RoundRobin) IsWorkPending(ctx context.Context) bool {
	return !s.ready.IsEmpty()
}

func (s *RoundRobin) SetReady(ctx context.Context, idx int) bool {
	return s.ready.Set(idx)
}

func (s *RoundRobin) ClearReady(ctx context.Context, idx int) bool {
	return s.ready.Clear(idx)
}

func (s *RoundRobin) IsReady(idx int) bool {
	return s.ready.Test(idx)
}

func (s *RoundRobin) PickNext(ctx context.Context) (int, error) {
	if idx := s.Core.PreemptContextIndex(); idx >= 0 {
		logger.Tracef(ctx, "preempting with ctx%d", idx)
		return idx, nil
	}
	return s.next()
}

func (s *RoundRobin) PredictNext(ctx context.Context) (int, error) {
	return s.next()
}

func (s *RoundRobin) next() (int, error) {
	idx := bitmap.NextSet(s.ready.Load(), s.Core.CurrentContextIndex()+1, types.MaxContexts)
	if idx < 0 {
		return -1, types.ErrNoWork
	}
	return idx, nil
}

func (s *RoundRobin) YieldAndRetry(ctx context.Context, idx int) (int, error) {
	s.ready.Clear(idx)
	return s.PickNext(ctx)
}

func (s *RoundRobin) ChangePriority(
	ctx context.Context,
	idx int,
	rtClass types.RTClass,
	prio types.Priority,
) bool {
	return false
}
