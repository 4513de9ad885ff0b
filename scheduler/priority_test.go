package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/codecsched/types"
)

func newTestPriority(levels uint) (*Priority, *fakeCore, *fakePerf) {
	core := newFakeCore()
	perf := newFakePerf()
	s := NewPriority(core, perf, Config{
		NumPriorityLevels:   levels,
		MaxRuntimeStaleness: time.Hour,
	})
	return s, core, perf
}

func TestPriorityTierIndex(t *testing.T) {
	s, _, _ := newTestPriority(2)
	require.Equal(t, 6, s.NumTiers())
	require.Equal(t, 0, s.TierIndex(types.RTClassRealTime, 0))
	require.Equal(t, 2, s.TierIndex(types.RTClassRealTime, 2))
	require.Equal(t, 3, s.TierIndex(types.RTClassNonRealTime, 0))
	require.Equal(t, 5, s.TierIndex(types.RTClassNonRealTime, 9))
}

func TestPriorityHigherTierSufficient(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestPriority(1)

	const x, y = 4, 2
	s.ChangePriority(ctx, x, types.RTClassRealTime, 0)
	s.ChangePriority(ctx, y, types.RTClassRealTime, 1)
	s.SetReady(ctx, x)
	s.SetReady(ctx, y)

	idx, err := s.PickNext(ctx)
	require.NoError(t, err)
	require.Equal(t, x, idx)
}

func TestPriorityLowerTierFallingBehind(t *testing.T) {
	ctx := context.Background()
	s, _, perf := newTestPriority(1)

	const x, y = 4, 2
	s.ChangePriority(ctx, x, types.RTClassRealTime, 0)
	s.ChangePriority(ctx, y, types.RTClassRealTime, 1)
	s.SetReady(ctx, x)
	s.SetReady(ctx, y)

	perf.avg[x] = 5 * time.Millisecond
	perf.interval[x] = 33 * time.Millisecond
	perf.avg[y] = 30 * time.Millisecond
	perf.interval[y] = 20 * time.Millisecond

	idx, err := s.PickNext(ctx)
	require.NoError(t, err)
	require.Equal(t, y, idx)
}

func TestPriorityHigherTierFallingBehind(t *testing.T) {
	ctx := context.Background()
	s, _, perf := newTestPriority(1)

	const x, y = 4, 2
	s.ChangePriority(ctx, x, types.RTClassRealTime, 0)
	s.ChangePriority(ctx, y, types.RTClassNonRealTime, 0)
	s.SetReady(ctx, x)
	s.SetReady(ctx, y)

	perf.avg[x] = 30 * time.Millisecond
	perf.interval[x] = 20 * time.Millisecond
	perf.avg[y] = 30 * time.Millisecond
	perf.interval[y] = 20 * time.Millisecond

	idx, err := s.PickNext(ctx)
	require.NoError(t, err)
	require.Equal(t, x, idx)
}

func TestPriorityFastPathAndNoWork(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestPriority(2)

	_, err := s.PickNext(ctx)
	require.ErrorIs(t, err, types.ErrNoWork)

	s.ChangePriority(ctx, 7, types.RTClassNonRealTime, 2)
	s.SetReady(ctx, 7)
	idx, err := s.PickNext(ctx)
	require.NoError(t, err)
	require.Equal(t, 7, idx)
}

func TestPriorityPreempt(t *testing.T) {
	ctx := context.Background()
	s, core, _ := newTestPriority(1)
	s.SetReady(ctx, 1)
	s.SetReady(ctx, 2)
	core.preempt = 9

	idx, err := s.PickNext(ctx)
	require.NoError(t, err)
	require.Equal(t, 9, idx)
}

func TestPriorityRotatesWithinTier(t *testing.T) {
	ctx := context.Background()
	s, core, _ := newTestPriority(1)
	for _, idx := range []int{1, 3, 5} {
		s.SetReady(ctx, idx)
	}

	var order []int
	for range 6 {
		idx, err := s.PickNext(ctx)
		require.NoError(t, err)
		order = append(order, idx)
		core.current = idx
	}
	require.Equal(t, []int{1, 3, 5, 1, 3, 5}, order)
}

func TestPriorityNeverStarvesHigherTier(t *testing.T) {
	ctx := context.Background()
	s, core, _ := newTestPriority(2)

	// all contexts are sufficient: only the highest tier with ready work
	// may be served
	s.ChangePriority(ctx, 0, types.RTClassRealTime, 1)
	s.ChangePriority(ctx, 1, types.RTClassNonRealTime, 0)
	s.ChangePriority(ctx, 2, types.RTClassNonRealTime, 2)
	for idx := range 3 {
		s.SetReady(ctx, idx)
	}
	for range 10 {
		idx, err := s.PickNext(ctx)
		require.NoError(t, err)
		require.Equal(t, 0, idx)
		core.current = idx
	}

	s.ClearReady(ctx, 0)
	idx, err := s.PickNext(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, idx)
}

func TestPriorityChangeMovesReadyBit(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestPriority(1)

	s.SetReady(ctx, 3)
	require.Equal(t, s.TierIndex(types.RTClassNonRealTime, 0), s.TierOf(3))

	require.False(t, s.ChangePriority(ctx, 3, types.RTClassNonRealTime, 0))
	require.True(t, s.ChangePriority(ctx, 3, types.RTClassRealTime, 0))
	require.Equal(t, 0, s.TierOf(3))
	require.True(t, s.IsReady(3))
	require.True(t, s.ClearReady(ctx, 3))
	require.False(t, s.IsWorkPending(ctx))
}

func TestPriorityPredictNext(t *testing.T) {
	ctx := context.Background()
	s, core, _ := newTestPriority(1)

	s.SetReady(ctx, 1)
	core.current = 1
	_, err := s.PredictNext(ctx)
	require.ErrorIs(t, err, types.ErrNoWork, "the running context is not a useful prediction")

	s.SetReady(ctx, 4)
	idx, err := s.PredictNext(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, idx)

	idx, err = s.PickNext(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, idx)

	// a stale prediction is ignored
	s.SetReady(ctx, 6)
	core.current = 4
	idx, err = s.PredictNext(ctx)
	require.NoError(t, err)
	require.Equal(t, 6, idx)
	s.ClearReady(ctx, 6)
	idx, err = s.PickNext(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, idx)
}

func TestPriorityLookaheadKeepsTierOrder(t *testing.T) {
	ctx := context.Background()
	s, core, perf := newTestPriority(1)

	const x, y = 4, 2
	s.ChangePriority(ctx, x, types.RTClassRealTime, 0)
	s.ChangePriority(ctx, y, types.RTClassRealTime, 1)
	s.SetReady(ctx, x)
	s.SetReady(ctx, y)
	for _, idx := range []int{x, y} {
		perf.avg[idx] = 5 * time.Millisecond
		perf.interval[idx] = 33 * time.Millisecond
	}

	var picks []int
	for range 6 {
		idx, err := s.PickNext(ctx)
		require.NoError(t, err)
		picks = append(picks, idx)
		core.current = idx

		predicted, err := s.PredictNext(ctx)
		require.NoError(t, err)
		require.Equal(t, y, predicted)
	}
	require.Equal(t, []int{x, x, x, x, x, x}, picks)

	// once the lower tier falls behind it is served, prediction or not
	perf.avg[y] = 30 * time.Millisecond
	later := time.Now().Add(2 * time.Hour)
	s.now = func() time.Time { return later }
	_, err := s.PredictNext(ctx)
	require.NoError(t, err)
	idx, err := s.PickNext(ctx)
	require.NoError(t, err)
	require.Equal(t, y, idx)
}

func TestPrioritySufficiencyOverride(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestPriority(1)
	s.ChangePriority(ctx, 0, types.RTClassRealTime, 0)
	s.SetReady(ctx, 0)
	s.SetReady(ctx, 8)

	s.Sufficiency.Store(func(ctx context.Context, idx int, tierMax time.Duration) bool {
		return idx != 8
	})
	idx, err := s.PickNext(ctx)
	require.NoError(t, err)
	require.Equal(t, 8, idx)
}

func TestIsSufficient(t *testing.T) {
	require.True(t, IsSufficient(0, time.Second, time.Millisecond))
	require.True(t, IsSufficient(time.Second, time.Second, 0))
	require.True(t, IsSufficient(10*time.Millisecond, 20*time.Millisecond, 33*time.Millisecond))
	require.False(t, IsSufficient(20*time.Millisecond, 20*time.Millisecond, 33*time.Millisecond))
}

func TestNew(t *testing.T) {
	s, err := New(TypeRoundRobin, newFakeCore(), nil, DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, TypeRoundRobin, s.Type())

	s, err = New(TypePriority, newFakeCore(), nil, DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, TypePriority, s.Type())

	_, err = New(UndefinedType, newFakeCore(), nil, DefaultConfig())
	require.Error(t, err)

	typ, err := ParseType("PRIO")
	require.NoError(t, err)
	require.Equal(t, TypePriority, typ)
}
