package instance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/codecsched/bufqueue"
	"github.com/xaionaro-go/codecsched/indicator"
	"github.com/xaionaro-go/codecsched/slotmap"
	"github.com/xaionaro-go/codecsched/types"
)

func newTestInstance(cfg Config) *Instance {
	return New(slotmap.Handle{Index: 3, Generation: 1}, cfg, types.CoreTypeNotFixed)
}

func TestInstanceLoad(t *testing.T) {
	inst := newTestInstance(Config{
		Codec:       types.CodecH264,
		SessionType: types.SessionTypeDecoder,
		Resolution:  types.Resolution{Width: 1920, Height: 1080},
		FrameRate:   30,
	})
	// 120x68 macroblocks at 30fps
	require.Equal(t, types.Load(120*68*30), inst.Load())
	require.Equal(t, time.Second/30, inst.FrameInterval())

	inst.SetFrameRate(0)
	require.Zero(t, inst.Load())
	require.Zero(t, inst.FrameInterval())
}

func TestInstanceDefaults(t *testing.T) {
	inst := newTestInstance(Config{
		Codec:         types.CodecHEVC,
		SessionType:   types.SessionTypeDecoder,
		MultiCoreMode: types.OpModeTwoMode2,
	})
	require.Equal(t, 3, inst.Index())
	require.Equal(t, types.OpModeSingle, inst.Mode())
	require.Equal(t, types.RTClassNonRealTime, inst.RTClass())
	require.Equal(t, types.CoreIDUndefined, inst.MainCore())
	require.True(t, inst.IsMultiCoreCapable())

	require.Equal(t, uint64(0), inst.NextSequence())
	require.Equal(t, uint64(1), inst.NextSequence())
}

func TestCoreContextStateMachine(t *testing.T) {
	ctx := context.Background()
	inst := newTestInstance(Config{Codec: types.CodecH264, SessionType: types.SessionTypeEncoder})
	cc := NewCoreContext(inst, types.CoreIDMain, indicator.TypeSMA, 2)
	require.Equal(t, types.CoreContextStateAllocated, cc.State())

	require.NoError(t, cc.SetState(ctx, types.CoreContextStateInitialized))
	require.NoError(t, cc.SetState(ctx, types.CoreContextStateRunning))
	require.ErrorIs(t, cc.SetState(ctx, types.CoreContextStateAllocated), ErrInvalidTransition)

	require.NoError(t, cc.SetState(ctx, types.CoreContextStateMoveInProgress))
	require.ErrorIs(t, cc.SetState(ctx, types.CoreContextStateFinishing), ErrInvalidTransition)
	require.NoError(t, cc.SetState(ctx, types.CoreContextStateRunning))

	cc.RestoreState(ctx, types.CoreContextStateInitialized)
	require.Equal(t, types.CoreContextStateInitialized, cc.State())
}

func TestCoreContextWorkQueue(t *testing.T) {
	ctx := context.Background()
	inst := newTestInstance(Config{Codec: types.CodecH264, SessionType: types.SessionTypeDecoder})
	cc := NewCoreContext(inst, types.CoreIDMain, indicator.TypeSMA, 2)
	inst.SetMainContext(cc)
	require.NoError(t, cc.SetState(ctx, types.CoreContextStateRunning))

	require.False(t, cc.HasWork(ctx))
	inst.ReadyQueue.Push(ctx, bufqueue.Buffer{Index: 1})
	require.True(t, cc.HasWork(ctx))

	inst.SetMode(ctx, types.OpModeTwoMode1)
	require.False(t, cc.HasWork(ctx), "dual-core contexts consume their private queues")
	cc.Queue.Push(ctx, bufqueue.Buffer{Index: 2})
	require.True(t, cc.HasWork(ctx))

	inst.SetMode(ctx, types.OpModeSwitching)
	require.False(t, cc.HasWork(ctx))
}

func TestCoreContextRuntime(t *testing.T) {
	inst := newTestInstance(Config{Codec: types.CodecH264, SessionType: types.SessionTypeDecoder})
	cc := NewCoreContext(inst, types.CoreIDSub, indicator.TypeSMA, 2)
	cc.RecordRuntime(10 * time.Millisecond)
	require.Equal(t, 10*time.Millisecond, cc.AverageRuntime())
	cc.RecordRuntime(20 * time.Millisecond)
	require.Equal(t, 15*time.Millisecond, cc.AverageRuntime())
	cc.RecordRuntime(40 * time.Millisecond)
	require.Equal(t, 30*time.Millisecond, cc.AverageRuntime())
	require.Equal(t, uint64(3), cc.FramesDone())
	require.Equal(t, types.CoreIDSub, cc.CoreID())
}
