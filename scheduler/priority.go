package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-ng/xatomic"
	"github.com/xaionaro-go/codecsched/bitmap"
	"github.com/xaionaro-go/codecsched/logger"
	"github.com/xaionaro-go/codecsched/types"
	"github.com/xaionaro-go/xsync"
)

type tierMaxRuntime struct {
	Value      time.Duration
	ComputedAt time.Time
}

type prediction struct {
	Index int
	Valid bool
}

// Priority keeps a bitmap per tier: real-time levels first, then the
// non-real-time ones. Higher tiers are served first unless a lower tier
// has a context falling behind its frame rate.
type Priority struct {
	Core   CoreInfo
	Perf   PerfChecker
	Config Config

	// Sufficiency overrides the default sufficiency predicate if set.
	Sufficiency xatomic.Value[SufficiencyFunc]

	locker     xsync.Mutex
	tiers      []bitmap.Bitmap
	lastIdx    []int
	maxRuntime []tierMaxRuntime
	tierOf     [types.MaxContexts]int
	predicted  xatomic.Value[prediction]
	now        func() time.Time
}

var _ Strategy = (*Priority)(nil)

func NewPriority(
	core CoreInfo,
	perf PerfChecker,
	cfg Config,
) *Priority {
	if perf == nil {
		perf = noPerf{}
	}
	if cfg.MaxRuntimeStaleness <= 0 {
		cfg.MaxRuntimeStaleness = DefaultMaxRuntimeStaleness
	}
	numTiers := 2 * (int(cfg.NumPriorityLevels) + 1)
	s := &Priority{
		Core:       core,
		Perf:       perf,
		Config:     cfg,
		tiers:      make([]bitmap.Bitmap, numTiers),
		lastIdx:    make([]int, numTiers),
		maxRuntime: make([]tierMaxRuntime, numTiers),
		now:        time.Now,
	}
	defaultTier := s.TierIndex(types.RTClassNonRealTime, 0)
	for idx := range s.tierOf {
		s.tierOf[idx] = defaultTier
	}
	for tier := range s.lastIdx {
		s.lastIdx[tier] = -1
	}
	return s
}

func (s *Priority) String() string {
	var words []string
	for tier := range s.tiers {
		words = append(words, s.tiers[tier].String())
	}
	return fmt.Sprintf("Priority(%s)", strings.Join(words, ","))
}

func (s *Priority) Type() Type {
	return TypePriority
}

func (s *Priority) NumTiers() int {
	return len(s.tiers)
}

// TierIndex returns the tier of the given class and priority; priorities
// above the configured levels are clamped to the lowest one.
func (s *Priority) TierIndex(rtClass types.RTClass, prio types.Priority) int {
	levels := int(s.Config.NumPriorityLevels) + 1
	p := int(prio)
	if p >= levels {
		p = levels - 1
	}
	if rtClass.IsRealTime() {
		return p
	}
	return levels + p
}

func (s *Priority) TierOf(idx int) int {
	return xsync.DoR1(noLog(context.Background()), &s.locker, func() int {
		return s.tierOf[idx]
	})
}

func noLog(ctx context.Context) context.Context {
	return xsync.WithNoLogging(ctx, true)
}

func (s *Priority) Reset(ctx context.Context) {
	logger.Debugf(ctx, "Reset")
	s.locker.Do(noLog(ctx), func() {
		for tier := range s.tiers {
			s.tiers[tier].Reset()
			s.lastIdx[tier] = -1
			s.maxRuntime[tier] = tierMaxRuntime{}
		}
	})
	s.predicted.Store(prediction{})
}

func (s *Priority) readyWord() uint64 {
	var word uint64
	for tier := range s.tiers {
		word |= s.tiers[tier].Load()
	}
	return word
}

func (s *Priority) IsWorkPending(ctx context.Context) bool {
	return s.readyWord() != 0
}

func (s *Priority) SetReady(ctx context.Context, idx int) bool {
	return xsync.DoR1(noLog(ctx), &s.locker, func() bool {
		return s.tiers[s.tierOf[idx]].Set(idx)
	})
}

func (s *Priority) ClearReady(ctx context.Context, idx int) bool {
	return xsync.DoR1(noLog(ctx), &s.locker, func() bool {
		return s.tiers[s.tierOf[idx]].Clear(idx)
	})
}

func (s *Priority) IsReady(idx int) bool {
	return s.readyWord()&(uint64(1)<<uint(idx)) != 0
}

func (s *Priority) PickNext(ctx context.Context) (_ret int, _err error) {
	logger.Tracef(ctx, "PickNext")
	defer func() { logger.Tracef(ctx, "/PickNext: %d %v", _ret, _err) }()

	if idx := s.Core.PreemptContextIndex(); idx >= 0 {
		return idx, nil
	}
	return xsync.DoA1R2(noLog(ctx), &s.locker, s.pickNextLocked, ctx)
}

// PredictNext warms the lookahead cache consumed by the next PickNext.
func (s *Priority) PredictNext(ctx context.Context) (int, error) {
	r, err := xsync.DoA2R2(noLog(ctx), &s.locker, s.searchLocked, ctx, true)
	if err != nil {
		s.predicted.Store(prediction{})
		return -1, err
	}
	s.predicted.Store(prediction{Index: r.Index, Valid: true})
	return r.Index, nil
}

type searchResult struct {
	Index int
	Tier  int

	// Behind is set when the context was chosen for falling behind its
	// frame rate rather than by tier order.
	Behind bool
}

func (s *Priority) pickNextLocked(ctx context.Context) (int, error) {
	p := s.predicted.Load()
	s.predicted.Store(prediction{})

	r, err := s.searchLocked(ctx, false)
	if err != nil {
		return -1, err
	}
	// the prediction only decides the rotation inside the tier the search
	// settled on
	if p.Valid && p.Index != r.Index && !r.Behind &&
		s.tierOf[p.Index] == r.Tier && s.tiers[r.Tier].Test(p.Index) {
		logger.Tracef(ctx, "using the predicted ctx%d", p.Index)
		r.Index = p.Index
	}
	s.lastIdx[r.Tier] = r.Index
	return r.Index, nil
}

// searchLocked finds the context to run; with exceptCurrent the running
// context is not considered.
func (s *Priority) searchLocked(ctx context.Context, exceptCurrent bool) (searchResult, error) {
	cur := s.Core.CurrentContextIndex()

	all := s.readyWord()
	if all == 0 {
		return searchResult{}, types.ErrNoWork
	}
	if idx := bitmap.Single(all); idx >= 0 {
		if exceptCurrent && idx == cur {
			return searchResult{}, types.ErrNoWork
		}
		return searchResult{Index: idx, Tier: s.tierOf[idx]}, nil
	}

	highest := searchResult{Index: -1}
	for tier := range s.tiers {
		word := s.tiers[tier].Load()
		if word == 0 {
			continue
		}
		behind := searchResult{Index: -1}
		bitmap.ForEach(word, s.lastIdx[tier]+1, types.MaxContexts, func(idx int) bool {
			if exceptCurrent && idx == cur {
				return true
			}
			if highest.Index < 0 {
				highest = searchResult{Index: idx, Tier: tier}
			}
			if !s.isSufficientLocked(ctx, tier, idx) {
				logger.Tracef(ctx, "ctx%d of tier %d falls behind", idx, tier)
				behind = searchResult{Index: idx, Tier: tier, Behind: true}
				return false
			}
			return true
		})
		if behind.Index >= 0 {
			return behind, nil
		}
	}
	if highest.Index < 0 {
		return searchResult{}, types.ErrNoWork
	}
	return highest, nil
}

func (s *Priority) isSufficientLocked(ctx context.Context, tier int, idx int) bool {
	tierMax := s.tierMaxRuntimeLocked(tier)
	if fn := s.Sufficiency.Load(); fn != nil {
		return fn(ctx, idx, tierMax)
	}
	return IsSufficient(s.Perf.AverageRuntime(idx), tierMax, s.Perf.FrameInterval(idx))
}

func (s *Priority) tierMaxRuntimeLocked(tier int) time.Duration {
	now := s.now()
	cached := s.maxRuntime[tier]
	if !cached.ComputedAt.IsZero() && now.Sub(cached.ComputedAt) <= s.Config.MaxRuntimeStaleness {
		return cached.Value
	}
	var max time.Duration
	bitmap.ForEach(s.tiers[tier].Load(), 0, types.MaxContexts, func(idx int) bool {
		if v := s.Perf.AverageRuntime(idx); v > max {
			max = v
		}
		return true
	})
	s.maxRuntime[tier] = tierMaxRuntime{Value: max, ComputedAt: now}
	return max
}

func (s *Priority) YieldAndRetry(ctx context.Context, idx int) (int, error) {
	s.ClearReady(ctx, idx)
	return s.PickNext(ctx)
}

func (s *Priority) ChangePriority(
	ctx context.Context,
	idx int,
	rtClass types.RTClass,
	prio types.Priority,
) bool {
	changed := xsync.DoR1(noLog(ctx), &s.locker, func() bool {
		oldTier := s.tierOf[idx]
		newTier := s.TierIndex(rtClass, prio)
		if oldTier == newTier {
			return false
		}
		if s.tiers[oldTier].Clear(idx) {
			s.tiers[newTier].Set(idx)
		}
		s.tierOf[idx] = newTier
		s.maxRuntime[oldTier] = tierMaxRuntime{}
		s.maxRuntime[newTier] = tierMaxRuntime{}
		return true
	})
	if changed {
		logger.Debugf(ctx, "ctx%d moved to the tier of %s/%d", idx, rtClass, prio)
		s.predicted.Store(prediction{})
	}
	return changed
}
