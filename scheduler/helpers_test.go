package scheduler

import (
	"time"
)

type fakeCore struct {
	current int
	preempt int
}

func newFakeCore() *fakeCore {
	return &fakeCore{current: -1, preempt: -1}
}

func (c *fakeCore) CurrentContextIndex() int { return c.current }
func (c *fakeCore) PreemptContextIndex() int { return c.preempt }

type fakePerf struct {
	avg      map[int]time.Duration
	interval map[int]time.Duration
}

func newFakePerf() *fakePerf {
	return &fakePerf{
		avg:      map[int]time.Duration{},
		interval: map[int]time.Duration{},
	}
}

func (p *fakePerf) AverageRuntime(idx int) time.Duration { return p.avg[idx] }
func (p *fakePerf) FrameInterval(idx int) time.Duration  { return p.interval[idx] }
