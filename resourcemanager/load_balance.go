package resourcemanager

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/joeycumines/go-microbatch"
	"github.com/xaionaro-go/codecsched/instance"
	"github.com/xaionaro-go/codecsched/logger"
	"github.com/xaionaro-go/codecsched/types"
)

type LoadBalanceOp int

const (
	UndefinedLoadBalanceOp = LoadBalanceOp(iota)
	LoadBalanceAdd
	LoadBalanceRemove
	LoadBalanceUpdate
	EndOfLoadBalanceOp
)

func (op LoadBalanceOp) String() string {
	switch op {
	case UndefinedLoadBalanceOp:
		return "<undefined>"
	case LoadBalanceAdd:
		return "add"
	case LoadBalanceRemove:
		return "remove"
	case LoadBalanceUpdate:
		return "update"
	default:
		return fmt.Sprintf("<unexpected_%d>", int(op))
	}
}

// Migration is one migration planned by the load balancer. Err is set once
// the migration was attempted.
type Migration struct {
	Instance *instance.Instance
	From     types.CoreID
	To       types.CoreID
	Skipped  bool
	Err      error
}

func (mig *Migration) String() string {
	return fmt.Sprintf("%s: %s -> %s", mig.Instance, mig.From, mig.To)
}

// Rebalance is the outcome of a load-balancing pass: the migrations handed
// to the background task.
type Rebalance struct {
	Loads   []types.Load
	Planned []types.Load
	Results []*microbatch.JobResult[*Migration]
}

func (r *Rebalance) Migrations() []*Migration {
	if r == nil {
		return nil
	}
	result := make([]*Migration, 0, len(r.Results))
	for _, res := range r.Results {
		result = append(result, res.Job)
	}
	return result
}

// Wait blocks until every planned migration was attempted and returns the
// failures.
func (r *Rebalance) Wait(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, res := range r.Results {
		if err := res.Wait(ctx); err != nil {
			errs = append(errs, err)
			continue
		}
		if res.Job.Err != nil {
			errs = append(errs, res.Job.Err)
		}
	}
	return errors.Join(errs...)
}

// LoadBalance maintains the load-sorted list of instances and, if load
// balancing is enabled, schedules the migrations towards the least loaded
// placement. The migrations are performed asynchronously in batches.
func (m *Manager) LoadBalance(
	ctx context.Context,
	inst *instance.Instance,
	op LoadBalanceOp,
) (_ret *Rebalance, _err error) {
	logger.Tracef(ctx, "LoadBalance(%s, %s)", inst, op)
	defer func() { logger.Tracef(ctx, "/LoadBalance(%s, %s): %v", inst, op, _err) }()

	rebalance := &Rebalance{}
	var (
		plan    []*Migration
		planErr error
	)
	m.listLocker.Do(noLog(ctx), func() {
		switch op {
		case LoadBalanceAdd:
			m.loadSorted = append(m.loadSorted, inst)
		case LoadBalanceRemove:
			for idx, cur := range m.loadSorted {
				if cur == inst {
					m.loadSorted = append(m.loadSorted[:idx], m.loadSorted[idx+1:]...)
					break
				}
			}
		case LoadBalanceUpdate:
		default:
			planErr = fmt.Errorf("unknown load balance operation %s", op)
			return
		}
		sort.SliceStable(m.loadSorted, func(i, j int) bool {
			return m.loadSorted[i].Load() > m.loadSorted[j].Load()
		})
		rebalance.Loads = m.recomputeLoadsLocked()
		if !m.Config.IsLoadBalancing() {
			return
		}
		plan, rebalance.Planned = m.planLocked(rebalance.Loads)
	})
	if planErr != nil {
		return nil, planErr
	}
	if len(plan) == 0 {
		return rebalance, nil
	}

	var errs []error
	for _, mig := range plan {
		logger.Debugf(ctx, "scheduling the migration %s", mig)
		res, err := m.migrationBatcher.Submit(m.baseCtx, mig)
		if err != nil {
			errs = append(errs, fmt.Errorf("unable to schedule the migration %s: %w", mig, err))
			continue
		}
		rebalance.Results = append(rebalance.Results, res)
	}
	return rebalance, errors.Join(errs...)
}

// planLocked places the movable instances, heaviest first, on the core
// with the lowest relative load. The plan is returned only if it lowers
// the relative load of the busiest core.
func (m *Manager) planLocked(current []types.Load) ([]*Migration, []types.Load) {
	planned := make([]types.Load, len(m.Cores))
	var movable []*instance.Instance
	for _, inst := range m.loadSorted {
		if inst.IsClosing() || inst.CoreType != types.CoreTypeNotFixed || inst.Mode() != types.OpModeSingle {
			addInstanceLoad(planned, inst)
			continue
		}
		movable = append(movable, inst)
	}

	var plan []*Migration
	for _, inst := range movable {
		cur := inst.MainCore()
		if !cur.IsValid(len(m.Cores)) {
			continue
		}
		best := cur
		bestRatio := m.ratio(planned[cur]+inst.Load(), cur)
		for id := range m.Cores {
			to := types.CoreID(id)
			if r := m.ratio(planned[to]+inst.Load(), to); r < bestRatio {
				best, bestRatio = to, r
			}
		}
		planned[best] += inst.Load()
		if best != cur {
			plan = append(plan, &Migration{Instance: inst, From: cur, To: best})
		}
	}
	if len(plan) == 0 || m.maxRatio(planned) >= m.maxRatio(current) {
		return nil, planned
	}
	return plan, planned
}

func (m *Manager) ratio(l types.Load, id types.CoreID) float64 {
	rating := m.Cores[id].MaxLoad()
	if rating == 0 {
		return float64(l)
	}
	return float64(l) / float64(rating)
}

func (m *Manager) maxRatio(loads []types.Load) float64 {
	var result float64
	for id, l := range loads {
		if r := m.ratio(l, types.CoreID(id)); r > result {
			result = r
		}
	}
	return result
}

// processMigrations is the background task performing a batch of planned
// migrations. Instances closed or moved since the planning are skipped.
func (m *Manager) processMigrations(_ context.Context, jobs []*Migration) error {
	ctx := m.baseCtx
	logger.Debugf(ctx, "processing %d migrations", len(jobs))
	for _, job := range jobs {
		switch {
		case m.IsClosed():
			job.Err = types.ErrShuttingDown
			continue
		case job.Instance.IsClosing(), job.Instance.MainCore() != job.From:
			job.Skipped = true
			continue
		}
		job.Err = m.MigrateRunningInstance(ctx, job.Instance, job.From, job.To)
		if job.Err != nil {
			logger.Debugf(ctx, "migration %s did not happen: %v", job, job.Err)
		}
	}
	return nil
}
