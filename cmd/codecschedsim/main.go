package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/codecsched/bufqueue"
	"github.com/xaionaro-go/codecsched/core"
	"github.com/xaionaro-go/codecsched/hardware"
	"github.com/xaionaro-go/codecsched/hardware/fake"
	"github.com/xaionaro-go/codecsched/instance"
	"github.com/xaionaro-go/codecsched/resourcemanager"
	"github.com/xaionaro-go/codecsched/scheduler"
	"github.com/xaionaro-go/codecsched/types"
	"github.com/xaionaro-go/observability"
)

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "syntax: %s [--config scenario.yaml]\n", os.Args[0])
		pflag.PrintDefaults()
	}

	loggerLevel := logger.LevelWarning
	pflag.Var(&loggerLevel, "log-level", "Log level")
	configPath := pflag.String("config", "", "path to a YAML scenario; the built-in scenario is used if empty")
	schedulerType := pflag.String("scheduler", "", "override the scheduler type: rr or prio")
	duration := pflag.Duration("duration", 0, "override the duration of the scenario")
	dump := pflag.Bool("dump", false, "dump the whole device state at the end")
	pflag.Parse()
	if len(pflag.Args()) != 0 {
		pflag.Usage()
		os.Exit(1)
	}

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)

	scenario, err := loadScenario(*configPath)
	if err != nil {
		l.Fatal(err)
	}
	if *schedulerType != "" {
		t, err := scheduler.ParseType(*schedulerType)
		if err != nil {
			l.Fatal(err)
		}
		scenario.Scheduler = t
	}
	if *duration > 0 {
		scenario.Duration = *duration
	}

	state, err := run(ctx, scenario)
	if err != nil {
		l.Fatal(err)
	}
	if *dump {
		spew.Fdump(os.Stdout, state)
		return
	}
	printSummary(state)
}

func run(ctx context.Context, scenario Scenario) (_ resourcemanager.State, _err error) {
	hw := fake.New(scenario.Cores)
	hw.FrameDuration = func(types.CoreID, hardware.InstanceRef, bufqueue.Buffer) time.Duration {
		return scenario.FrameDuration
	}

	m, err := resourcemanager.New(ctx, hw,
		resourcemanager.OptionNumCores(scenario.Cores),
		resourcemanager.OptionLoadBalancePercent(scenario.LoadBalancePercent),
		resourcemanager.OptionCoreOptions{
			core.OptionSchedulerType(scenario.Scheduler),
			core.OptionSchedulerConfig{
				NumPriorityLevels:   scenario.PriorityLevels,
				MaxRuntimeStaleness: scheduler.DefaultConfig().MaxRuntimeStaleness,
			},
			core.OptionIdleTimeout(scenario.IdleTimeout),
			core.OptionWatchdogHandler(hardware.WatchdogHandlerFunc(func(ctx context.Context, coreID types.CoreID, err error) {
				logger.Errorf(ctx, "%s looks stuck: %v", coreID, err)
			})),
		},
	)
	if err != nil {
		return resourcemanager.State{}, fmt.Errorf("unable to initialize the device: %w", err)
	}
	defer func() {
		if err := m.Close(ctx); err != nil {
			logger.Errorf(ctx, "unable to close the device: %v", err)
		}
	}()

	var insts []*instance.Instance
	for idx, s := range scenario.Instances {
		inst, err := m.OpenInstance(ctx, s.Config)
		if err != nil {
			return resourcemanager.State{}, fmt.Errorf("unable to open the instance #%d: %w", idx, err)
		}
		insts = append(insts, inst)
	}

	ctx, cancelFn := context.WithTimeout(ctx, scenario.Duration)
	defer cancelFn()
	var wg sync.WaitGroup
	for idx, inst := range insts {
		s := scenario.Instances[idx]
		wg.Add(1)
		observability.Go(ctx, func(ctx context.Context) {
			defer wg.Done()
			feed(ctx, m, inst, s, scenario.Duration)
		})
	}
	wg.Wait()

	state := m.State(context.WithoutCancel(ctx))
	for _, inst := range insts {
		if err := m.CloseInstance(context.WithoutCancel(ctx), inst.Handle); err != nil {
			logger.Errorf(ctx, "unable to close %s: %v", inst, err)
		}
	}
	return state, nil
}

// feed queues the source buffers of the instance at its frame rate.
func feed(
	ctx context.Context,
	m *resourcemanager.Manager,
	inst *instance.Instance,
	s InstanceScenario,
	duration time.Duration,
) {
	interval := inst.FrameInterval()
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	stabilizeAt := time.Now().Add(duration / 2)
	for idx := 0; s.Buffers == 0 || idx < s.Buffers; idx++ {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if err := m.QueueBuffer(ctx, inst.Handle, bufqueue.Buffer{Index: idx, Size: 1}); err != nil {
				logger.Errorf(ctx, "unable to queue a buffer of %s: %v", inst, err)
				return
			}
			if s.StabilizedFrameRate > 0 && now.After(stabilizeAt) {
				if _, err := m.UpdateFramerate(ctx, inst.Handle, s.StabilizedFrameRate); err != nil {
					logger.Errorf(ctx, "unable to update the framerate of %s: %v", inst, err)
				}
				s.StabilizedFrameRate = 0
			}
		}
	}
}

func printSummary(state resourcemanager.State) {
	for _, c := range state.Cores {
		fmt.Printf("%s: load %s (%d%%), frames %d, errors %d\n", c.ID, c.Load, c.LoadPercent, c.FramesDone, c.FrameErrors)
	}
	for _, inst := range state.Instances {
		var cores []string
		for _, cc := range inst.Contexts {
			cores = append(cores, fmt.Sprintf("%s:%s(frames:%d avg:%s)", cc.Core, cc.State, cc.FramesDone, cc.AvgRuntime))
		}
		fmt.Printf("inst%d %s %s [%s] %s prio %s/%d: %v\n", inst.Index, inst.Codec, inst.Session, inst.Mode, inst.Load, inst.RTClass, inst.Priority, cores)
	}
	fmt.Printf("migrations: %d (failed %d), mode switches: %d\n", state.Migrations, state.MigrationFailures, state.ModeSwitches)
}
