// option.go defines the functional options of a core.

package core

import (
	"context"
	"time"

	"github.com/xaionaro-go/codecsched/bufqueue"
	"github.com/xaionaro-go/codecsched/hardware"
	"github.com/xaionaro-go/codecsched/hwlock"
	"github.com/xaionaro-go/codecsched/indicator"
	"github.com/xaionaro-go/codecsched/instance"
	"github.com/xaionaro-go/codecsched/scheduler"
	"github.com/xaionaro-go/codecsched/types"
)

const (
	DefaultWatchdogTimeout = 2 * time.Second

	// DefaultMaxLoad is H.264 3840x2160 at 60fps.
	DefaultMaxLoad = types.Load(240 * 135 * 60)
)

// FrameDoneHandler is called after every dispatched frame, without the
// hardware lock held.
type FrameDoneHandler func(ctx context.Context, cc *instance.CoreContext, buf bufqueue.Buffer, err error)

type Config struct {
	SchedulerType   scheduler.Type
	SchedulerConfig scheduler.Config
	HWLockTimeout   time.Duration

	// WatchdogTimeout is how long a frame may run before the core is
	// reported stuck; zero disables the watchdog.
	WatchdogTimeout time.Duration

	// IdleTimeout is how long a core stays powered without work; zero
	// disables the idle power-down.
	IdleTimeout time.Duration

	MaxLoad         types.Load
	RuntimeAverager indicator.Type
	RuntimeWindow   int

	// Lookahead makes the core predict the next context after every frame.
	Lookahead bool

	WatchdogHandler hardware.WatchdogHandler
	OnFrameDone     FrameDoneHandler
}

func defaultConfig() Config {
	return Config{
		SchedulerType:   scheduler.TypePriority,
		SchedulerConfig: scheduler.DefaultConfig(),
		HWLockTimeout:   hwlock.DefaultTimeout,
		WatchdogTimeout: DefaultWatchdogTimeout,
		MaxLoad:         DefaultMaxLoad,
		RuntimeAverager: indicator.TypeSMA,
		RuntimeWindow:   instance.DefaultRuntimeWindow,
		Lookahead:       true,
	}
}

type Option interface {
	apply(*Config)
}

type Options []Option

func (opts Options) apply(cfg *Config) {
	for _, opt := range opts {
		opt.apply(cfg)
	}
}

func (opts Options) config() Config {
	cfg := defaultConfig()
	opts.apply(&cfg)
	return cfg
}

type OptionSchedulerType scheduler.Type

func (opt OptionSchedulerType) apply(cfg *Config) {
	cfg.SchedulerType = scheduler.Type(opt)
}

type OptionSchedulerConfig scheduler.Config

func (opt OptionSchedulerConfig) apply(cfg *Config) {
	cfg.SchedulerConfig = scheduler.Config(opt)
}

type OptionHWLockTimeout time.Duration

func (opt OptionHWLockTimeout) apply(cfg *Config) {
	cfg.HWLockTimeout = time.Duration(opt)
}

type OptionWatchdogTimeout time.Duration

func (opt OptionWatchdogTimeout) apply(cfg *Config) {
	cfg.WatchdogTimeout = time.Duration(opt)
}

type OptionIdleTimeout time.Duration

func (opt OptionIdleTimeout) apply(cfg *Config) {
	cfg.IdleTimeout = time.Duration(opt)
}

type OptionMaxLoad types.Load

func (opt OptionMaxLoad) apply(cfg *Config) {
	cfg.MaxLoad = types.Load(opt)
}

type OptionRuntimeAverager struct {
	Type   indicator.Type
	Window int
}

func (opt OptionRuntimeAverager) apply(cfg *Config) {
	cfg.RuntimeAverager = opt.Type
	cfg.RuntimeWindow = opt.Window
}

type OptionLookahead bool

func (opt OptionLookahead) apply(cfg *Config) {
	cfg.Lookahead = bool(opt)
}

type OptionWatchdogHandlerValue struct {
	hardware.WatchdogHandler
}

func (opt OptionWatchdogHandlerValue) apply(cfg *Config) {
	cfg.WatchdogHandler = opt.WatchdogHandler
}

func OptionWatchdogHandler(h hardware.WatchdogHandler) OptionWatchdogHandlerValue {
	return OptionWatchdogHandlerValue{h}
}

type OptionOnFrameDone FrameDoneHandler

func (opt OptionOnFrameDone) apply(cfg *Config) {
	cfg.OnFrameDone = FrameDoneHandler(opt)
}
