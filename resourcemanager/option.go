// option.go defines the functional options of the resource manager.

package resourcemanager

import (
	"time"

	"github.com/xaionaro-go/codecsched/core"
	"github.com/xaionaro-go/codecsched/instance/condition"
)

const (
	DefaultNumCores               = 2
	DefaultLoadBalancePercent     = 100
	DefaultMigrationBatchSize     = 8
	DefaultMigrationFlushInterval = 10 * time.Millisecond
)

type Config struct {
	NumCores    int
	CoreOptions core.Options

	// LoadBalancePercent is the load threshold (in percent of the rating
	// of a core) the default core is kept under; 100 disables load
	// balancing.
	LoadBalancePercent uint

	// MultiCoreCondition restricts which of the multi-core capable
	// instances may actually run on both cores.
	MultiCoreCondition condition.Condition

	MigrationBatchSize     int
	MigrationFlushInterval time.Duration
}

func defaultConfig() Config {
	return Config{
		NumCores:               DefaultNumCores,
		LoadBalancePercent:     DefaultLoadBalancePercent,
		MultiCoreCondition:     condition.Static(true),
		MigrationBatchSize:     DefaultMigrationBatchSize,
		MigrationFlushInterval: DefaultMigrationFlushInterval,
	}
}

func (cfg Config) IsLoadBalancing() bool {
	return cfg.LoadBalancePercent < 100 && cfg.NumCores > 1
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

type OptionNumCores int

func (opt OptionNumCores) apply(cfg *Config) {
	cfg.NumCores = int(opt)
}

type OptionCoreOptions core.Options

func (opt OptionCoreOptions) apply(cfg *Config) {
	cfg.CoreOptions = append(cfg.CoreOptions, opt...)
}

type OptionLoadBalancePercent uint

func (opt OptionLoadBalancePercent) apply(cfg *Config) {
	cfg.LoadBalancePercent = uint(opt)
}

type OptionMultiCoreConditionValue struct {
	condition.Condition
}

func (opt OptionMultiCoreConditionValue) apply(cfg *Config) {
	cfg.MultiCoreCondition = opt.Condition
}

func OptionMultiCoreCondition(cond condition.Condition) OptionMultiCoreConditionValue {
	return OptionMultiCoreConditionValue{cond}
}

type OptionMigrationBatch struct {
	Size          int
	FlushInterval time.Duration
}

func (opt OptionMigrationBatch) apply(cfg *Config) {
	cfg.MigrationBatchSize = opt.Size
	cfg.MigrationFlushInterval = opt.FlushInterval
}
