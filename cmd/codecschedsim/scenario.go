package main

import (
	"fmt"
	"os"
	"time"

	"github.com/xaionaro-go/codecsched/instance"
	"github.com/xaionaro-go/codecsched/scheduler"
	"gopkg.in/yaml.v3"
)

type InstanceScenario struct {
	instance.Config `yaml:",inline"`

	// Buffers is the amount of source buffers to queue; zero means queuing
	// at the frame rate until the end of the scenario.
	Buffers int `yaml:"buffers"`

	// StabilizedFrameRate is reported once half of the scenario elapsed.
	StabilizedFrameRate float64 `yaml:"stabilized_frame_rate"`
}

type Scenario struct {
	Cores              int                `yaml:"cores"`
	Scheduler          scheduler.Type     `yaml:"scheduler"`
	PriorityLevels     uint               `yaml:"priority_levels"`
	LoadBalancePercent uint               `yaml:"load_balance_percent"`
	FrameDuration      time.Duration      `yaml:"frame_duration"`
	IdleTimeout        time.Duration      `yaml:"idle_timeout"`
	Duration           time.Duration      `yaml:"duration"`
	Instances          []InstanceScenario `yaml:"instances"`
}

func defaultScenario() Scenario {
	return Scenario{
		Cores:              2,
		Scheduler:          scheduler.TypePriority,
		PriorityLevels:     scheduler.DefaultConfig().NumPriorityLevels,
		LoadBalancePercent: 80,
		FrameDuration:      2 * time.Millisecond,
		Duration:           2 * time.Second,
	}
}

func parseScenario(b []byte) (Scenario, error) {
	s := defaultScenario()
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Scenario{}, fmt.Errorf("unable to parse the scenario: %w", err)
	}
	if s.Cores < 1 {
		return Scenario{}, fmt.Errorf("at least one core is required, got %d", s.Cores)
	}
	for idx, inst := range s.Instances {
		if err := inst.Validate(); err != nil {
			return Scenario{}, fmt.Errorf("instance #%d: %w", idx, err)
		}
	}
	return s, nil
}

func loadScenario(path string) (Scenario, error) {
	if path == "" {
		return parseScenario([]byte(builtinScenario))
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("unable to read '%s': %w", path, err)
	}
	return parseScenario(b)
}

const builtinScenario = `
cores: 2
load_balance_percent: 60
instances:
  - codec: hevc
    session_type: decoder
    resolution: {width: 3840, height: 2160}
    frame_rate: 30
    rt_class: rt
    multi_core_mode: two-mode2
  - codec: h264
    session_type: encoder
    resolution: {width: 1920, height: 1080}
    frame_rate: 30
    priority: 1
    rt_class: non-rt
    stabilized_frame_rate: 60
  - codec: h264
    session_type: decoder
    resolution: {width: 1280, height: 720}
    frame_rate: 60
    rt_class: non-rt
    drm: true
  - codec: jpeg
    session_type: decoder
    resolution: {width: 4000, height: 3000}
    frame_rate: 10
    rt_class: non-rt
    buffers: 5
`
