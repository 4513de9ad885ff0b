package instance

import (
	"fmt"

	"github.com/xaionaro-go/codecsched/types"
)

// Config describes a codec session as requested by its client.
type Config struct {
	Codec       types.Codec       `yaml:"codec"`
	SessionType types.SessionType `yaml:"session_type"`
	Resolution  types.Resolution  `yaml:"resolution"`
	FrameRate   float64           `yaml:"frame_rate"`
	Priority    types.Priority    `yaml:"priority"`
	RTClass     types.RTClass     `yaml:"rt_class"`
	IsDRM       bool              `yaml:"drm"`

	// MultiCoreMode is the dual-core mode to use when the instance is
	// allowed to run on both cores; OpModeSingle disables it.
	MultiCoreMode types.OpMode `yaml:"multi_core_mode"`
}

func (cfg Config) Validate() error {
	if cfg.Codec <= types.UndefinedCodec || cfg.Codec >= types.EndOfCodec {
		return fmt.Errorf("invalid codec: %s", cfg.Codec)
	}
	if cfg.SessionType <= types.UndefinedSessionType || cfg.SessionType >= types.EndOfSessionType {
		return fmt.Errorf("invalid session type: %s", cfg.SessionType)
	}
	if cfg.FrameRate < 0 {
		return fmt.Errorf("negative frame rate: %f", cfg.FrameRate)
	}
	switch cfg.MultiCoreMode {
	case types.UndefinedOpMode, types.OpModeSingle, types.OpModeTwoMode1, types.OpModeTwoMode2:
	default:
		return fmt.Errorf("%s is not a valid multi-core mode", cfg.MultiCoreMode)
	}
	return nil
}

// Load is the weighted amount of macroblocks per second the session
// requires.
func (cfg Config) Load() types.Load {
	mbs := float64(cfg.Resolution.Macroblocks()) * cfg.FrameRate
	weight := cfg.Codec.LoadWeight(cfg.SessionType)
	return types.Load(mbs * float64(weight) / 100)
}
