package press

import (
	"fmt"
	"math"
)

// Settings holds the tunable process parameters of the press.
type Settings struct {
	TargetTemp    float64 `yaml:"target_temp" json:"target_temp"` // Platen setpoint (°C)
	Kp            float64 `yaml:"pid_kp" json:"pid_kp"`
	Ki            float64 `yaml:"pid_ki" json:"pid_ki"`
	Kd            float64 `yaml:"pid_kd" json:"pid_kd"`
	Stage1Default uint16  `yaml:"stage1_default" json:"stage1_default"` // Seconds
	Stage2Default uint16  `yaml:"stage2_default" json:"stage2_default"` // Seconds
}

// DefaultSettings returns settings suitable for plastisol transfers on cotton.
func DefaultSettings() Settings {
	return Settings{
		TargetTemp:    177,
		Kp:            4.0,
		Ki:            0.05,
		Kd:            12.0,
		Stage1Default: 10,
		Stage2Default: 5,
	}
}

// ValidateSettings reports whether s may replace the active configuration.
// The returned error wraps ErrConfig.
func ValidateSettings(s Settings) error {
	if !isFinite(s.TargetTemp) || s.TargetTemp <= 0 {
		return fmt.Errorf("%w: target temperature %v must be positive and finite", ErrConfig, s.TargetTemp)
	}
	for name, gain := range map[string]float64{"kp": s.Kp, "ki": s.Ki, "kd": s.Kd} {
		if !isFinite(gain) {
			return fmt.Errorf("%w: gain %s is not finite", ErrConfig, name)
		}
	}
	if s.Stage1Default == 0 || s.Stage2Default == 0 {
		return fmt.Errorf("%w: default stage durations must be positive (got %d, %d)",
			ErrConfig, s.Stage1Default, s.Stage2Default)
	}
	return nil
}

// Valid is the predicate form of ValidateSettings.
func (s Settings) Valid() bool {
	return ValidateSettings(s) == nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
