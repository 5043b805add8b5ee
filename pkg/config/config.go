package config

import (
	"fmt"
	"os"
	"time"

	"github.com/itohio/heatpress/pkg/press"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	StorageFile   = "file"
	StorageBolt   = "bolt"
	StorageMemory = "memory"
)

// Config represents the application configuration.
type Config struct {
	Serial  SerialConfig   `yaml:"serial"`
	Press   press.Settings `yaml:"press"` // Used until settings are saved to storage
	Control ControlConfig  `yaml:"control"`
	Safety  SafetyConfig   `yaml:"safety"`
	Storage StorageConfig  `yaml:"storage"`
	Mock    MockConfig     `yaml:"mock"`
	Log     LogConfig      `yaml:"log"`
}

// SerialConfig contains the press head link configuration.
type SerialConfig struct {
	Port       string        `yaml:"port"`
	BaudRate   int           `yaml:"baud_rate"`
	StaleAfter time.Duration `yaml:"stale_after"` // Readings older than this are a sensor fault
}

// ControlConfig contains the control loop parameters.
type ControlConfig struct {
	ControlPeriod      time.Duration `yaml:"control_period"` // Thermal loop (task A)
	CyclePeriod        time.Duration `yaml:"cycle_period"`   // Cycle and checkpoint bookkeeping (task B)
	OutputMin          float64       `yaml:"output_min"`
	OutputMax          float64       `yaml:"output_max"`
	SensorTimeout      time.Duration `yaml:"sensor_timeout"`
	MaxSensorFaults    int           `yaml:"max_sensor_faults"` // Consecutive faults tolerated on the last good value
	AverageSamples     int           `yaml:"average_samples"`   // Moving average window (0 = disabled)
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	AutoAdvance        bool          `yaml:"auto_advance"` // Start the next cycle as soon as one completes
}

// SafetyConfig contains the thermal watchdog limits.
type SafetyConfig struct {
	RunawayMargin   float64       `yaml:"runaway_margin"`  // °C above target
	ProgressMargin  float64       `yaml:"progress_margin"` // °C below target where heating must progress
	MinRise         float64       `yaml:"min_rise"`        // °C expected within ProgressTimeout
	ProgressTimeout time.Duration `yaml:"progress_timeout"`
	Window          time.Duration `yaml:"window"`
}

// StorageConfig selects where settings and checkpoints are kept.
type StorageConfig struct {
	Driver string `yaml:"driver"` // file, bolt or memory
	Path   string `yaml:"path"`   // Directory for file, database file for bolt
}

// MockConfig contains simulated press head parameters.
type MockConfig struct {
	Ambient      float64       `yaml:"ambient"`       // °C
	HeaterRise   float64       `yaml:"heater_rise"`   // Steady-state rise above ambient at full power (°C)
	TimeConstant time.Duration `yaml:"time_constant"` // Platen thermal time constant
	NoiseLevel   float64       `yaml:"noise_level"`   // °C
	SampleRate   time.Duration `yaml:"sample_rate"`
}

// LogConfig contains logging options.
type LogConfig struct {
	Level string `yaml:"level"` // trace, debug, info, warn, error
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:       "/dev/ttyACM0",
			BaudRate:   115200,
			StaleAfter: 2 * time.Second,
		},
		Press: press.DefaultSettings(),
		Control: ControlConfig{
			ControlPeriod:      100 * time.Millisecond,
			CyclePeriod:        time.Second,
			OutputMin:          0,
			OutputMax:          100,
			SensorTimeout:      50 * time.Millisecond,
			MaxSensorFaults:    3,
			AverageSamples:     0,
			CheckpointInterval: 5 * time.Second,
			WriteTimeout:       500 * time.Millisecond,
			AutoAdvance:        false,
		},
		Safety: SafetyConfig{
			RunawayMargin:   25,
			ProgressMargin:  20,
			MinRise:         2,
			ProgressTimeout: 60 * time.Second,
			Window:          10 * time.Second,
		},
		Storage: StorageConfig{
			Driver: StorageFile,
			Path:   "heatpress-data",
		},
		Mock: MockConfig{
			Ambient:      22,
			HeaterRise:   260,
			TimeConstant: 90 * time.Second,
			NoiseLevel:   0.2,
			SampleRate:   50 * time.Millisecond,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks values that have no sensible default to fall back to.
func (c *Config) Validate() error {
	if err := press.ValidateSettings(c.Press); err != nil {
		return fmt.Errorf("press section: %w", err)
	}
	if c.Control.OutputMax <= c.Control.OutputMin {
		return fmt.Errorf("control section: output_max %v must exceed output_min %v",
			c.Control.OutputMax, c.Control.OutputMin)
	}
	switch c.Storage.Driver {
	case StorageFile, StorageBolt, StorageMemory:
	default:
		return fmt.Errorf("storage section: unknown driver %q", c.Storage.Driver)
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Serial.StaleAfter == 0 {
		c.Serial.StaleAfter = def.Serial.StaleAfter
	}

	if c.Press.TargetTemp == 0 {
		c.Press.TargetTemp = def.Press.TargetTemp
	}
	if c.Press.Stage1Default == 0 {
		c.Press.Stage1Default = def.Press.Stage1Default
	}
	if c.Press.Stage2Default == 0 {
		c.Press.Stage2Default = def.Press.Stage2Default
	}

	if c.Control.ControlPeriod == 0 {
		c.Control.ControlPeriod = def.Control.ControlPeriod
	}
	if c.Control.CyclePeriod == 0 {
		c.Control.CyclePeriod = def.Control.CyclePeriod
	}
	if c.Control.OutputMax == 0 {
		c.Control.OutputMax = def.Control.OutputMax
	}
	if c.Control.SensorTimeout == 0 {
		c.Control.SensorTimeout = def.Control.SensorTimeout
	}
	if c.Control.MaxSensorFaults == 0 {
		c.Control.MaxSensorFaults = def.Control.MaxSensorFaults
	}
	if c.Control.CheckpointInterval == 0 {
		c.Control.CheckpointInterval = def.Control.CheckpointInterval
	}
	if c.Control.WriteTimeout == 0 {
		c.Control.WriteTimeout = def.Control.WriteTimeout
	}

	if c.Safety.RunawayMargin == 0 {
		c.Safety.RunawayMargin = def.Safety.RunawayMargin
	}
	if c.Safety.ProgressMargin == 0 {
		c.Safety.ProgressMargin = def.Safety.ProgressMargin
	}
	if c.Safety.MinRise == 0 {
		c.Safety.MinRise = def.Safety.MinRise
	}
	if c.Safety.ProgressTimeout == 0 {
		c.Safety.ProgressTimeout = def.Safety.ProgressTimeout
	}
	if c.Safety.Window == 0 {
		c.Safety.Window = def.Safety.Window
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = def.Storage.Driver
	}
	if c.Storage.Path == "" {
		c.Storage.Path = def.Storage.Path
	}

	if c.Mock.HeaterRise == 0 {
		c.Mock.HeaterRise = def.Mock.HeaterRise
	}
	if c.Mock.TimeConstant == 0 {
		c.Mock.TimeConstant = def.Mock.TimeConstant
	}
	if c.Mock.SampleRate == 0 {
		c.Mock.SampleRate = def.Mock.SampleRate
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}
