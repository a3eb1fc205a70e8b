// Package config defines and loads the sensorhub configuration.
package config

import (
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.sensorhub.dev/sensorhub/components/sensor"
	"go.sensorhub.dev/sensorhub/components/sensor/i2cregister"
	"go.sensorhub.dev/sensorhub/components/sensor/spiregister"
	"go.sensorhub.dev/sensorhub/components/sensor/sysfsattr"
	"go.sensorhub.dev/sensorhub/logging"
)

// Config is the whole sensorhub configuration.
type Config struct {
	// Sources lists the active sensors by name ("attribute", "i2c", "spi").
	Sources   []string           `json:"sources" mapstructure:"sources"`
	Mailbox   MailboxConfig      `json:"mailbox" mapstructure:"mailbox"`
	Attribute sysfsattr.Config   `json:"attribute" mapstructure:"attribute"`
	I2C       i2cregister.Config `json:"i2c" mapstructure:"i2c"`
	SPI       spiregister.Config `json:"spi" mapstructure:"spi"`
	Log       LogConfig          `json:"log" mapstructure:"log"`
	Metrics   MetricsConfig      `json:"metrics" mapstructure:"metrics"`
	Console   ConsoleConfig      `json:"console" mapstructure:"console"`
}

// MailboxConfig sizes the update mailbox.
type MailboxConfig struct {
	Capacity int `json:"capacity" mapstructure:"capacity"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `json:"level" mapstructure:"level"`
	// File, when set, also writes logs to a size-rotated file.
	File      string                        `json:"file" mapstructure:"file"`
	MaxSizeMB int                           `json:"max_size_mb" mapstructure:"max_size_mb"`
	Patterns  []logging.LoggerPatternConfig `json:"patterns" mapstructure:"patterns"`
}

// MetricsConfig configures the Prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// Console color modes.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// ConsoleConfig configures the console output of readings.
type ConsoleConfig struct {
	Color string `json:"color" mapstructure:"color"`
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate(path string) error {
	sources, err := c.ActiveSources()
	if err != nil {
		return goutils.NewConfigValidationError(joinPath(path, "sources"), err)
	}
	for _, source := range sources {
		var err error
		switch source {
		case sensor.Attribute:
			err = c.Attribute.Validate(joinPath(path, "attribute"))
		case sensor.BusA:
			err = c.I2C.Validate(joinPath(path, "i2c"))
		case sensor.BusB:
			err = c.SPI.Validate(joinPath(path, "spi"))
		}
		if err != nil {
			return err
		}
	}
	if c.Mailbox.Capacity < 1 {
		return goutils.NewConfigValidationError(joinPath(path, "mailbox"), errors.New("capacity must be at least 1"))
	}
	if err := c.Log.Validate(joinPath(path, "log")); err != nil {
		return err
	}
	switch c.Console.Color {
	case ColorAuto, ColorAlways, ColorNever:
	default:
		return goutils.NewConfigValidationError(joinPath(path, "console"), errors.Errorf("unknown color mode %q", c.Console.Color))
	}
	return nil
}

// Validate ensures the log level and patterns are valid.
func (lc *LogConfig) Validate(path string) error {
	if _, err := logging.LevelFromString(lc.Level); err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	if lc.File != "" && lc.MaxSizeMB < 1 {
		return goutils.NewConfigValidationError(path, errors.New("max_size_mb must be at least 1"))
	}
	for _, pattern := range lc.Patterns {
		if !logging.ValidatePattern(pattern.Pattern) {
			return goutils.NewConfigValidationError(path, errors.Errorf("invalid logger pattern %q", pattern.Pattern))
		}
		if _, err := logging.LevelFromString(pattern.Level); err != nil {
			return goutils.NewConfigValidationError(path, err)
		}
	}
	return nil
}

// ActiveSources returns the configured sources in spawn order, without duplicates.
func (c *Config) ActiveSources() ([]sensor.Source, error) {
	if len(c.Sources) == 0 {
		return nil, errors.New("at least one source must be active")
	}
	var set sensor.TaskSet
	for _, name := range c.Sources {
		source, err := sensor.ParseSource(name)
		if err != nil {
			return nil, err
		}
		set |= sensor.NewTaskSet(source)
	}
	return set.Sources(), nil
}

// SensorConfig returns the configuration section of `source`, in the form its registered
// constructor expects.
func (c *Config) SensorConfig(source sensor.Source) interface{} {
	switch source {
	case sensor.Attribute:
		return &c.Attribute
	case sensor.BusA:
		return &c.I2C
	case sensor.BusB:
		return &c.SPI
	default:
		return nil
	}
}

func joinPath(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}
