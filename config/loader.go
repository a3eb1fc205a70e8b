package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"

	"go.sensorhub.dev/sensorhub/components/sensor"
	"go.sensorhub.dev/sensorhub/components/sensor/i2cregister"
	"go.sensorhub.dev/sensorhub/components/sensor/spiregister"
	"go.sensorhub.dev/sensorhub/components/sensor/sysfsattr"
)

const (
	// EnvPrefix is the prefix of environment variables. A double underscore separates nested
	// keys, e.g. SENSORHUB_I2C__ADDRESS=0x37.
	EnvPrefix = "SENSORHUB_"
	// Delimiter separates nested keys.
	Delimiter = "."
)

// Default returns the built in configuration: all three sensors at their reference addresses.
func Default() Config {
	return Config{
		Sources:   []string{sensor.Attribute.String(), sensor.BusA.String(), sensor.BusB.String()},
		Mailbox:   MailboxConfig{Capacity: sensor.DefaultMailboxCapacity},
		Attribute: sysfsattr.DefaultConfig(),
		I2C:       i2cregister.DefaultConfig(),
		SPI:       spiregister.DefaultConfig(),
		Log:       LogConfig{Level: "info", MaxSizeMB: 10},
		Console:   ConsoleConfig{Color: ColorAuto},
	}
}

func defaultsMap() map[string]interface{} {
	d := Default()
	return map[string]interface{}{
		"sources":                d.Sources,
		"mailbox.capacity":       d.Mailbox.Capacity,
		"attribute.path":         d.Attribute.Path,
		"attribute.frequency":    d.Attribute.Frequency,
		"attribute.poll_timeout": d.Attribute.PollTimeout,
		"attribute.notifier":     d.Attribute.Notifier,
		"attribute.simulated":    d.Attribute.Simulated,
		"i2c.bus":                d.I2C.Bus,
		"i2c.address":            d.I2C.Address,
		"i2c.interval":           d.I2C.Interval,
		"i2c.simulated":          d.I2C.Simulated,
		"spi.device":             d.SPI.Device,
		"spi.speed_hz":           d.SPI.SpeedHz,
		"spi.mode":               d.SPI.Mode,
		"spi.interval":           d.SPI.Interval,
		"spi.simulated":          d.SPI.Simulated,
		"log.level":              d.Log.Level,
		"log.file":               d.Log.File,
		"log.max_size_mb":        d.Log.MaxSizeMB,
		"metrics.addr":           d.Metrics.Addr,
		"console.color":          d.Console.Color,
	}
}

// Load builds the configuration from, in increasing priority: defaults, the file at `path`
// (".json", ".yaml" or ".yml"; skipped when empty), SENSORHUB_ environment variables and
// `overrides`, whose keys are dotted paths such as "metrics.addr". The result is validated.
func Load(path string, overrides map[string]interface{}) (*Config, error) {
	k := koanf.New(Delimiter)
	if err := k.Load(confmap.Provider(defaultsMap(), Delimiter), nil); err != nil {
		return nil, errors.Wrap(err, "failed to load defaults")
	}

	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Wrapf(err, "config file %s", path)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, errors.Wrapf(err, "failed to load config file %s", path)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, Delimiter, envKey), nil); err != nil {
		return nil, errors.Wrap(err, "failed to load environment")
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, Delimiter), nil); err != nil {
			return nil, errors.Wrap(err, "failed to apply overrides")
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "mapstructure",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           &cfg,
			TagName:          "mapstructure",
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}

	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, errors.Errorf("unsupported config file format %q", filepath.Ext(path))
	}
}

// envKey maps SENSORHUB_ATTRIBUTE__POLL_TIMEOUT to attribute.poll_timeout.
func envKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(name, EnvPrefix)), "__", Delimiter)
}
