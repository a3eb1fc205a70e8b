// Package sysfsattr implements a sensor exposed as a directory of sysfs attribute files. The
// device raises `interrupt` through sysfs_notify whenever a new sample is available in `data`.
package sysfsattr

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.sensorhub.dev/sensorhub/components/sensor"
	"go.sensorhub.dev/sensorhub/logging"
	"go.sensorhub.dev/sensorhub/metrics"
	"go.sensorhub.dev/sensorhub/utils"
)

const (
	defaultPath        = "/sys/class/mmsens/mmsens0/"
	defaultFrequency   = "normal"
	defaultPollTimeout = 500 * time.Millisecond
	simulatedInterval  = time.Second
)

// Config describes the attribute device.
type Config struct {
	Path        string        `json:"path" mapstructure:"path"`
	Frequency   string        `json:"frequency" mapstructure:"frequency"`
	PollTimeout time.Duration `json:"poll_timeout" mapstructure:"poll_timeout"`
	// Notifier is "epoll" for real sysfs devices or "inotify" for emulated ones.
	Notifier string `json:"notifier" mapstructure:"notifier"`
	// Simulated emulates the device in a temporary directory and feeds it one sample per second.
	Simulated bool `json:"simulated,omitempty" mapstructure:"simulated"`
}

// DefaultConfig returns the configuration of the reference device.
func DefaultConfig() Config {
	return Config{
		Path:        defaultPath,
		Frequency:   defaultFrequency,
		PollTimeout: defaultPollTimeout,
		Notifier:    NotifierEpoll,
	}
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if conf.Path == "" && !conf.Simulated {
		return goutils.NewConfigValidationFieldRequiredError(path, "path")
	}
	if conf.Frequency == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "frequency")
	}
	if conf.PollTimeout <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("poll_timeout must be positive"))
	}
	if _, err := notifierFor(conf.Notifier); err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	return nil
}

func init() {
	sensor.Register(sensor.Attribute, func(ctx context.Context, conf interface{}, params sensor.Params) (sensor.Task, error) {
		c, ok := conf.(*Config)
		if !ok {
			return nil, utils.NewUnexpectedTypeError(c, conf)
		}
		return New(ctx, *c, params)
	})
}

// New returns the sensor task for the device at conf.Path, or for an emulated device when
// conf.Simulated is set.
func New(ctx context.Context, conf Config, params sensor.Params) (sensor.Task, error) {
	if !conf.Simulated {
		factory, err := notifierFor(conf.Notifier)
		if err != nil {
			return nil, err
		}
		return newSensor(conf, factory, params)
	}

	dir, err := os.MkdirTemp("", "sensorhub-attribute-")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create emulated device")
	}
	emu, err := NewEmulator(dir)
	if err != nil {
		return nil, multierr.Combine(err, os.RemoveAll(dir))
	}
	conf.Path = dir
	s, err := newSensor(conf, newInotifyNotifier, params)
	if err != nil {
		return nil, multierr.Combine(err, os.RemoveAll(dir))
	}
	s.simulate(emu)
	return s, nil
}

func newSensor(conf Config, factory notifierFactory, params sensor.Params) (*attrSensor, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if conf.PollTimeout <= 0 {
		conf.PollTimeout = defaultPollTimeout
	}
	if conf.Frequency == "" {
		conf.Frequency = defaultFrequency
	}
	info, err := os.Stat(conf.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "attribute device %s not found", conf.Path)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("attribute device %s is not a directory", conf.Path)
	}
	return &attrSensor{
		dir:         attributeDir{path: conf.Path},
		conf:        conf,
		newNotifier: factory,
		clk:         params.Clock,
		logger:      params.Logger.Sublogger(sensor.Attribute.String()),
		recorder:    params.Recorder,
	}, nil
}

type attrSensor struct {
	dir         attributeDir
	conf        Config
	newNotifier notifierFactory
	notifier    notifier

	// Only set for simulated devices.
	feeder     utils.StoppableWorkers
	removeDir  bool
	lastSample atomic.Uint32

	clk      clock.Clock
	logger   logging.Logger
	recorder metrics.Recorder
}

func (s *attrSensor) Source() sensor.Source {
	return sensor.Attribute
}

func (s *attrSensor) Init(ctx context.Context) error {
	steps := []struct {
		attr  string
		value string
	}{
		{initvalAttr, "0"},
		{enableAttr, "1"},
		{frequencyAttr, s.conf.Frequency},
		{enableInterruptAttr, "1"},
	}
	for _, step := range steps {
		if err := s.dir.writeString(step.attr, step.value); err != nil {
			return err
		}
	}

	n, err := s.newNotifier(filepath.Join(s.conf.Path, interruptAttr), s.clk)
	if err != nil {
		return errors.Wrap(err, "failed to watch interrupt attribute")
	}
	s.notifier = n
	return nil
}

func (s *attrSensor) Deinit(ctx context.Context) {
	if err := s.dir.writeUint(enableInterruptAttr, 0); err != nil {
		s.logger.Debugw("failed to disable interrupt", "error", err)
	}
	if err := s.dir.writeUint(enableAttr, 0); err != nil {
		s.logger.Debugw("failed to disable device", "error", err)
	}
}

func (s *attrSensor) Poll(ctx context.Context, cancelled <-chan struct{}) (sensor.Reading, bool) {
	edge, err := s.notifier.Wait(ctx, cancelled, s.conf.PollTimeout)
	if err != nil {
		s.logger.Debugw("failed waiting for interrupt", "error", err)
		s.recorder.RecordReadFailure(sensor.Attribute.String())
		// Keep the loop from spinning on a broken notifier.
		select {
		case <-s.clk.After(s.conf.PollTimeout):
		case <-cancelled:
		case <-ctx.Done():
		}
		return sensor.Reading{}, false
	}
	if !edge {
		return sensor.Reading{}, false
	}

	raw, err := s.dir.readUint(dataAttr)
	if err != nil {
		s.logger.Debugw("dropping sample", "error", err)
		s.recorder.RecordReadFailure(sensor.Attribute.String())
		return sensor.Reading{}, false
	}
	return sensor.Reading{Source: sensor.Attribute, Timestamp: s.clk.Now(), Raw: raw, Value: float64(raw)}, true
}

func (s *attrSensor) Close() error {
	var err error
	if s.feeder != nil {
		s.feeder.Stop()
	}
	if s.notifier != nil {
		err = multierr.Combine(err, s.notifier.Close())
	}
	if s.removeDir {
		err = multierr.Combine(err, os.RemoveAll(s.conf.Path))
	}
	return err
}

// simulate feeds the emulated device an increasing sample every second.
func (s *attrSensor) simulate(emu *Emulator) {
	s.removeDir = true
	s.feeder = utils.NewStoppableWorkers(func(ctx context.Context) {
		ticker := s.clk.Ticker(simulatedInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			// The emulated device only samples while enabled.
			if enabled, err := emu.dir.readUint(enableAttr); err != nil || enabled == 0 {
				continue
			}
			if err := emu.Trigger(s.lastSample.Inc()); err != nil {
				s.logger.Debugw("emulator failed to publish a sample", "error", err)
			}
		}
	})
}
