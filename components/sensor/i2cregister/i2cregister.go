// Package i2cregister implements a temperature sensor behind a register interface on an I2C
// bus: writing 0x01 to the control register starts conversions and the temperature register
// holds the latest value in half degrees.
package i2cregister

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.sensorhub.dev/sensorhub/components/board/fake"
	"go.sensorhub.dev/sensorhub/components/board/genericlinux/buses"
	"go.sensorhub.dev/sensorhub/components/sensor"
	"go.sensorhub.dev/sensorhub/logging"
	"go.sensorhub.dev/sensorhub/metrics"
	"go.sensorhub.dev/sensorhub/utils"
)

const (
	defaultBus      = "1"
	defaultAddress  = 0x36
	defaultInterval = time.Second

	ctrlRegister byte = 1
	tempRegister byte = 2

	ctrlEnable  byte = 0x01
	ctrlDisable byte = 0x00
)

// Config describes the I2C sensor.
type Config struct {
	Bus      string        `json:"bus" mapstructure:"bus"`
	Address  int           `json:"address" mapstructure:"address"`
	Interval time.Duration `json:"interval" mapstructure:"interval"`
	// Simulated replaces the bus with an in-memory device.
	Simulated bool `json:"simulated,omitempty" mapstructure:"simulated"`
}

// DefaultConfig returns the configuration of the reference device on /dev/i2c-1.
func DefaultConfig() Config {
	return Config{Bus: defaultBus, Address: defaultAddress, Interval: defaultInterval}
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if conf.Bus == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "bus")
	}
	if conf.Address <= 0 || conf.Address > 0x7f {
		return goutils.NewConfigValidationError(path, errors.Errorf("address 0x%x is not a 7 bit I2C address", conf.Address))
	}
	if conf.Interval <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("interval must be positive"))
	}
	return nil
}

func init() {
	sensor.Register(sensor.BusA, func(ctx context.Context, conf interface{}, params sensor.Params) (sensor.Task, error) {
		c, ok := conf.(*Config)
		if !ok {
			return nil, utils.NewUnexpectedTypeError(c, conf)
		}
		return New(ctx, *c, params)
	})
}

// New opens the configured bus and returns the sensor task.
func New(ctx context.Context, conf Config, params sensor.Params) (sensor.Task, error) {
	var bus buses.I2C
	if conf.Simulated {
		sim := fake.NewI2C()
		sim.Device(byte(conf.Address)).Set(tempRegister, 50)
		bus = sim
	} else {
		var err error
		if bus, err = buses.NewI2cBus(conf.Bus); err != nil {
			return nil, err
		}
	}
	return NewWithBus(conf, bus, params)
}

// NewWithBus returns the sensor task talking to `bus`.
func NewWithBus(conf Config, bus buses.I2C, params sensor.Params) (sensor.Task, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if conf.Interval <= 0 {
		conf.Interval = defaultInterval
	}
	handle, err := bus.OpenHandle(byte(conf.Address))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open I2C address 0x%02x on bus %s", conf.Address, conf.Bus)
	}
	return &i2cSensor{
		handle:   handle,
		ctrl:     &buses.I2CRegister{Handle: handle, Register: ctrlRegister},
		temp:     &buses.I2CRegister{Handle: handle, Register: tempRegister},
		interval: conf.Interval,
		clk:      params.Clock,
		logger:   params.Logger.Sublogger(sensor.BusA.String()),
		recorder: params.Recorder,
	}, nil
}

type i2cSensor struct {
	handle   buses.I2CHandle
	ctrl     *buses.I2CRegister
	temp     *buses.I2CRegister
	interval time.Duration
	ticker   *clock.Ticker

	clk      clock.Clock
	logger   logging.Logger
	recorder metrics.Recorder
}

func (s *i2cSensor) Source() sensor.Source {
	return sensor.BusA
}

func (s *i2cSensor) Init(ctx context.Context) error {
	if err := s.ctrl.WriteByteData(ctx, ctrlEnable); err != nil {
		return errors.Wrap(err, "failed to enable conversions")
	}
	s.ticker = s.clk.Ticker(s.interval)
	return nil
}

func (s *i2cSensor) Deinit(ctx context.Context) {
	if err := s.ctrl.WriteByteData(ctx, ctrlDisable); err != nil {
		s.logger.Debugw("failed to disable conversions", "error", err)
	}
}

func (s *i2cSensor) Poll(ctx context.Context, cancelled <-chan struct{}) (sensor.Reading, bool) {
	select {
	case <-s.ticker.C:
	case <-cancelled:
		return sensor.Reading{}, false
	case <-ctx.Done():
		return sensor.Reading{}, false
	}

	raw, err := s.temp.ReadByteData(ctx)
	if err != nil {
		s.logger.Debugw("failed to read temperature", "error", err)
		s.recorder.RecordReadFailure(sensor.BusA.String())
		return sensor.Reading{}, false
	}
	return sensor.NewBusReading(sensor.BusA, s.clk.Now(), raw), true
}

func (s *i2cSensor) Close() error {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	return s.handle.Close()
}
