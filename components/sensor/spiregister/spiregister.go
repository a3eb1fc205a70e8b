// Package spiregister implements a temperature sensor on an SPI bus that exposes the same
// register map as the I2C device, addressed through two-byte frames.
package spiregister

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.sensorhub.dev/sensorhub/components/board/fake"
	"go.sensorhub.dev/sensorhub/components/board/genericlinux/buses"
	"go.sensorhub.dev/sensorhub/components/sensor"
	"go.sensorhub.dev/sensorhub/logging"
	"go.sensorhub.dev/sensorhub/metrics"
	"go.sensorhub.dev/sensorhub/utils"
)

const (
	defaultDevice   = "/dev/spidev0.0"
	defaultSpeedHz  = 20000
	defaultInterval = time.Second

	ctrlRegister byte = 1
	tempRegister byte = 2

	ctrlEnable  byte = 0x01
	ctrlDisable byte = 0x00

	writeFlag byte = 0x80
)

// Config describes the SPI sensor.
type Config struct {
	Device   string        `json:"device" mapstructure:"device"`
	SpeedHz  uint          `json:"speed_hz" mapstructure:"speed_hz"`
	Mode     uint          `json:"mode" mapstructure:"mode"`
	Interval time.Duration `json:"interval" mapstructure:"interval"`
	// Simulated replaces the bus with an in-memory device.
	Simulated bool `json:"simulated,omitempty" mapstructure:"simulated"`
}

// DefaultConfig returns the configuration of the reference device on /dev/spidev0.0.
func DefaultConfig() Config {
	return Config{Device: defaultDevice, SpeedHz: defaultSpeedHz, Mode: 0, Interval: defaultInterval}
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) error {
	if conf.Device == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "device")
	}
	if conf.SpeedHz == 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "speed_hz")
	}
	if conf.Mode > 3 {
		return goutils.NewConfigValidationError(path, errors.Errorf("SPI mode %d out of range 0-3", conf.Mode))
	}
	if conf.Interval <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("interval must be positive"))
	}
	return nil
}

func init() {
	sensor.Register(sensor.BusB, func(ctx context.Context, conf interface{}, params sensor.Params) (sensor.Task, error) {
		c, ok := conf.(*Config)
		if !ok {
			return nil, utils.NewUnexpectedTypeError(c, conf)
		}
		return New(ctx, *c, params)
	})
}

// New opens the configured device and returns the sensor task.
func New(ctx context.Context, conf Config, params sensor.Params) (sensor.Task, error) {
	var bus buses.SPI
	if conf.Simulated {
		sim := fake.NewSPI()
		sim.Registers.Set(tempRegister, 60)
		bus = sim
	} else {
		var err error
		if bus, err = buses.NewSpiBus(conf.Device); err != nil {
			return nil, err
		}
	}
	return NewWithBus(conf, bus, params)
}

// NewWithBus returns the sensor task talking to `bus`.
func NewWithBus(conf Config, bus buses.SPI, params sensor.Params) (sensor.Task, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if conf.Interval <= 0 {
		conf.Interval = defaultInterval
	}
	handle, err := bus.OpenHandle()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open SPI device %s", conf.Device)
	}
	return &spiSensor{
		bus:      bus,
		handle:   handle,
		conf:     conf,
		clk:      params.Clock,
		logger:   params.Logger.Sublogger(sensor.BusB.String()),
		recorder: params.Recorder,
	}, nil
}

type spiSensor struct {
	bus    buses.SPI
	handle buses.SPIHandle
	conf   Config
	ticker *clock.Ticker

	clk      clock.Clock
	logger   logging.Logger
	recorder metrics.Recorder
}

func (s *spiSensor) Source() sensor.Source {
	return sensor.BusB
}

func (s *spiSensor) xfer(ctx context.Context, tx []byte) ([]byte, error) {
	return s.handle.Xfer(ctx, s.conf.SpeedHz, "", s.conf.Mode, tx)
}

func (s *spiSensor) readRegister(ctx context.Context, register byte) (byte, error) {
	rx, err := s.xfer(ctx, []byte{register << 4, 0})
	if err != nil {
		return 0, err
	}
	if len(rx) < 2 {
		return 0, errors.Errorf("short SPI response: %d bytes", len(rx))
	}
	return rx[1], nil
}

func (s *spiSensor) writeRegister(ctx context.Context, register, value byte) error {
	_, err := s.xfer(ctx, []byte{register<<4 | writeFlag, value})
	return err
}

func (s *spiSensor) Init(ctx context.Context) error {
	if err := s.writeRegister(ctx, ctrlRegister, ctrlEnable); err != nil {
		return errors.Wrap(err, "failed to enable conversions")
	}
	s.ticker = s.clk.Ticker(s.conf.Interval)
	return nil
}

func (s *spiSensor) Deinit(ctx context.Context) {
	if err := s.writeRegister(ctx, ctrlRegister, ctrlDisable); err != nil {
		s.logger.Debugw("failed to disable conversions", "error", err)
	}
}

func (s *spiSensor) Poll(ctx context.Context, cancelled <-chan struct{}) (sensor.Reading, bool) {
	select {
	case <-s.ticker.C:
	case <-cancelled:
		return sensor.Reading{}, false
	case <-ctx.Done():
		return sensor.Reading{}, false
	}

	raw, err := s.readRegister(ctx, tempRegister)
	if err != nil {
		s.logger.Debugw("failed to read temperature", "error", err)
		s.recorder.RecordReadFailure(sensor.BusB.String())
		return sensor.Reading{}, false
	}
	return sensor.NewBusReading(sensor.BusB, s.clk.Now(), raw), true
}

func (s *spiSensor) Close() error {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	return multierr.Combine(s.handle.Close(), s.bus.Close(context.Background()))
}
