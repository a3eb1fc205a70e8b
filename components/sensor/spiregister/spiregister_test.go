package spiregister

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.sensorhub.dev/sensorhub/components/board/fake"
	"go.sensorhub.dev/sensorhub/components/sensor"
	"go.sensorhub.dev/sensorhub/logging"
	"go.sensorhub.dev/sensorhub/metrics"
)

func setupSensor(t *testing.T) (sensor.Task, *fake.SPI, *clock.Mock) {
	t.Helper()
	dev := fake.NewSPI()
	clk := clock.NewMock()
	task, err := NewWithBus(DefaultConfig(), dev, sensor.Params{
		Logger:   logging.NewTestLogger(t),
		Clock:    clk,
		Recorder: metrics.NoOp(),
	})
	test.That(t, err, test.ShouldBeNil)
	return task, dev, clk
}

func TestConfigValidate(t *testing.T) {
	conf := DefaultConfig()
	test.That(t, conf.Validate("spi"), test.ShouldBeNil)
	test.That(t, conf.Device, test.ShouldEqual, "/dev/spidev0.0")
	test.That(t, conf.SpeedHz, test.ShouldEqual, uint(20000))

	conf.Device = ""
	err := conf.Validate("spi")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `"device" is required`)

	conf = DefaultConfig()
	conf.Mode = 4
	test.That(t, conf.Validate("spi"), test.ShouldNotBeNil)

	conf = DefaultConfig()
	conf.SpeedHz = 0
	err = conf.Validate("spi")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `"speed_hz" is required`)
}

func TestFrames(t *testing.T) {
	ctx := context.Background()
	task, dev, clk := setupSensor(t)
	dev.Registers.QueueReads(tempRegister, 180)

	test.That(t, task.Init(ctx), test.ShouldBeNil)
	clk.Add(time.Second)
	reading, ok := task.Poll(ctx, make(chan struct{}))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, reading.Source, test.ShouldEqual, sensor.BusB)
	test.That(t, reading.Value, test.ShouldEqual, 90.0)
	test.That(t, reading.FormatValue(), test.ShouldEqual, "90.0")
	task.Deinit(ctx)
	test.That(t, task.Close(), test.ShouldBeNil)

	transfers := dev.Transfers()
	test.That(t, len(transfers), test.ShouldEqual, 3)
	// Enable: register 1 in the high nibble with the write flag, then the payload.
	test.That(t, transfers[0].Tx, test.ShouldResemble, []byte{0x90, 0x01})
	// Read: register 2 in the high nibble, then a null byte.
	test.That(t, transfers[1].Tx, test.ShouldResemble, []byte{0x20, 0x00})
	// Disable.
	test.That(t, transfers[2].Tx, test.ShouldResemble, []byte{0x90, 0x00})
	for _, xfer := range transfers {
		test.That(t, xfer.Baud, test.ShouldEqual, uint(20000))
		test.That(t, xfer.Mode, test.ShouldEqual, uint(0))
	}
	test.That(t, dev.CloseCount(), test.ShouldEqual, 1)
}

func TestConversion(t *testing.T) {
	ctx := context.Background()
	task, dev, clk := setupSensor(t)
	dev.Registers.QueueReads(tempRegister, 200, 0)
	test.That(t, task.Init(ctx), test.ShouldBeNil)
	defer func() {
		test.That(t, task.Close(), test.ShouldBeNil)
	}()

	for _, expected := range []float64{100.0, 0.0} {
		clk.Add(time.Second)
		reading, ok := task.Poll(ctx, make(chan struct{}))
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, reading.Value, test.ShouldEqual, expected)
	}
}

func TestReadFailureAndCancellation(t *testing.T) {
	ctx := context.Background()
	task, dev, clk := setupSensor(t)
	test.That(t, task.Init(ctx), test.ShouldBeNil)
	defer func() {
		test.That(t, task.Close(), test.ShouldBeNil)
	}()

	dev.Registers.SetReadError(tempRegister, errors.New("bus fault"))
	clk.Add(time.Second)
	_, ok := task.Poll(ctx, make(chan struct{}))
	test.That(t, ok, test.ShouldBeFalse)

	cancelled := make(chan struct{})
	close(cancelled)
	_, ok = task.Poll(ctx, cancelled)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestDeinitSwallowsErrors(t *testing.T) {
	ctx := context.Background()
	task, dev, _ := setupSensor(t)
	test.That(t, task.Init(ctx), test.ShouldBeNil)
	dev.Registers.SetWriteError(ctrlRegister, errors.New("bus fault"))
	task.Deinit(ctx)
	test.That(t, dev.Registers.Get(ctrlRegister), test.ShouldEqual, byte(0x01))
	test.That(t, task.Close(), test.ShouldBeNil)
}
