package aggregator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.sensorhub.dev/sensorhub/components/board/fake"
	"go.sensorhub.dev/sensorhub/components/sensor"
	"go.sensorhub.dev/sensorhub/components/sensor/i2cregister"
	"go.sensorhub.dev/sensorhub/components/sensor/spiregister"
	"go.sensorhub.dev/sensorhub/components/sensor/sysfsattr"
	"go.sensorhub.dev/sensorhub/logging"
	"go.sensorhub.dev/sensorhub/utils"
)

type rig struct {
	emu   *sysfsattr.Emulator
	i2c   *fake.I2C
	spi   *fake.SPI
	clk   *clock.Mock
	tasks []sensor.Task
}

func (r *rig) i2cDevice() *fake.Registers {
	return r.i2c.Device(0x36)
}

func newRig(t *testing.T) *rig {
	t.Helper()
	logger := logging.NewTestLogger(t)
	r := &rig{i2c: fake.NewI2C(), spi: fake.NewSPI(), clk: clock.NewMock()}

	var err error
	r.emu, err = sysfsattr.NewEmulator(t.TempDir())
	test.That(t, err, test.ShouldBeNil)

	attrConf := sysfsattr.DefaultConfig()
	attrConf.Path = r.emu.Path()
	attrConf.Notifier = sysfsattr.NotifierInotify
	attrConf.PollTimeout = 50 * time.Millisecond
	attr, err := sysfsattr.New(context.Background(), attrConf, sensor.Params{Logger: logger})
	test.That(t, err, test.ShouldBeNil)

	busParams := sensor.Params{Logger: logger, Clock: r.clk}
	busA, err := i2cregister.NewWithBus(i2cregister.DefaultConfig(), r.i2c, busParams)
	test.That(t, err, test.ShouldBeNil)
	busB, err := spiregister.NewWithBus(spiregister.DefaultConfig(), r.spi, busParams)
	test.That(t, err, test.ShouldBeNil)

	r.tasks = []sensor.Task{attr, busA, busB}
	return r
}

func superviseAsync(t *testing.T, opts Options) <-chan error {
	t.Helper()
	result := make(chan error, 1)
	go func() {
		result <- Supervise(context.Background(), opts)
	}()
	return result
}

func waitResult(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("supervisor did not return")
		return nil
	}
}

// assertShutdownOrder checks that every source completed exactly once, after all of its own
// readings, and that the final event ends aggregation.
func assertShutdownOrder(t *testing.T, events []Event) {
	t.Helper()
	test.That(t, len(events), test.ShouldBeGreaterThanOrEqualTo, 4)
	test.That(t, events[len(events)-1].Kind, test.ShouldEqual, "done")

	completedAt := map[sensor.Source]int{}
	for idx, e := range events[:len(events)-1] {
		switch e.Kind {
		case "completed":
			_, dup := completedAt[e.Source]
			test.That(t, dup, test.ShouldBeFalse)
			completedAt[e.Source] = idx
		case "reading":
			_, done := completedAt[e.Source]
			test.That(t, done, test.ShouldBeFalse)
		default:
			t.Fatalf("unexpected event %q before the end", e.Kind)
		}
	}
	test.That(t, len(completedAt), test.ShouldEqual, 3)
}

func assertDevicesIdle(t *testing.T, r *rig) {
	t.Helper()
	enable, err := r.emu.Attribute("enable")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.TrimSpace(enable), test.ShouldEqual, "0")
	enableInterrupt, err := r.emu.Attribute("enable_interrupt")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.TrimSpace(enableInterrupt), test.ShouldEqual, "0")

	test.That(t, r.i2cDevice().Get(1), test.ShouldEqual, byte(0))
	test.That(t, r.spi.Registers.Get(1), test.ShouldEqual, byte(0))
	test.That(t, r.i2c.CloseCount(), test.ShouldEqual, 1)
	test.That(t, r.spi.CloseCount(), test.ShouldEqual, 1)
}

func TestImmediateCancellation(t *testing.T) {
	r := newRig(t)
	sink := &RecordingSink{}
	broadcast := utils.NewBroadcast()
	broadcast.Cancel()

	err := waitResult(t, superviseAsync(t, Options{
		Tasks:     r.tasks,
		Sink:      sink,
		Broadcast: broadcast,
		Logger:    logging.NewTestLogger(t),
	}))
	test.That(t, err, test.ShouldBeNil)

	events := sink.Events()
	test.That(t, len(events), test.ShouldEqual, 4)
	test.That(t, sink.Readings(), test.ShouldBeEmpty)
	assertShutdownOrder(t, events)
	assertDevicesIdle(t, r)
}

func TestReadingsThenCancellation(t *testing.T) {
	r := newRig(t)
	r.i2cDevice().QueueReads(2, 50)
	r.spi.Registers.QueueReads(2, 180)

	sink := &RecordingSink{}
	broadcast := utils.NewBroadcast()
	result := superviseAsync(t, Options{
		Tasks:     r.tasks,
		Sink:      sink,
		Broadcast: broadcast,
		Logger:    logging.NewTestLogger(t),
	})

	firstBySource := func() map[sensor.Source]string {
		first := map[sensor.Source]string{}
		for _, reading := range sink.Readings() {
			if _, ok := first[reading.Source]; !ok {
				first[reading.Source] = reading.FormatValue()
			}
		}
		return first
	}
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		first := firstBySource()
		if _, ok := first[sensor.Attribute]; !ok {
			test.That(tb, r.emu.Trigger(7), test.ShouldBeNil)
		}
		r.clk.Add(time.Second)
		test.That(tb, len(firstBySource()), test.ShouldEqual, 3)
	})
	test.That(t, firstBySource(), test.ShouldResemble, map[sensor.Source]string{
		sensor.Attribute: "7",
		sensor.BusA:      "25.0",
		sensor.BusB:      "90.0",
	})

	broadcast.Cancel()
	test.That(t, waitResult(t, result), test.ShouldBeNil)

	events := sink.Events()
	assertShutdownOrder(t, events)
	assertDevicesIdle(t, r)
}

func TestSpawnFailureShutsDownRunningTasks(t *testing.T) {
	r := newRig(t)
	r.i2cDevice().SetWriteError(1, errors.New("nack"))
	sink := &RecordingSink{}
	broadcast := utils.NewBroadcast()

	err := waitResult(t, superviseAsync(t, Options{
		Tasks:     r.tasks,
		Sink:      sink,
		Broadcast: broadcast,
		Logger:    logging.NewTestLogger(t),
	}))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "failed to init i2c sensor")
	test.That(t, broadcast.Cancelled(), test.ShouldBeTrue)

	// The attribute task was running and shut down cleanly.
	enable, err := r.emu.Attribute("enable")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.TrimSpace(enable), test.ShouldEqual, "0")
	// The run ends with the startup failure, never with the all-done line.
	events := sink.Events()
	test.That(t, len(events), test.ShouldEqual, 2)
	test.That(t, events[0], test.ShouldResemble, Event{Kind: "completed", Source: sensor.Attribute})
	test.That(t, events[1].Kind, test.ShouldEqual, "aborted")
	test.That(t, events[1].Err.Error(), test.ShouldContainSubstring, "failed to init i2c sensor")

	// The failing task and the one after it were closed, the latter without any transfer.
	test.That(t, r.i2c.CloseCount(), test.ShouldEqual, 1)
	test.That(t, r.spi.CloseCount(), test.ShouldEqual, 1)
	test.That(t, r.spi.Transfers(), test.ShouldBeEmpty)
}

func TestDuplicateSourcesRejected(t *testing.T) {
	r := newRig(t)
	second, err := i2cregister.NewWithBus(i2cregister.Config{Bus: "1", Address: 0x37}, r.i2c, sensor.Params{
		Logger: logging.NewTestLogger(t),
		Clock:  r.clk,
	})
	test.That(t, err, test.ShouldBeNil)

	err = Supervise(context.Background(), Options{
		Tasks:     append(r.tasks, second),
		Broadcast: utils.NewBroadcast(),
		Logger:    logging.NewTestLogger(t),
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "more than one i2c sensor configured")
	test.That(t, r.i2c.CloseCount(), test.ShouldEqual, 2)
	test.That(t, r.spi.CloseCount(), test.ShouldEqual, 1)
}
