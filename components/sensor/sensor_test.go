package sensor

import (
	"testing"
	"time"

	"go.viam.com/test"
)

func TestSourceNames(t *testing.T) {
	for _, s := range AllSources {
		parsed, err := ParseSource(s.String())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, parsed, test.ShouldEqual, s)
	}
	parsed, err := ParseSource("mmsens")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, parsed, test.ShouldEqual, Attribute)

	_, err = ParseSource("lidar")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown sensor source")
}

func TestTaskIDs(t *testing.T) {
	test.That(t, TaskID(Attribute), test.ShouldEqual, uint8(0x01))
	test.That(t, TaskID(BusA), test.ShouldEqual, uint8(0x02))
	test.That(t, TaskID(BusB), test.ShouldEqual, uint8(0x04))
	test.That(t, NewTaskSet(AllSources...), test.ShouldEqual, TaskSet(0x07))
}

func TestTaskSet(t *testing.T) {
	set := NewTaskSet(Attribute, BusB)
	test.That(t, set.Has(Attribute), test.ShouldBeTrue)
	test.That(t, set.Has(BusA), test.ShouldBeFalse)
	test.That(t, set.Sources(), test.ShouldResemble, []Source{Attribute, BusB})
	test.That(t, set.String(), test.ShouldEqual, "{attribute,spi}")

	test.That(t, set.Clear(BusA), test.ShouldBeFalse)
	test.That(t, set.Clear(BusB), test.ShouldBeTrue)
	test.That(t, set.Clear(BusB), test.ShouldBeFalse)
	test.That(t, set.Empty(), test.ShouldBeFalse)
	test.That(t, set.Clear(Attribute), test.ShouldBeTrue)
	test.That(t, set.Empty(), test.ShouldBeTrue)
	test.That(t, set.Sources(), test.ShouldBeEmpty)

	test.That(t, set.Has(Source(9)), test.ShouldBeFalse)
}

func TestReadingFormatValue(t *testing.T) {
	ts := time.Now()
	test.That(t, Reading{Source: Attribute, Timestamp: ts, Raw: 7, Value: 7}.FormatValue(), test.ShouldEqual, "7")
	test.That(t, Reading{Source: BusA, Timestamp: ts, Raw: 50, Value: 25}.FormatValue(), test.ShouldEqual, "25.0")
	test.That(t, Reading{Source: BusB, Timestamp: ts, Raw: 181, Value: 90.5}.FormatValue(), test.ShouldEqual, "90.5")
}

func TestUpdateMessageSource(t *testing.T) {
	var msg UpdateMessage = Reading{Source: BusA}
	test.That(t, msg.MessageSource(), test.ShouldEqual, BusA)
	msg = TaskCompleted{Source: BusB}
	test.That(t, msg.MessageSource(), test.ShouldEqual, BusB)
}

func TestNewBusReading(t *testing.T) {
	ts := time.Now()
	r := NewBusReading(BusA, ts, 200)
	test.That(t, r.Raw, test.ShouldEqual, uint32(200))
	test.That(t, r.Value, test.ShouldEqual, 100.0)
	test.That(t, r.FormatValue(), test.ShouldEqual, "100.0")

	r = NewBusReading(BusB, ts, 0)
	test.That(t, r.Value, test.ShouldEqual, 0.0)
	test.That(t, r.FormatValue(), test.ShouldEqual, "0.0")
	test.That(t, r.Timestamp, test.ShouldEqual, ts)
}
