// Package sensor defines the sensor task capability shared by every hardware backend, the
// messages tasks report to the aggregator, and the mailbox those messages travel through.
package sensor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Source identifies one of the hardware backends.
type Source int

// The known sources. Their order is the order in which they are spawned.
const (
	Attribute Source = iota
	BusA
	BusB
)

// AllSources lists every known source in spawn order.
var AllSources = []Source{Attribute, BusA, BusB}

func (s Source) String() string {
	switch s {
	case Attribute:
		return "attribute"
	case BusA:
		return "i2c"
	case BusB:
		return "spi"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// ParseSource is the inverse of Source.String.
func ParseSource(name string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "attribute", "mmsens":
		return Attribute, nil
	case "i2c":
		return BusA, nil
	case "spi":
		return BusB, nil
	default:
		return 0, errors.Errorf("unknown sensor source %q", name)
	}
}

// TaskID returns the bit that represents `s` in a TaskSet.
func TaskID(s Source) uint8 {
	switch s {
	case Attribute:
		return 0x01
	case BusA:
		return 0x02
	case BusB:
		return 0x04
	default:
		return 0
	}
}

// TaskSet is a bitmask of sources whose tasks have not completed yet.
type TaskSet uint8

// NewTaskSet returns a set containing `sources`.
func NewTaskSet(sources ...Source) TaskSet {
	var set TaskSet
	for _, s := range sources {
		set |= TaskSet(TaskID(s))
	}
	return set
}

// Has reports whether `s` is in the set.
func (ts TaskSet) Has(s Source) bool {
	id := TaskSet(TaskID(s))
	return id != 0 && ts&id == id
}

// Clear removes `s` from the set and reports whether it was present.
func (ts *TaskSet) Clear(s Source) bool {
	if !ts.Has(s) {
		return false
	}
	*ts &^= TaskSet(TaskID(s))
	return true
}

// Empty reports whether no sources are left.
func (ts TaskSet) Empty() bool {
	return ts == 0
}

// Sources returns the members of the set in spawn order.
func (ts TaskSet) Sources() []Source {
	var out []Source
	for _, s := range AllSources {
		if ts.Has(s) {
			out = append(out, s)
		}
	}
	return out
}

func (ts TaskSet) String() string {
	names := make([]string, 0, len(AllSources))
	for _, s := range ts.Sources() {
		names = append(names, s.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

// UpdateMessage is a message sent from a sensor task to the aggregator. It is either a Reading
// or a TaskCompleted.
type UpdateMessage interface {
	MessageSource() Source
	isUpdateMessage()
}

// Reading is a single measurement. Raw is the integer device value and Value its engineering
// unit rendition.
type Reading struct {
	Source    Source
	Timestamp time.Time
	Raw       uint32
	Value     float64
}

// MessageSource returns the source that produced the reading.
func (r Reading) MessageSource() Source { return r.Source }

func (Reading) isUpdateMessage() {}

// NewBusReading returns a reading from a bus temperature register, which counts half units.
func NewBusReading(source Source, ts time.Time, raw byte) Reading {
	return Reading{Source: source, Timestamp: ts, Raw: uint32(raw), Value: float64(raw) / 2.0}
}

// FormatValue renders the value the way the console prints it: attribute readings as
// integers, bus readings with one decimal.
func (r Reading) FormatValue() string {
	if r.Source == Attribute {
		return strconv.FormatUint(uint64(r.Raw), 10)
	}
	return strconv.FormatFloat(r.Value, 'f', 1, 64)
}

// TaskCompleted is sent exactly once by a task after it has deinitialized its hardware.
type TaskCompleted struct {
	Source Source
}

// MessageSource returns the source whose task completed.
func (c TaskCompleted) MessageSource() Source { return c.Source }

func (TaskCompleted) isUpdateMessage() {}

// A Task drives one hardware sensor. Constructors open the hardware resource; Spawn takes care
// of the rest of its lifecycle.
type Task interface {
	Source() Source
	// Init configures the hardware. A failure is fatal for the task.
	Init(ctx context.Context) error
	// Deinit restores the hardware to an idle state. It is best effort.
	Deinit(ctx context.Context)
	// Poll waits at most one poll interval for a reading. It returns early when `cancelled`
	// is closed. A false return means no reading this cycle.
	Poll(ctx context.Context, cancelled <-chan struct{}) (Reading, bool)
	// Close releases the hardware resource.
	Close() error
}
