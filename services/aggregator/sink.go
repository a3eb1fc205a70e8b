package aggregator

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"go.sensorhub.dev/sensorhub/components/sensor"
	"go.sensorhub.dev/sensorhub/logging"
)

// ConsoleSink prints readings and shutdown progress, one line each.
type ConsoleSink struct {
	mu       sync.Mutex
	out      io.Writer
	colorize bool
	colors   map[sensor.Source]*color.Color
}

// NewConsoleSink returns a sink writing to `out`. Source tags are colored when `colorize` is set.
func NewConsoleSink(out io.Writer, colorize bool) *ConsoleSink {
	colors := map[sensor.Source]*color.Color{
		sensor.Attribute: color.New(color.FgCyan, color.Bold),
		sensor.BusA:      color.New(color.FgGreen, color.Bold),
		sensor.BusB:      color.New(color.FgMagenta, color.Bold),
	}
	for _, c := range colors {
		if colorize {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return &ConsoleSink{out: out, colorize: colorize, colors: colors}
}

func (cs *ConsoleSink) tag(source sensor.Source) string {
	if c, ok := cs.colors[source]; ok {
		return c.Sprint(source.String())
	}
	return source.String()
}

func (cs *ConsoleSink) println(line string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	//nolint:errcheck
	fmt.Fprintln(cs.out, line)
}

// Reading prints "[timestamp] source: value".
func (cs *ConsoleSink) Reading(r sensor.Reading) {
	ts := r.Timestamp.UTC().Format(logging.DefaultTimeFormatStr)
	cs.println(fmt.Sprintf("[%s] %s: %s", ts, cs.tag(r.Source), r.FormatValue()))
}

// Completed prints that `source` acknowledged the cancellation.
func (cs *ConsoleSink) Completed(source sensor.Source) {
	cs.println(fmt.Sprintf("%s: cancellation acknowledged", cs.tag(source)))
}

// AllCompleted prints the final line.
func (cs *ConsoleSink) AllCompleted() {
	cs.println("all tasks are done, exit")
}

// Aborted prints the final line of a run whose startup failed.
func (cs *ConsoleSink) Aborted(err error) {
	cs.println(fmt.Sprintf("startup failed, exit: %v", err))
}

// Event is one observation recorded by a RecordingSink.
type Event struct {
	Kind    string // "reading", "completed", "done" or "aborted"
	Source  sensor.Source
	Reading sensor.Reading
	Err     error
}

// RecordingSink keeps every observation in memory.
type RecordingSink struct {
	mu     sync.Mutex
	events []Event
}

// Reading records a reading.
func (rs *RecordingSink) Reading(r sensor.Reading) {
	rs.add(Event{Kind: "reading", Source: r.Source, Reading: r})
}

// Completed records a task completion.
func (rs *RecordingSink) Completed(source sensor.Source) {
	rs.add(Event{Kind: "completed", Source: source})
}

// AllCompleted records the end of aggregation.
func (rs *RecordingSink) AllCompleted() {
	rs.add(Event{Kind: "done"})
}

// Aborted records a failed startup.
func (rs *RecordingSink) Aborted(err error) {
	rs.add(Event{Kind: "aborted", Err: err})
}

func (rs *RecordingSink) add(e Event) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.events = append(rs.events, e)
}

// Events returns the recorded observations, oldest first.
func (rs *RecordingSink) Events() []Event {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]Event(nil), rs.events...)
}

// Readings returns only the recorded readings.
func (rs *RecordingSink) Readings() []sensor.Reading {
	var out []sensor.Reading
	for _, e := range rs.Events() {
		if e.Kind == "reading" {
			out = append(out, e.Reading)
		}
	}
	return out
}

// LogSink logs every observation at debug level.
type LogSink struct {
	Logger logging.Logger
}

// Reading logs a reading.
func (ls LogSink) Reading(r sensor.Reading) {
	ls.Logger.Debugw("reading", "source", r.Source.String(), "raw", r.Raw, "value", r.FormatValue())
}

// Completed logs a task completion.
func (ls LogSink) Completed(source sensor.Source) {
	ls.Logger.Debugw("cancellation acknowledged", "source", source.String())
}

// AllCompleted logs the end of aggregation.
func (ls LogSink) AllCompleted() {
	ls.Logger.Info("all tasks are done")
}

// Aborted logs a failed startup.
func (ls LogSink) Aborted(err error) {
	ls.Logger.Errorw("startup failed", "error", err)
}

// MultiSink fans every observation out to several sinks.
type MultiSink []Sink

// Reading forwards to every sink.
func (ms MultiSink) Reading(r sensor.Reading) {
	for _, s := range ms {
		s.Reading(r)
	}
}

// Completed forwards to every sink.
func (ms MultiSink) Completed(source sensor.Source) {
	for _, s := range ms {
		s.Completed(source)
	}
}

// AllCompleted forwards to every sink.
func (ms MultiSink) AllCompleted() {
	for _, s := range ms {
		s.AllCompleted()
	}
}

// Aborted forwards to every sink.
func (ms MultiSink) Aborted(err error) {
	for _, s := range ms {
		s.Aborted(err)
	}
}
