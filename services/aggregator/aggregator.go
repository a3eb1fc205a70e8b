// Package aggregator implements the single consumer of sensor updates. It reports readings in
// arrival order and tracks which sensor tasks have not completed yet, returning once all of
// them have.
package aggregator

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"go.sensorhub.dev/sensorhub/components/sensor"
	"go.sensorhub.dev/sensorhub/logging"
	"go.sensorhub.dev/sensorhub/metrics"
)

// A Sink receives what the aggregator observes, in order.
type Sink interface {
	Reading(r sensor.Reading)
	Completed(source sensor.Source)
	AllCompleted()
	// Aborted replaces AllCompleted when a task failed to start.
	Aborted(err error)
}

// Aggregator drains a mailbox until every live task has completed.
type Aggregator struct {
	mailbox  *sensor.Mailbox
	live     sensor.TaskSet
	sink     Sink
	logger   logging.Logger
	recorder metrics.Recorder

	mu       sync.Mutex
	abortErr error
}

// New returns an aggregator waiting on the tasks in `live`.
func New(mailbox *sensor.Mailbox, live sensor.TaskSet, sink Sink, logger logging.Logger, recorder metrics.Recorder) *Aggregator {
	return &Aggregator{
		mailbox:  mailbox,
		live:     live,
		sink:     sink,
		logger:   logger,
		recorder: metrics.OrNoOp(recorder),
	}
}

// Run consumes updates until every live task has reported completion or the mailbox is closed,
// returning nil in both cases. It returns the context error if ctx is done first.
func (a *Aggregator) Run(ctx context.Context) error {
	a.recorder.SetLiveTasks(len(a.live.Sources()))
	for !a.live.Empty() {
		msg, err := a.mailbox.Recv(ctx)
		if err != nil {
			if !errors.Is(err, sensor.ErrMailboxClosed) {
				return err
			}
			// Every sender is gone, so no completion can arrive anymore.
			a.logger.Warnw("mailbox closed before every task completed", "live", a.live.String())
			break
		}

		switch m := msg.(type) {
		case sensor.Reading:
			a.recorder.RecordReading(m.Source.String())
			a.sink.Reading(m)
		case sensor.TaskCompleted:
			a.complete(m.Source)
		default:
			a.logger.Warnf("ignoring unexpected update %T", msg)
		}
	}

	if err := a.abortError(); err != nil {
		a.sink.Aborted(err)
		return nil
	}
	a.sink.AllCompleted()
	return nil
}

// Abort records that startup failed with `err`. Run then ends with Sink.Aborted instead of
// Sink.AllCompleted. It must be called before the last sender is released.
func (a *Aggregator) Abort(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.abortErr = err
}

func (a *Aggregator) abortError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.abortErr
}

func (a *Aggregator) complete(source sensor.Source) {
	if !a.live.Clear(source) {
		a.logger.Warnw("ignoring completion of a task that is not live", "source", source.String())
		return
	}
	a.logger.Debugw("task completed", "source", source.String(), "live", a.live.String())
	a.recorder.RecordTaskCompleted(source.String())
	a.recorder.SetLiveTasks(len(a.live.Sources()))
	a.sink.Completed(source)
}
