package aggregator

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.sensorhub.dev/sensorhub/components/sensor"
	"go.sensorhub.dev/sensorhub/logging"
	"go.sensorhub.dev/sensorhub/metrics"
	"go.sensorhub.dev/sensorhub/utils"
)

// Options configures Supervise.
type Options struct {
	// Tasks are constructed but not yet initialized. They are spawned in order.
	Tasks           []sensor.Task
	MailboxCapacity int
	Sink            Sink
	// Broadcast tells the tasks to shut down. Supervise fires it itself if a task fails to
	// spawn.
	Broadcast *utils.Broadcast
	Logger    logging.Logger
	Recorder  metrics.Recorder
}

// Supervise runs the aggregator and every task until all tasks have acknowledged the
// cancellation broadcast. If a task fails to initialize, the tasks already running are told to
// shut down, the remaining ones are closed without being initialized, and the init error is
// returned once the running ones have finished.
func Supervise(ctx context.Context, opts Options) error {
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger("aggregator")
	}
	if opts.Broadcast == nil {
		return multierr.Combine(errors.New("a cancellation broadcast is required"), closeTasks(opts.Tasks))
	}
	if opts.Sink == nil {
		opts.Sink = LogSink{Logger: opts.Logger}
	}

	var live sensor.TaskSet
	for _, task := range opts.Tasks {
		if live.Has(task.Source()) {
			return multierr.Combine(
				errors.Errorf("more than one %s sensor configured", task.Source()),
				closeTasks(opts.Tasks),
			)
		}
		live |= sensor.NewTaskSet(task.Source())
	}

	mailbox, sender := sensor.NewMailbox(opts.MailboxCapacity)
	agg := New(mailbox, live, opts.Sink, opts.Logger, opts.Recorder)

	workers := utils.NewStoppableWorkersWithContext(ctx)
	defer workers.Stop()

	aggDone := make(chan error, 1)
	workers.AddWorkers(func(ctx context.Context) {
		aggDone <- agg.Run(ctx)
	})

	var spawnErr error
	for idx, task := range opts.Tasks {
		taskSender, err := sender.Clone()
		if err != nil {
			spawnErr = multierr.Combine(err, closeTasks(opts.Tasks[idx:]))
			break
		}
		if err := sensor.Spawn(workers.Context(), workers, task, taskSender, opts.Broadcast.Subscribe(), opts.Logger); err != nil {
			opts.Logger.Errorw("sensor failed to start, shutting down", "source", task.Source().String(), "error", err)
			opts.Broadcast.Cancel()
			spawnErr = multierr.Combine(err, closeTasks(opts.Tasks[idx+1:]))
			break
		}
		opts.Logger.Infow("sensor started", "source", task.Source().String())
	}
	if spawnErr != nil {
		agg.Abort(spawnErr)
	}
	// From here on the mailbox closes as soon as the last task finishes.
	sender.Release()

	if err := <-aggDone; err != nil {
		return multierr.Combine(spawnErr, err)
	}
	workers.Wait()
	return spawnErr
}

func closeTasks(tasks []sensor.Task) error {
	var err error
	for _, task := range tasks {
		err = multierr.Combine(err, errors.Wrapf(task.Close(), "failed to close %s sensor", task.Source()))
	}
	return err
}
