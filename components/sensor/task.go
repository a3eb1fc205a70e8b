package sensor

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"go.sensorhub.dev/sensorhub/logging"
	"go.sensorhub.dev/sensorhub/utils"
)

// Spawn initializes `task` and, on success, runs it on `workers` until `cancelled` fires.
// Ownership of `sender` passes to Spawn: it is released when the task finishes, or right away
// if Init fails. The hardware resource is closed in both cases.
func Spawn(
	ctx context.Context,
	workers utils.StoppableWorkers,
	task Task,
	sender *Sender,
	cancelled *utils.BroadcastReceiver,
	logger logging.Logger,
) error {
	source := task.Source()
	if err := task.Init(ctx); err != nil {
		sender.Release()
		return multierr.Combine(
			errors.Wrapf(err, "failed to init %s sensor", source),
			errors.Wrapf(task.Close(), "failed to close %s sensor", source),
		)
	}
	logger.Debugw("sensor initialized", "source", source)

	r := &runner{task: task, sender: sender, cancelled: cancelled, logger: logger}
	workers.AddWorkers(r.run)
	return nil
}

type runner struct {
	task      Task
	sender    *Sender
	cancelled *utils.BroadcastReceiver
	logger    logging.Logger

	deinitialized atomic.Bool
}

func (r *runner) run(ctx context.Context) {
	source := r.task.Source()
	for {
		if reading, ok := r.task.Poll(ctx, r.cancelled.Done()); ok {
			if err := r.sender.Send(ctx, reading); err != nil {
				r.logger.Debugw("dropping reading, stopping", "source", source, "error", err)
				r.finish(ctx, false)
				return
			}
		}

		if r.cancelled.TryRecv() {
			r.logger.Debugw("cancellation received, shutting down", "source", source)
			r.finish(ctx, true)
			return
		}

		// The workers were stopped without a cancellation broadcast; nobody is listening for
		// a completion anymore.
		if ctx.Err() != nil {
			r.finish(ctx, false)
			return
		}
	}
}

func (r *runner) finish(ctx context.Context, notify bool) {
	source := r.task.Source()
	if r.deinitialized.CompareAndSwap(false, true) {
		r.task.Deinit(context.WithoutCancel(ctx))
	}
	if notify {
		if err := r.sender.Send(ctx, TaskCompleted{Source: source}); err != nil {
			r.logger.Warnw("could not report task completion", "source", source, "error", err)
		}
	}
	if err := r.task.Close(); err != nil {
		r.logger.Debugw("error closing sensor", "source", source, "error", err)
	}
	r.sender.Release()
}
