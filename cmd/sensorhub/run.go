package main

import (
	"context"
	"io"
	"os"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"go.sensorhub.dev/sensorhub/components/sensor"
	"go.sensorhub.dev/sensorhub/config"
	"go.sensorhub.dev/sensorhub/logging"
	"go.sensorhub.dev/sensorhub/metrics"
	"go.sensorhub.dev/sensorhub/services/aggregator"
	"go.sensorhub.dev/sensorhub/utils"
)

type runOptions struct {
	Config *config.Config
	// ConfigPath, when set, is watched so that log settings can be changed without a restart.
	ConfigPath    string
	Overrides     map[string]interface{}
	Out           io.Writer
	OutIsTerminal bool
	Logger        logging.Logger
}

// run builds the configured sensors and supervises them. Once `interrupt` is done the sensors
// are told to shut down and run returns after every one of them has acknowledged.
func run(interrupt context.Context, opts runOptions) error {
	logger := opts.Logger
	cfg := opts.Config

	var recorder metrics.Recorder = metrics.NoOp()
	var manager *metrics.Manager
	if cfg.Metrics.Addr != "" {
		manager = metrics.NewManager()
		recorder = manager
	}

	tasks, err := buildTasks(interrupt, cfg, sensor.Params{Logger: logger, Recorder: recorder})
	if err != nil {
		return err
	}

	// Shutdown is driven by the broadcast, not by the interrupt context, so the supervisor gets
	// its own context.
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(interrupt))
	defer cancelRun()
	group, groupCtx := errgroup.WithContext(runCtx)

	broadcast := utils.NewBroadcast()
	group.Go(func() error {
		select {
		case <-interrupt.Done():
			logger.Info("interrupt received, shutting down sensors")
			broadcast.Cancel()
		case <-groupCtx.Done():
		}
		return nil
	})

	group.Go(func() error {
		defer cancelRun()
		return aggregator.Supervise(groupCtx, aggregator.Options{
			Tasks:           tasks,
			MailboxCapacity: cfg.Mailbox.Capacity,
			Sink: aggregator.MultiSink{
				aggregator.NewConsoleSink(opts.Out, colorize(cfg.Console.Color, opts.OutIsTerminal)),
				aggregator.LogSink{Logger: logger.Sublogger("readings")},
			},
			Broadcast: broadcast,
			Logger:    logger.Sublogger("aggregator"),
			Recorder:  recorder,
		})
	})

	if manager != nil {
		group.Go(func() error {
			logger.Infow("serving metrics", "addr", cfg.Metrics.Addr)
			return manager.Serve(groupCtx, cfg.Metrics.Addr)
		})
	}

	if opts.ConfigPath != "" {
		watcher, err := config.NewWatcher(opts.ConfigPath, opts.Overrides, logger.Sublogger("config"))
		if err != nil {
			logger.Warnw("config changes will not be picked up", "error", err)
		} else {
			defer func() {
				//nolint:errcheck
				watcher.Close()
			}()
			group.Go(func() error {
				return watcher.Watch(groupCtx, func(newCfg *config.Config) {
					if err := config.UpdateFileLogConfig(newCfg.Log); err != nil {
						logger.Warnw("failed to apply log settings", "error", err)
					}
				})
			})
		}
	}

	return group.Wait()
}

// buildTasks constructs one task per active source. Nothing is initialized yet.
func buildTasks(ctx context.Context, cfg *config.Config, params sensor.Params) ([]sensor.Task, error) {
	sources, err := cfg.ActiveSources()
	if err != nil {
		return nil, err
	}
	tasks := make([]sensor.Task, 0, len(sources))
	for _, source := range sources {
		task, err := sensor.New(ctx, source, cfg.SensorConfig(source), params)
		if err != nil {
			for _, built := range tasks {
				err = multierr.Combine(err, built.Close())
			}
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func colorize(mode string, tty bool) bool {
	switch mode {
	case config.ColorAlways:
		return true
	case config.ColorNever:
		return false
	default:
		return tty
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd())) //nolint:gosec
}
