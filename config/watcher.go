package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"go.sensorhub.dev/sensorhub/logging"
)

const defaultDebounce = 200 * time.Millisecond

// Watcher reloads a configuration file whenever it changes on disk.
type Watcher struct {
	path      string
	overrides map[string]interface{}
	debounce  time.Duration
	logger    logging.Logger
	watcher   *fsnotify.Watcher
}

// NewWatcher watches `path`. Reloads apply the same `overrides` as the initial Load.
func NewWatcher(path string, overrides map[string]interface{}, logger logging.Logger) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("config path is required for watching")
	}
	fswatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	// Watch the directory: editors often replace the file instead of writing it in place.
	if err := fswatcher.Add(filepath.Dir(path)); err != nil {
		//nolint:errcheck
		fswatcher.Close()
		return nil, errors.Wrapf(err, "failed to watch %s", path)
	}
	return &Watcher{
		path:      filepath.Clean(path),
		overrides: overrides,
		debounce:  defaultDebounce,
		logger:    logger,
		watcher:   fswatcher,
	}, nil
}

// Watch calls `onChange` with every successfully reloaded configuration until ctx is done.
// Bursts of events are coalesced into a single reload. Invalid files are logged and skipped.
func (w *Watcher) Watch(ctx context.Context, onChange func(*Config)) error {
	debounced := debounce.New(w.debounce)
	reload := func() {
		if ctx.Err() != nil {
			return
		}
		cfg, err := Load(w.path, w.overrides)
		if err != nil {
			w.logger.Warnw("ignoring invalid config change", "path", w.path, "error", err)
			return
		}
		w.logger.Infow("config reloaded", "path", w.path)
		onChange(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			debounced(reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warnw("config watcher error", "error", err)
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
