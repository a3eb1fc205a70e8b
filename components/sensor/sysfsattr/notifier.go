package sysfsattr

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// Notifier kinds.
const (
	NotifierEpoll   = "epoll"
	NotifierInotify = "inotify"
)

// A notifier reports edges on the interrupt attribute.
type notifier interface {
	// Wait blocks until an edge, `cancelled` being closed, or `timeout`. It reports whether an
	// edge occurred.
	Wait(ctx context.Context, cancelled <-chan struct{}, timeout time.Duration) (bool, error)
	Close() error
}

type notifierFactory func(path string, clk clock.Clock) (notifier, error)

func notifierFor(kind string) (notifierFactory, error) {
	switch kind {
	case "", NotifierEpoll:
		return newEpollNotifier, nil
	case NotifierInotify:
		return newInotifyNotifier, nil
	default:
		return nil, errors.Errorf("unknown notifier %q", kind)
	}
}

// inotifyNotifier treats every write to the attribute file as an edge. sysfs does not emit
// inotify events, so this only serves emulated devices backed by regular files.
type inotifyNotifier struct {
	watcher *fsnotify.Watcher
	clk     clock.Clock
}

func newInotifyNotifier(path string, clk clock.Clock) (notifier, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	if err := watcher.Add(path); err != nil {
		//nolint:errcheck
		watcher.Close()
		return nil, errors.Wrapf(err, "failed to watch %s", path)
	}
	return &inotifyNotifier{watcher: watcher, clk: clk}, nil
}

func (n *inotifyNotifier) Wait(ctx context.Context, cancelled <-chan struct{}, timeout time.Duration) (bool, error) {
	timer := n.clk.Timer(timeout)
	defer timer.Stop()
	for {
		select {
		case event, ok := <-n.watcher.Events:
			if !ok {
				return false, errors.New("watcher closed")
			}
			if event.Has(fsnotify.Write) {
				return true, nil
			}
		case err, ok := <-n.watcher.Errors:
			if !ok {
				return false, errors.New("watcher closed")
			}
			return false, err
		case <-timer.C:
			return false, nil
		case <-cancelled:
			return false, nil
		case <-ctx.Done():
			return false, nil
		}
	}
}

func (n *inotifyNotifier) Close() error {
	return n.watcher.Close()
}
