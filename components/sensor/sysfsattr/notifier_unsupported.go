//go:build !linux

package sysfsattr

import (
	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

func newEpollNotifier(path string, _ clock.Clock) (notifier, error) {
	return nil, errors.New("the epoll notifier is only supported on linux")
}
