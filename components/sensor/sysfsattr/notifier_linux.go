package sysfsattr

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// epollNotifier waits for sysfs_notify on the attribute. sysfs signals it with POLLPRI|POLLERR
// and the attribute must be read from offset 0 again to re-arm.
type epollNotifier struct {
	file *os.File
	epfd int
	buf  []byte
}

func newEpollNotifier(path string, _ clock.Clock) (notifier, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	return watchFile(file)
}

// watchFile takes ownership of `file`.
func watchFile(file *os.File) (*epollNotifier, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "epoll_create1"), file.Close())
	}
	n := &epollNotifier{file: file, epfd: epfd, buf: make([]byte, 64)}

	fd := int(file.Fd())
	event := unix.EpollEvent{Events: unix.EPOLLPRI | unix.EPOLLERR | unix.EPOLLET, Fd: int32(fd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "epoll_ctl"), n.Close())
	}
	// A pending notification from before we started is not an edge.
	n.rearm()
	return n, nil
}

func (n *epollNotifier) rearm() {
	if _, err := n.file.Seek(0, io.SeekStart); err != nil {
		return
	}
	//nolint:errcheck
	n.file.Read(n.buf)
}

// Wait cannot select on `cancelled`; it returns within `timeout` instead.
func (n *epollNotifier) Wait(ctx context.Context, cancelled <-chan struct{}, timeout time.Duration) (bool, error) {
	events := make([]unix.EpollEvent, 1)
	count, err := unix.EpollWait(n.epfd, events, int(timeout/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, errors.Wrap(err, "epoll_wait")
	}
	if count == 0 {
		return false, nil
	}
	n.rearm()
	return true, nil
}

func (n *epollNotifier) Close() error {
	return multierr.Combine(unix.Close(n.epfd), n.file.Close())
}
