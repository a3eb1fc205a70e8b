package sysfsattr

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"
)

func TestEpollNotifierTimesOut(t *testing.T) {
	r, w, err := os.Pipe()
	test.That(t, err, test.ShouldBeNil)
	defer func() { test.That(t, w.Close(), test.ShouldBeNil) }()

	n, err := watchFile(r)
	test.That(t, err, test.ShouldBeNil)

	// data on the pipe is not an interrupt: only POLLPRI/POLLERR are edges
	_, err = w.Write([]byte("1\n"))
	test.That(t, err, test.ShouldBeNil)

	timeout := 30 * time.Millisecond
	start := time.Now()
	edge, err := n.Wait(context.Background(), nil, timeout)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, edge, test.ShouldBeFalse)
	test.That(t, time.Since(start), test.ShouldBeGreaterThanOrEqualTo, timeout-5*time.Millisecond)

	test.That(t, n.Close(), test.ShouldBeNil)
}

func TestEpollNotifierMissingAttribute(t *testing.T) {
	_, err := newEpollNotifier(filepath.Join(t.TempDir(), interruptAttr), clock.New())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "failed to open")
}
