package sensor

import (
	"context"
	"testing"
	"time"

	"go.uber.org/atomic"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"
)

func TestMailboxBackpressure(t *testing.T) {
	ctx := context.Background()
	mb, sender := NewMailbox(0)
	test.That(t, mb.Cap(), test.ShouldEqual, DefaultMailboxCapacity)

	const total = 15
	var sent atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer sender.Release()
		for i := 0; i < total; i++ {
			test.That(t, sender.Send(ctx, Reading{Source: Attribute, Raw: uint32(i)}), test.ShouldBeNil)
			sent.Inc()
		}
	}()

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, sent.Load(), test.ShouldEqual, int32(DefaultMailboxCapacity))
	})
	// The eleventh send stays blocked until a slot is drained.
	time.Sleep(50 * time.Millisecond)
	test.That(t, sent.Load(), test.ShouldEqual, int32(DefaultMailboxCapacity))
	test.That(t, mb.Len(), test.ShouldEqual, DefaultMailboxCapacity)

	msg, err := mb.Recv(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, msg.(Reading).Raw, test.ShouldEqual, uint32(0))
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, sent.Load(), test.ShouldEqual, int32(DefaultMailboxCapacity+1))
	})

	for i := 1; i < total; i++ {
		msg, err := mb.Recv(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, msg.(Reading).Raw, test.ShouldEqual, uint32(i))
	}
	<-done

	_, err = mb.Recv(ctx)
	test.That(t, err, test.ShouldBeError, ErrMailboxClosed)
}

func TestMailboxClosesAfterLastSender(t *testing.T) {
	ctx := context.Background()
	mb, first := NewMailbox(2)
	second, err := first.Clone()
	test.That(t, err, test.ShouldBeNil)

	test.That(t, first.Send(ctx, TaskCompleted{Source: BusA}), test.ShouldBeNil)
	first.Release()
	first.Release()
	test.That(t, first.Send(ctx, TaskCompleted{Source: BusA}), test.ShouldBeError, ErrSenderReleased)
	_, err = first.Clone()
	test.That(t, err, test.ShouldBeError, ErrSenderReleased)

	test.That(t, second.Send(ctx, TaskCompleted{Source: BusB}), test.ShouldBeNil)
	second.Release()

	// Buffered messages drain before the closed state is reported.
	msg, err := mb.Recv(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, msg, test.ShouldResemble, TaskCompleted{Source: BusA})
	msg, err = mb.Recv(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, msg, test.ShouldResemble, TaskCompleted{Source: BusB})
	_, err = mb.Recv(ctx)
	test.That(t, err, test.ShouldBeError, ErrMailboxClosed)
}

func TestMailboxRespectsContext(t *testing.T) {
	mb, sender := NewMailbox(1)
	defer sender.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := mb.Recv(ctx)
	test.That(t, err, test.ShouldBeError, context.Canceled)

	test.That(t, sender.Send(context.Background(), Reading{}), test.ShouldBeNil)
	test.That(t, sender.Send(ctx, Reading{}), test.ShouldBeError, context.Canceled)
}
