package sensor

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// DefaultMailboxCapacity is the number of in-flight messages a mailbox buffers before senders
// block.
const DefaultMailboxCapacity = 10

var (
	// ErrMailboxClosed is returned by Recv once every sender has been released and every
	// buffered message has been received.
	ErrMailboxClosed = errors.New("mailbox closed: all senders released")
	// ErrSenderReleased is returned when sending through a released sender.
	ErrSenderReleased = errors.New("sender already released")
)

// Mailbox is a bounded, ordered, multi-producer single-consumer queue of UpdateMessages.
type Mailbox struct {
	ch chan UpdateMessage

	mu      sync.Mutex
	senders int
}

// NewMailbox returns a mailbox with room for `capacity` messages and its first sender.
// A non-positive capacity selects DefaultMailboxCapacity.
func NewMailbox(capacity int) (*Mailbox, *Sender) {
	if capacity <= 0 {
		capacity = DefaultMailboxCapacity
	}
	mb := &Mailbox{ch: make(chan UpdateMessage, capacity), senders: 1}
	return mb, &Sender{mb: mb}
}

// Cap returns the mailbox capacity.
func (mb *Mailbox) Cap() int {
	return cap(mb.ch)
}

// Len returns the number of buffered messages.
func (mb *Mailbox) Len() int {
	return len(mb.ch)
}

// Recv blocks until a message is available. It returns ErrMailboxClosed once the mailbox is
// closed and drained, or the context error if ctx is done first.
func (mb *Mailbox) Recv(ctx context.Context) (UpdateMessage, error) {
	select {
	case msg, ok := <-mb.ch:
		if !ok {
			return nil, ErrMailboxClosed
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (mb *Mailbox) release() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.senders--
	if mb.senders == 0 {
		close(mb.ch)
	}
}

// Sender is a producer handle on a Mailbox. Each sender must be released exactly once; the
// mailbox closes when the last one is.
type Sender struct {
	mb       *Mailbox
	released atomic.Bool
}

// Clone returns an additional sender on the same mailbox.
func (s *Sender) Clone() (*Sender, error) {
	if s.released.Load() {
		return nil, ErrSenderReleased
	}
	s.mb.mu.Lock()
	s.mb.senders++
	s.mb.mu.Unlock()
	return &Sender{mb: s.mb}, nil
}

// Send enqueues `msg`, blocking while the mailbox is full. Messages are never dropped; Send only
// gives up when ctx is done.
func (s *Sender) Send(ctx context.Context, msg UpdateMessage) error {
	if s.released.Load() {
		return ErrSenderReleased
	}
	select {
	case s.mb.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release gives up this sender. Further calls are no-ops.
func (s *Sender) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.mb.release()
	}
}
