package utils

import (
	"sync"

	"go.uber.org/atomic"
)

// Broadcast is a one-shot, zero-payload notification fanned out to any number of receivers.
// Receivers created before or after Cancel all observe it.
type Broadcast struct {
	once sync.Once
	done chan struct{}
}

// NewBroadcast returns a Broadcast that has not fired yet.
func NewBroadcast() *Broadcast {
	return &Broadcast{done: make(chan struct{})}
}

// Cancel fires the broadcast. Calling it more than once is a no-op.
func (b *Broadcast) Cancel() {
	b.once.Do(func() { close(b.done) })
}

// Cancelled reports whether Cancel has been called.
func (b *Broadcast) Cancelled() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Subscribe returns a new receiver with its own delivery cursor.
func (b *Broadcast) Subscribe() *BroadcastReceiver {
	return &BroadcastReceiver{done: b.done}
}

// BroadcastReceiver observes a Broadcast. Each receiver delivers the notification exactly once
// through TryRecv, independently of every other receiver.
type BroadcastReceiver struct {
	done      <-chan struct{}
	delivered atomic.Bool
}

// Done returns a channel that is closed once the broadcast fires. Selecting on it does not
// consume the notification.
func (r *BroadcastReceiver) Done() <-chan struct{} {
	return r.done
}

// TryRecv reports, without blocking, whether the broadcast fired. It returns true only on the
// first call after firing.
func (r *BroadcastReceiver) TryRecv() bool {
	select {
	case <-r.done:
		return r.delivered.CompareAndSwap(false, true)
	default:
		return false
	}
}
