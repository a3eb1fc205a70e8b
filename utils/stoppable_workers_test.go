package utils

import (
	"context"
	"testing"

	"go.uber.org/atomic"
	"go.viam.com/test"
)

func TestStoppableWorkers(t *testing.T) {
	t.Run("stop cancels the context and waits", func(t *testing.T) {
		stopped := atomic.NewInt32(0)
		sw := NewStoppableWorkers(func(ctx context.Context) {
			<-ctx.Done()
			stopped.Inc()
		}, func(ctx context.Context) {
			<-ctx.Done()
			stopped.Inc()
		})
		sw.Stop()
		test.That(t, stopped.Load(), test.ShouldEqual, 2)
		test.That(t, sw.Context().Err(), test.ShouldNotBeNil)
	})

	t.Run("wait returns once workers finish on their own", func(t *testing.T) {
		release := make(chan struct{})
		finished := atomic.NewBool(false)
		sw := NewStoppableWorkers()
		sw.AddWorkers(func(ctx context.Context) {
			<-release
			finished.Store(true)
		})
		close(release)
		sw.Wait()
		test.That(t, finished.Load(), test.ShouldBeTrue)
		test.That(t, sw.Context().Err(), test.ShouldBeNil)
		sw.Stop()
	})

	t.Run("workers added after stop never run", func(t *testing.T) {
		sw := NewStoppableWorkers()
		sw.Stop()
		ran := atomic.NewBool(false)
		sw.AddWorkers(func(ctx context.Context) { ran.Store(true) })
		sw.Wait()
		test.That(t, ran.Load(), test.ShouldBeFalse)
	})

	t.Run("parent context stops workers", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		sw := NewStoppableWorkersWithContext(ctx, func(ctx context.Context) { <-ctx.Done() })
		cancel()
		sw.Wait()
		test.That(t, sw.Context().Err(), test.ShouldNotBeNil)
	})
}
