package testsession

import (
	"context"
	"sync"
	"time"
)

// DefaultTickInterval is the countdown resolution.
const DefaultTickInterval = time.Second

// Timer is the cancellable handle for an attempt's countdown.
type Timer struct {
	cancel context.CancelFunc
	exited chan struct{}
	once   sync.Once
}

// StartTimer calls Tick every interval on its own goroutine. The timer stops
// by itself when the attempt leaves ACTIVE, when ctx is cancelled, or when
// Stop is called. The automatic submission keeps ctx's values but not its
// cancellation, so stopping the timer never aborts a result in flight.
func (c *Controller) StartTimer(ctx context.Context, interval time.Duration) *Timer {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	submitCtx := context.WithoutCancel(ctx)
	ctx, cancel := context.WithCancel(ctx)
	t := &Timer{
		cancel: cancel,
		exited: make(chan struct{}),
	}

	go func() {
		defer close(t.exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.Done():
				return
			case <-ticker.C:
				// A stop may race with the tick; never call Tick after it.
				select {
				case <-ctx.Done():
					return
				case <-c.Done():
					return
				default:
				}
				c.Tick(submitCtx)
			}
		}
	}()

	return t
}

// Stop cancels the countdown and waits for the goroutine to exit.
// It is safe to call more than once and from any goroutine except an
// OnChange observer of the same controller.
func (t *Timer) Stop() {
	t.once.Do(t.cancel)
	<-t.exited
}

// Stopped is closed once the countdown goroutine has exited.
func (t *Timer) Stopped() <-chan struct{} {
	return t.exited
}
