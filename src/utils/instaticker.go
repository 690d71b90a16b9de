package utils

import (
	"context"
	"sync"
	"time"
)

// InstaTicker delivers a tick as soon as it is created and then once per
// period, like a time.Ticker that doesn't make you wait for the first one.
// It stops when Stop is called or its context is done, whichever is first.
type InstaTicker struct {
	C <-chan time.Time

	stop     context.CancelFunc
	stopOnce sync.Once
}

func NewInstaTicker(ctx context.Context, d time.Duration) *InstaTicker {
	ctx, cancel := context.WithCancel(ctx)
	c := make(chan time.Time)

	go func() {
		ticker := time.NewTicker(d)
		defer ticker.Stop()

		next := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case c <- next:
			}

			select {
			case <-ctx.Done():
				return
			case next = <-ticker.C:
			}
		}
	}()

	return &InstaTicker{
		C:    c,
		stop: cancel,
	}
}

// Stops the ticker. No tick is delivered after Stop returns. Safe to call more
// than once.
func (it *InstaTicker) Stop() {
	it.stopOnce.Do(it.stop)
}
