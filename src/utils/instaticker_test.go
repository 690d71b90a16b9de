package utils

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInstaTicker(t *testing.T) {
	t.Run("ticks immediately", func(t *testing.T) {
		it := NewInstaTicker(context.Background(), time.Hour)
		defer it.Stop()

		select {
		case <-it.C:
		case <-time.After(time.Second):
			assert.Fail(t, "expected an immediate tick")
		}
	})
	t.Run("no ticks after stop", func(t *testing.T) {
		it := NewInstaTicker(context.Background(), time.Millisecond * 20)
		var ticks atomic.Int32
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case <-it.C:
					ticks.Add(1)
				case <-time.After(200 * time.Millisecond):
					return
				}
			}
		}()
		time.Sleep(100 * time.Millisecond)
		it.Stop()
		<-done
		seen := ticks.Load()
		assert.GreaterOrEqual(t, seen, int32(2))

		select {
		case <-it.C:
			assert.Fail(t, "No more ticks should be received after stop")
		default:
		}
	})
	t.Run("stop", func(t *testing.T) {
		t.Run("never consumed a tick", func(t *testing.T) {
			it := NewInstaTicker(context.Background(), time.Second * 100)
			it.Stop()
		})
		t.Run("consumed initial tick", func(t *testing.T) {
			it := NewInstaTicker(context.Background(), time.Millisecond * 50)
			<-it.C
			it.Stop()
		})
		t.Run("consumed one ticker tick", func(t *testing.T) {
			it := NewInstaTicker(context.Background(), time.Millisecond * 50)
			<-it.C
			<-it.C
			it.Stop()
		})
		t.Run("twice", func(t *testing.T) {
			it := NewInstaTicker(context.Background(), time.Second)
			it.Stop()
			it.Stop()
		})
	})
	t.Run("context canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		it := NewInstaTicker(ctx, time.Millisecond*10)
		<-it.C
		cancel()
		time.Sleep(50 * time.Millisecond)

		select {
		case <-it.C:
			assert.Fail(t, "No ticks should be received after the context is done")
		case <-time.After(100 * time.Millisecond):
		}
	})
}
