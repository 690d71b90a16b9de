package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"git.handmade.network/hmn/assetpipe/src/oops"
	"github.com/stretchr/testify/assert"
)

func TestOrDefault(t *testing.T) {
	assert.Equal(t, "preview", OrDefault("", "preview"))
	assert.Equal(t, "dlq", OrDefault("dlq", "preview"))
	assert.Equal(t, int64(5), OrDefault(int64(0), 5))
}

func TestCeilDiv(t *testing.T) {
	assert.Equal(t, 3, CeilDiv(12, 5))
	assert.Equal(t, 2, CeilDiv(10, 5))
	assert.Equal(t, 1, CeilDiv(1, 256))
	assert.Equal(t, int64(3), CeilDiv64(12_000_000, 5*1024*1024))
	assert.Equal(t, int64(1), CeilDiv64(5*1024*1024, 5*1024*1024))
}

func TestRecoverPanicAsError(t *testing.T) {
	t.Run("error value", func(t *testing.T) {
		sentinel := errors.New("boom")
		f := func() (err error) {
			defer RecoverPanicAsError(&err)
			panic(sentinel)
		}
		err := f()
		assert.True(t, errors.Is(err, sentinel))
		assert.NotEmpty(t, oops.StackOf(err))
	})
	t.Run("non-error value", func(t *testing.T) {
		f := func() (err error) {
			defer RecoverPanicAsError(&err)
			panic("a string")
		}
		err := f()
		assert.Contains(t, err.Error(), "a string")
	})
	t.Run("no panic", func(t *testing.T) {
		f := func() (err error) {
			defer RecoverPanicAsError(&err)
			return nil
		}
		assert.Nil(t, f())
	})
}

func TestSleepContext(t *testing.T) {
	assert.Nil(t, SleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, ErrSleepInterrupted, SleepContext(ctx, time.Hour))
}
