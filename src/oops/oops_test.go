package oops

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

var SampleErrorValue = errors.New("some error occurred that you should handle")

type SampleErrorType struct {
	Message string
}

func (s SampleErrorType) Error() string {
	return s.Message
}

func init() {
	zerolog.ErrorStackMarshaler = ZerologStackMarshaler
}

func TestNew(t *testing.T) {
	t.Run("errors.Is", func(t *testing.T) {
		err := New(SampleErrorValue, "test error")
		if !errors.Is(err, SampleErrorValue) {
			t.Fatal("error did not appear to wrap the sample value")
		}
	})
	t.Run("errors.As", func(t *testing.T) {
		err := New(SampleErrorType{Message: "some fancy error type has occurred"}, "test error")
		var sErr SampleErrorType
		if !errors.As(err, &sErr) {
			t.Fatal("error did not appear to wrap the sample error type")
		}
	})
	t.Run("message without wrapped error", func(t *testing.T) {
		err := New(nil, "nothing underneath %d", 3)
		assert.Equal(t, "nothing underneath 3", err.Error())
	})
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(nil))
	assert.Equal(t, KindInternal, KindOf(SampleErrorValue))
	assert.Equal(t, KindValidation, KindOf(Validation("bad part number %d", 0)))
	assert.Equal(t, KindConflict, KindOf(Conflict("session is completed")))
	assert.Equal(t, KindNotFound, KindOf(NotFound("no such session")))
	assert.Equal(t, KindStorage, KindOf(Storage(SampleErrorValue, "commit failed")))
	assert.Equal(t, KindRender, KindOf(Render(SampleErrorValue, "pdftoppm failed")))

	t.Run("kind survives wrapping", func(t *testing.T) {
		err := New(Storage(SampleErrorValue, "download failed"), "job failed")
		assert.Equal(t, KindStorage, KindOf(err))
		assert.True(t, Is(err, KindStorage))

		wrapped := fmt.Errorf("outer: %w", err)
		assert.Equal(t, KindStorage, KindOf(wrapped))
		assert.True(t, errors.Is(wrapped, SampleErrorValue))
	})
}

func TestStack(t *testing.T) {
	err := Render(nil, "no output")
	stack := StackOf(err)
	if assert.NotEmpty(t, stack) {
		assert.Contains(t, stack[0].Function, "TestStack")
	}
	assert.Contains(t, stack.String(), "oops_test.go")
	assert.Nil(t, StackOf(SampleErrorValue))
}
