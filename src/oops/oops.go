package oops

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-stack/stack"
	"github.com/rs/zerolog"
)

// Kind classifies an error for the purposes of HTTP status mapping and worker
// failure routing. Most errors are KindInternal; the others are produced by the
// constructors below.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindStorage
	KindRender
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindStorage:
		return "storage"
	case KindRender:
		return "render"
	default:
		return "internal"
	}
}

type Error struct {
	Kind    Kind
	Message string
	Wrapped error
	Stack   CallStack
}

func (e *Error) Error() string {
	if e.Wrapped == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Wrapped)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

type CallStack []StackFrame

func (s CallStack) MarshalZerologArray(a *zerolog.Array) {
	for _, frame := range s {
		a.Object(frame)
	}
}

func (s CallStack) String() string {
	var b strings.Builder
	for _, frame := range s {
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
	}
	return b.String()
}

type StackFrame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

func (f StackFrame) MarshalZerologObject(e *zerolog.Event) {
	e.
		Str("file", f.File).
		Int("line", f.Line).
		Str("function", f.Function)
}

var ZerologStackMarshaler = func(err error) interface{} {
	var asOops *Error
	if errors.As(err, &asOops) {
		return asOops.Stack
	}
	return nil
}

func New(wrapped error, format string, args ...interface{}) error {
	return newWithKind(KindInternal, wrapped, format, args...)
}

// Validation marks malformed or out-of-range input. No side effects may have
// happened by the time one of these is returned.
func Validation(format string, args ...interface{}) error {
	return newWithKind(KindValidation, nil, format, args...)
}

// Conflict marks an operation that is not valid for the current state of a
// resource.
func Conflict(format string, args ...interface{}) error {
	return newWithKind(KindConflict, nil, format, args...)
}

func NotFound(format string, args ...interface{}) error {
	return newWithKind(KindNotFound, nil, format, args...)
}

// Storage wraps a failure of the object store, transient or otherwise.
func Storage(wrapped error, format string, args ...interface{}) error {
	return newWithKind(KindStorage, wrapped, format, args...)
}

// Render wraps a failure to derive renditions from a source file: corrupt
// input, unsupported codecs, missing external tools.
func Render(wrapped error, format string, args ...interface{}) error {
	return newWithKind(KindRender, wrapped, format, args...)
}

// KindOf returns the first non-internal kind found in the error chain, or
// KindInternal if there is none.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind != KindInternal {
			return e.Kind
		}
		err = errors.Unwrap(err)
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// StackOf returns the call stack of the outermost oops error in the chain.
func StackOf(err error) CallStack {
	var asOops *Error
	if errors.As(err, &asOops) {
		return asOops.Stack
	}
	return nil
}

func Trace() CallStack {
	trace := stack.Trace().TrimRuntime()
	frames := make(CallStack, len(trace))
	for i, call := range trace {
		callFrame := call.Frame()
		frames[i] = StackFrame{
			File:     callFrame.File,
			Line:     callFrame.Line,
			Function: callFrame.Function,
		}
	}
	return frames
}

func newWithKind(kind Kind, wrapped error, format string, args ...interface{}) error {
	trace := Trace()
	// Drop the frames for Trace, newWithKind, and the exported constructor.
	if len(trace) > 3 {
		trace = trace[3:]
	}

	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Wrapped: wrapped,
		Stack:   trace,
	}
}
