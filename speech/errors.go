package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common errors for the speech pipeline.
var (
	// Generation errors
	ErrInvalidText      = errors.New("text is empty or unspeakable")
	ErrVoiceUnavailable = errors.New("no voice available for tier")
	ErrOutOfMemory      = errors.New("generator ran out of memory")
	ErrQueueFull        = errors.New("generation queue is full")
	ErrTierBusy         = errors.New("segment is generating at a different tier")
	ErrGenerationFailed = errors.New("audio generation failed")

	// Lifecycle errors
	ErrCanceled = errors.New("operation was canceled")
	ErrTimeout  = errors.New("operation timed out")
	ErrClosed   = errors.New("coordinator has been shut down")

	// Playback errors
	ErrNoChapter           = errors.New("no chapter loaded")
	ErrInvalidSegmentIndex = errors.New("invalid segment index")
	ErrInvalidState        = errors.New("invalid state for operation")
)

// ErrorKind classifies a generation failure for retry decisions.
type ErrorKind int

const (
	// KindTransient covers network, rate-limit, and allocation failures.
	// Retried with backoff.
	KindTransient ErrorKind = iota
	// KindPermanent covers bad input and unsupported voices. Never retried.
	KindPermanent
	// KindTimeout is a transient subtype with an explicit budget.
	KindTimeout
	// KindCanceled means the caller stopped on purpose. Never retried.
	KindCanceled
)

// String returns the string representation of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Retryable reports whether failures of this kind may be retried.
func (k ErrorKind) Retryable() bool {
	return k == KindTransient || k == KindTimeout
}

// GenError is a normalized generation failure. The coordinator wraps every
// raw engine error in one of these before it crosses its boundary.
type GenError struct {
	Kind     ErrorKind
	Chapter  string
	Index    int
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *GenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generate segment %d (%s): %v", e.Index, e.Kind, e.Err)
	}
	return fmt.Sprintf("generate segment %d (%s)", e.Index, e.Kind)
}

// Unwrap returns the underlying error.
func (e *GenError) Unwrap() error {
	return e.Err
}

// Classify maps a raw error onto the retry taxonomy. Unknown errors are
// treated as transient: a flaky generator is the common case, and permanent
// failures must be reported explicitly by the engine.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindTransient
	}

	var ge *GenError
	if errors.As(err, &ge) {
		return ge.Kind
	}

	switch {
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled), errors.Is(err, ErrClosed):
		return KindCanceled
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrInvalidText), errors.Is(err, ErrVoiceUnavailable):
		return KindPermanent
	}

	return KindTransient
}

// IsMemoryError reports whether err looks like an exhausted or corrupted
// generator execution context. These are transient but additionally warrant
// an engine restart before the next attempt.
func IsMemoryError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOutOfMemory) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "out of memory") ||
		strings.Contains(msg, "allocation failed") ||
		strings.Contains(msg, "oom")
}
