package lottery

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors so callers can react without string matching.
type Kind int

const (
	KindInvalidParameter Kind = iota + 1
	KindAlgorithm
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindInvalidParameter:
		return "invalid parameter"
	case KindAlgorithm:
		return "algorithm error"
	case KindNotFound:
		return "not found"
	default:
		return "unknown error"
	}
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidParameter = &Error{Kind: KindInvalidParameter}
	ErrAlgorithm        = &Error{Kind: KindAlgorithm}
	ErrNotFound         = &Error{Kind: KindNotFound}
)

// Error is the engine error type. Err holds the underlying cause, if any.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg == "" && e.Err == nil:
		return e.Kind.String()
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Msg == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the package sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// InvalidParameter reports malformed or empty caller input.
func InvalidParameter(format string, args ...any) error {
	return &Error{Kind: KindInvalidParameter, Msg: fmt.Sprintf(format, args...)}
}

// AlgorithmError reports a model-internal failure.
func AlgorithmError(format string, args ...any) error {
	return &Error{Kind: KindAlgorithm, Msg: fmt.Sprintf(format, args...)}
}

// WrapAlgorithm turns err (typically I/O or decoding) into an algorithm error.
func WrapAlgorithm(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindAlgorithm, Msg: fmt.Sprintf(format, args...), Err: err}
}

// NotFound reports a missing registry entry or record.
func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or 0 when err is not an engine error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
