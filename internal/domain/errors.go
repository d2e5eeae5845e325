package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Configuration and resolution errors are fatal for an adapter;
// conversion and evaluation errors fail only the call that raised them.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrResolution    = errors.New("resolution error")
	ErrConversion    = errors.New("conversion error")
	ErrEvaluation    = errors.New("evaluation error")
)

// ErrMissingDefinition is returned when a configuration names neither a class
// nor a serialized class object.
var ErrMissingDefinition = ConfigurationError("Missing class definition")

// Error is a classified failure. It matches its kind sentinel and its cause
// with errors.Is.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

func ConfigurationError(format string, args ...any) error {
	return newError(ErrConfiguration, nil, format, args...)
}

func ResolutionError(format string, args ...any) error {
	return newError(ErrResolution, nil, format, args...)
}

func ConversionError(format string, args ...any) error {
	return newError(ErrConversion, nil, format, args...)
}

func EvaluationError(format string, args ...any) error {
	return newError(ErrEvaluation, nil, format, args...)
}

// WrapResolution classifies cause as a resolution failure unless it already
// carries a kind.
func WrapResolution(cause error, format string, args ...any) error {
	return wrap(ErrResolution, cause, format, args...)
}

// WrapConversion classifies cause as a conversion failure unless it already
// carries a kind.
func WrapConversion(cause error, format string, args ...any) error {
	return wrap(ErrConversion, cause, format, args...)
}

// WrapEvaluation classifies cause as an evaluation failure unless it already
// carries a kind.
func WrapEvaluation(cause error, format string, args ...any) error {
	return wrap(ErrEvaluation, cause, format, args...)
}

func wrap(kind error, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	if k := kindOf(cause); k != nil {
		kind = k
	}
	return newError(kind, cause, format, args...)
}

func kindOf(err error) error {
	for _, k := range []error{ErrConfiguration, ErrResolution, ErrConversion, ErrEvaluation} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// KindOf names the kind of err for transports: "configuration", "resolution",
// "conversion", "evaluation", or "internal" for unclassified errors.
func KindOf(err error) string {
	switch kindOf(err) {
	case ErrConfiguration:
		return "configuration"
	case ErrResolution:
		return "resolution"
	case ErrConversion:
		return "conversion"
	case ErrEvaluation:
		return "evaluation"
	}
	return "internal"
}

// IsFatal reports whether err leaves the adapter unusable.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrResolution)
}
