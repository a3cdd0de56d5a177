package queue

import (
	"errors"
	"fmt"
)

// Kind classifies how an attempt ended
type Kind int

const (
	KindSuccess Kind = iota
	KindRetryable
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRetryable:
		return "retryable"
	case KindFatal:
		return "fatal"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Outcome is the result a Handler reports for one attempt. The runner alone
// decides whether a retryable outcome is attempted again.
type Outcome struct {
	Kind Kind
	Err  error
}

// Success reports a completed job
func Success() Outcome {
	return Outcome{Kind: KindSuccess}
}

// Retryable reports a transient failure
func Retryable(err error) Outcome {
	return Outcome{Kind: KindRetryable, Err: err}
}

// Fatal reports a failure that must not be retried
func Fatal(err error) Outcome {
	return Outcome{Kind: KindFatal, Err: err}
}

// RetriableError is implemented by errors that know whether a retry may help
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable reports whether err, or an error it wraps, asks to be retried
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// transientError marks a wrapped error as retriable
type transientError struct {
	err error
}

func (e *transientError) Error() string     { return e.err.Error() }
func (e *transientError) Unwrap() error     { return e.err }
func (e *transientError) IsRetriable() bool { return true }

// Transient marks err as worth another attempt. It returns nil for nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Classify maps err onto an outcome: nil is success, errors that declare
// themselves retriable are retryable, everything else is fatal
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Success()
	case IsRetriable(err):
		return Retryable(err)
	default:
		return Fatal(err)
	}
}
