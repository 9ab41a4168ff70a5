package llm

import "errors"

// Completion failures carry a retry class: transient failures are worth
// another attempt against the same endpoint, fatal ones mean the request
// or endpoint configuration is wrong and retrying cannot help.

type retryClass int

const (
	classTransient retryClass = iota
	classFatal
)

type classifiedError struct {
	class retryClass
	err   error
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// NewTransientError marks err as retriable: network failures, 429s,
// and 5xx responses.
func NewTransientError(err error) error {
	return &classifiedError{class: classTransient, err: err}
}

// NewFatalError marks err as non-retriable: bad requests, auth
// failures, unknown providers.
func NewFatalError(err error) error {
	return &classifiedError{class: classFatal, err: err}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var ce *classifiedError
	return errors.As(err, &ce) && ce.class == classTransient
}

// IsFatal reports whether err should abort the endpoint attempt.
func IsFatal(err error) bool {
	var ce *classifiedError
	return errors.As(err, &ce) && ce.class == classFatal
}
