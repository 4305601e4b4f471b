package webhook

import "errors"

var (
	// ErrSignatureInvalid means the delivery failed signature verification.
	// Never retried; logged as a potential security event.
	ErrSignatureInvalid = errors.New("webhook: invalid signature")
	// ErrMalformedPayload means the body could not be parsed into the
	// expected envelope. Never auto-retried.
	ErrMalformedPayload = errors.New("webhook: malformed payload")
)

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent wraps a handler error so the gateway records the event as
// poisoned and tells the sender to stop retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was wrapped by Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

type rejectedError struct {
	err error
}

func (e rejectedError) Error() string { return e.err.Error() }
func (e rejectedError) Unwrap() error { return e.err }

// Reject wraps a handler error for payloads that parsed but carry invalid
// content. The event is recorded as rejected and the sender gets a 400.
func Reject(err error) error {
	if err == nil {
		return nil
	}
	return rejectedError{err: err}
}

// IsRejected reports whether err was wrapped by Reject.
func IsRejected(err error) bool {
	var r rejectedError
	return errors.As(err, &r)
}
