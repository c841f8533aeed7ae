package errorsx

import "errors"

// ReasonedError carries the reason code a failure was classified
// under, alongside the underlying error.
type ReasonedError struct {
	Err    error
	Reason ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e ReasonedError) Unwrap() error {
	return e.Err
}

// Wrap tags an error with a reason code. A nil or already-reasoned
// error passes through unchanged, so call sites closest to the backend
// win the classification.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	var re ReasonedError
	if errors.As(err, &re) {
		return err
	}
	return ReasonedError{Err: err, Reason: reason}
}

// Reason reports the reason code an error chain carries, or
// ReasonUnknown when it was never classified.
func Reason(err error) ReasonCode {
	if err == nil {
		return ReasonUnknown
	}
	var re ReasonedError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ReasonUnknown
}

// HasReason reports whether err was classified under the given code.
func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}
