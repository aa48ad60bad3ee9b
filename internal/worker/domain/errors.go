package domain

import "errors"

// ErrStageBusy is returned when another worker is running a stage of the same book
var ErrStageBusy = errors.New("stage of this book is already running")

// TransientError marks a processing failure that a later delivery of the
// same message may not hit again. The message is requeued.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err or anything it wraps is a TransientError
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
