package book

import "errors"

var (
	// ErrNotFound is returned when a book id does not exist
	ErrNotFound = errors.New("book not found")

	// ErrConflict is returned when an operation is not allowed from the book's current stage
	ErrConflict = errors.New("operation not allowed in current stage")

	// ErrInvalidStage is returned for stage values outside the closed enumeration
	ErrInvalidStage = errors.New("invalid stage")

	// ErrInvalidTransition is returned when a transition is not part of the state machine
	ErrInvalidTransition = errors.New("invalid stage transition")

	// ErrUnknownTheme is returned when a theme identifier cannot be resolved
	ErrUnknownTheme = errors.New("unknown theme")

	// ErrMissingArtifact is returned when a stage starts without an artifact it depends on
	ErrMissingArtifact = errors.New("required artifact missing")
)

// PermanentError marks a failure that retrying cannot fix, such as a provider
// rejecting the input or returning a malformed response.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent error: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as a PermanentError. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err or anything it wraps is permanent.
func IsPermanent(err error) bool {
	var perr *PermanentError
	return errors.As(err, &perr)
}
