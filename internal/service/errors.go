package service

import "errors"

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrJobNotFinished = errors.New("job not finished")
	ErrJobTerminal    = errors.New("job already completed")
	ErrFileMissing    = errors.New("file not found")
	ErrEngine         = errors.New("engine error")
)

// ValidationError is a request the service refuses before creating a job.
// Its message is safe to show to the caller.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func invalid(reason string) error {
	return &ValidationError{Reason: reason}
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
