package scheduling

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMissingToken is returned before any network I/O when a mutating call is
// attempted without an anti-forgery token.
var ErrMissingToken = errors.New("anti-forgery token missing")

// StatusError is a non-2xx response from the scheduling API.
type StatusError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: API error (status %d): %s", e.Method, e.Path, e.Status, e.Message)
}

// ResolutionFailure means the availability query failed, either in
// transport or with a non-2xx response. Status is 0 for transport failures.
type ResolutionFailure struct {
	Status  int
	Message string
	Err     error
}

func (e *ResolutionFailure) Error() string {
	if e.Status == 0 {
		return "resolving availability: " + e.Message
	}
	return fmt.Sprintf("resolving availability (status %d): %s", e.Status, e.Message)
}

func (e *ResolutionFailure) Unwrap() error { return e.Err }

// ValidationFailure means the API rejected the shape or values of a payload.
type ValidationFailure struct {
	Status  int
	Message string
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("validation failed (status %d): %s", e.Status, e.Message)
}

// BookingConflict means the requested slot is no longer free.
type BookingConflict struct {
	Status  int
	Message string
}

func (e *BookingConflict) Error() string {
	return fmt.Sprintf("booking conflict (status %d): %s", e.Status, e.Message)
}

// ClassifyMutation maps an API error from a create or update into the
// booking taxonomy by response code. Errors it does not recognize are
// returned unchanged.
func ClassifyMutation(err error) error {
	var se *StatusError
	if !errors.As(err, &se) {
		return err
	}
	switch se.Status {
	case http.StatusConflict:
		return &BookingConflict{Status: se.Status, Message: se.Message}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &ValidationFailure{Status: se.Status, Message: se.Message}
	}
	return err
}

// ToResolutionFailure wraps any availability error as a ResolutionFailure.
func ToResolutionFailure(err error) error {
	if err == nil {
		return nil
	}
	var rf *ResolutionFailure
	if errors.As(err, &rf) {
		return rf
	}
	var se *StatusError
	if errors.As(err, &se) {
		return &ResolutionFailure{Status: se.Status, Message: se.Message, Err: err}
	}
	return &ResolutionFailure{Message: err.Error(), Err: err}
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}
