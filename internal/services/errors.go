package services

import "errors"

// Errors returned by the consultation services. Handlers translate
// them to HTTP statuses; nothing below this layer knows about HTTP.
var (
	ErrForbidden       = errors.New("not a participant of this consultation")
	ErrDoctorOnly      = errors.New("only the doctor may do this")
	ErrMeetingNotFound = errors.New("consultation not found")
	ErrConflict        = errors.New("consultation is not in the right state for this")
	ErrNotYetStarted   = errors.New("consultation has not started yet")
	ErrSessionClosed   = errors.New("consultation is already over")
)

// StateError carries the live state that defeated a requested
// transition, so handlers can report what the room is doing now.
// It matches the underlying sentinel through errors.Is.
type StateError struct {
	Sentinel error
	State    string
}

func (e *StateError) Error() string { return e.Sentinel.Error() }

func (e *StateError) Unwrap() error { return e.Sentinel }
