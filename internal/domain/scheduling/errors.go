package scheduling

import "errors"

// Errors returned by the booking core. Callers match them with errors.Is.
var (
	ErrSlotUnavailable     = errors.New("time slot is already booked")
	ErrInvalidInput        = errors.New("invalid input")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrInvalidTransition   = errors.New("invalid status transition")

	// ErrDuplicateInterval is returned by stores when the uniqueness
	// constraint on (doctor, start) rejects an insert.
	ErrDuplicateInterval = errors.New("appointment interval already taken")
)

// upstream marks err as a collaborator failure while keeping the cause.
func upstream(err error) error {
	if err == nil || errors.Is(err, ErrUpstreamUnavailable) {
		return err
	}
	return errors.Join(ErrUpstreamUnavailable, err)
}
