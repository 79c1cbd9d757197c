package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AppointmentRepository is the appointment store the booking core reads
// from and writes to.
type AppointmentRepository interface {
	// Create persists a new appointment, assigning its ID and timestamps.
	// A second non-cancelled appointment for the same doctor and start time
	// is rejected with ErrDuplicateInterval.
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ListByDoctor returns the doctor's appointments whose interval overlaps
	// [from, to), ordered by start time.
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time, includeCancelled bool) ([]*Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
}

// Locker serializes bookings that share a key. Work done under the lock must
// use the returned context, which may carry the connection holding the lock.
// The returned release func must be called once the work is done.
type Locker interface {
	Lock(ctx context.Context, key string) (locked context.Context, release func(), err error)
}
