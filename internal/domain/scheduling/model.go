package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no-show"
)

var validStatuses = map[Status]bool{
	StatusScheduled: true, StatusConfirmed: true, StatusInProgress: true,
	StatusCompleted: true, StatusCancelled: true, StatusNoShow: true,
}

// statusTransitions lists the states each status may move to.
var statusTransitions = map[Status][]Status{
	StatusScheduled:  {StatusConfirmed, StatusInProgress, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return validStatuses[s] }

// CanTransitionTo reports whether an appointment in status s may move to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Occupies reports whether an appointment in this status blocks its interval.
func (s Status) Occupies() bool { return s != StatusCancelled }

// Appointment maps to the appointment table.
type Appointment struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	DoctorID           uuid.UUID `db:"doctor_id" json:"doctorId"`
	PatientID          uuid.UUID `db:"patient_id" json:"patientId"`
	StartTime          time.Time `db:"start_time" json:"appointmentDate"`
	DurationMinutes    int       `db:"duration_minutes" json:"durationMinutes"`
	Status             Status    `db:"status" json:"status"`
	AppointmentType    *string   `db:"appointment_type" json:"appointmentType,omitempty"`
	Notes              *string   `db:"notes" json:"notes,omitempty"`
	CancellationReason *string   `db:"cancellation_reason" json:"cancellationReason,omitempty"`
	CreatedAt          time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time `db:"updated_at" json:"updatedAt"`
}

// Interval returns the half-open span the appointment occupies. A zero or
// negative duration falls back to defaultMinutes.
func (a *Appointment) Interval(defaultMinutes int) Interval {
	d := a.DurationMinutes
	if d <= 0 {
		d = defaultMinutes
	}
	return NewInterval(a.StartTime, d)
}

// EndTime returns the exclusive end instant using the stored duration.
func (a *Appointment) EndTime() time.Time {
	return a.StartTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Interval is the half-open time span [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval builds [start, start+minutes).
func NewInterval(start time.Time, minutes int) Interval {
	return Interval{Start: start, End: start.Add(time.Duration(minutes) * time.Minute)}
}

// Contains reports whether t lies inside the interval. End is exclusive.
func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}

// Overlaps reports whether the two intervals share any instant.
// Back-to-back intervals do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Slot is a bookable grid position on a doctor's day.
type Slot struct {
	Time    time.Time `json:"time"`
	Display string    `json:"display"`
}

// BookingRequest carries the fields needed to book an appointment.
type BookingRequest struct {
	DoctorID        uuid.UUID
	PatientID       uuid.UUID
	StartTime       time.Time
	DurationMinutes int
	AppointmentType *string
	Notes           *string
}
