package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// maxDurationMinutes caps a single appointment at one day.
const maxDurationMinutes = 24 * 60

type Service struct {
	appointments AppointmentRepository
	locker       Locker
	cfg          SlotConfig
}

func NewService(appt AppointmentRepository, locker Locker, cfg SlotConfig) *Service {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Service{appointments: appt, locker: locker, cfg: cfg}
}

// Config returns the slot grid the service was built with.
func (s *Service) Config() SlotConfig { return s.cfg }

// -- Availability --

// GenerateAvailableSlots lists the open slots of a doctor on a civil date.
func (s *Service) GenerateAvailableSlots(ctx context.Context, doctorID uuid.UUID, date civil.Date) ([]Slot, error) {
	if doctorID == uuid.Nil {
		return nil, fmt.Errorf("%w: doctorId is required", ErrInvalidInput)
	}
	if !date.IsValid() {
		return nil, fmt.Errorf("%w: invalid date %s", ErrInvalidInput, date)
	}
	from, to := s.cfg.DayRange(date)
	existing, err := s.appointments.ListByDoctor(ctx, doctorID, from, to, false)
	if err != nil {
		return nil, fmt.Errorf("list appointments for doctor %s: %w", doctorID, upstream(err))
	}
	return GenerateAvailableSlots(date, existing, s.cfg), nil
}

// CheckConflict reports whether booking doctorID at start for
// durationMinutes would collide with an existing appointment.
func (s *Service) CheckConflict(ctx context.Context, doctorID uuid.UUID, start time.Time, durationMinutes int) (bool, error) {
	if durationMinutes <= 0 {
		durationMinutes = s.cfg.DefaultDurationMinutes
	}
	window := NewInterval(start, durationMinutes)
	existing, err := s.appointments.ListByDoctor(ctx, doctorID, window.Start, window.End, false)
	if err != nil {
		return false, fmt.Errorf("list appointments for doctor %s: %w", doctorID, upstream(err))
	}
	return HasConflict(existing, start, durationMinutes, s.cfg), nil
}

// -- Booking --

// CheckAndBookAppointment runs the conflict check and persists the
// appointment while holding the doctor's booking lock.
func (s *Service) CheckAndBookAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if err := s.validateBooking(&req); err != nil {
		return nil, err
	}

	ctx, release, err := s.locker.Lock(ctx, doctorLockKey(req.DoctorID))
	if err != nil {
		return nil, fmt.Errorf("acquire booking lock: %w", upstream(err))
	}
	defer release()

	logger := zerolog.Ctx(ctx).With().
		Str("doctor_id", req.DoctorID.String()).
		Time("start_time", req.StartTime).
		Int("duration_minutes", req.DurationMinutes).
		Logger()

	conflict, err := s.CheckConflict(ctx, req.DoctorID, req.StartTime, req.DurationMinutes)
	if err != nil {
		return nil, err
	}
	if conflict {
		logger.Info().Msg("booking rejected: slot unavailable")
		return nil, ErrSlotUnavailable
	}

	a := &Appointment{
		DoctorID:        req.DoctorID,
		PatientID:       req.PatientID,
		StartTime:       req.StartTime,
		DurationMinutes: req.DurationMinutes,
		Status:          StatusScheduled,
		AppointmentType: req.AppointmentType,
		Notes:           req.Notes,
	}
	if err := s.appointments.Create(ctx, a); err != nil {
		if errors.Is(err, ErrDuplicateInterval) {
			logger.Info().Msg("booking rejected by store constraint")
			return nil, ErrSlotUnavailable
		}
		return nil, fmt.Errorf("create appointment: %w", upstream(err))
	}
	logger.Info().Str("appointment_id", a.ID.String()).Msg("appointment booked")
	return a, nil
}

func (s *Service) validateBooking(req *BookingRequest) error {
	if req.DoctorID == uuid.Nil {
		return fmt.Errorf("%w: doctorId is required", ErrInvalidInput)
	}
	if req.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patientId is required", ErrInvalidInput)
	}
	if req.StartTime.IsZero() {
		return fmt.Errorf("%w: appointmentDate is required", ErrInvalidInput)
	}
	if req.DurationMinutes < 0 || req.DurationMinutes > maxDurationMinutes {
		return fmt.Errorf("%w: durationMinutes must be between 1 and %d", ErrInvalidInput, maxDurationMinutes)
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = s.cfg.DefaultDurationMinutes
	}
	return nil
}

// -- Appointment --

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get appointment %s: %w", id, upstream(err))
	}
	return a, nil
}

// ListDoctorAppointments returns every appointment of the doctor on date,
// cancelled ones included.
func (s *Service) ListDoctorAppointments(ctx context.Context, doctorID uuid.UUID, date civil.Date) ([]*Appointment, error) {
	if doctorID == uuid.Nil {
		return nil, fmt.Errorf("%w: doctorId is required", ErrInvalidInput)
	}
	from, to := s.cfg.DayRange(date)
	items, err := s.appointments.ListByDoctor(ctx, doctorID, from, to, true)
	if err != nil {
		return nil, fmt.Errorf("list appointments for doctor %s: %w", doctorID, upstream(err))
	}
	return items, nil
}

func (s *Service) ListPatientAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	if patientID == uuid.Nil {
		return nil, 0, fmt.Errorf("%w: patientId is required", ErrInvalidInput)
	}
	items, total, err := s.appointments.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments for patient %s: %w", patientID, upstream(err))
	}
	return items, total, nil
}

// UpdateAppointmentStatus moves an appointment along its lifecycle.
func (s *Service) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status Status) (*Appointment, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: invalid appointment status: %s", ErrInvalidInput, status)
	}
	a, err := s.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == status {
		return a, nil
	}
	if !a.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, status)
	}
	a.Status = status
	if err := s.appointments.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("update appointment %s: %w", id, upstream(err))
	}
	zerolog.Ctx(ctx).Info().
		Str("appointment_id", id.String()).
		Str("status", string(status)).
		Msg("appointment status changed")
	return a, nil
}

// CancelAppointment marks an appointment cancelled, releasing its interval.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	a, err := s.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusCancelled {
		return a, nil
	}
	if !a.Status.CanTransitionTo(StatusCancelled) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, StatusCancelled)
	}
	a.Status = StatusCancelled
	if reason != "" {
		a.CancellationReason = &reason
	}
	if err := s.appointments.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("update appointment %s: %w", id, upstream(err))
	}
	return a, nil
}

func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	if err := s.appointments.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return err
		}
		return fmt.Errorf("delete appointment %s: %w", id, upstream(err))
	}
	return nil
}
