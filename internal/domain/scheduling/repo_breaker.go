package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
)

// BreakerConfig tunes the circuit breaker placed in front of the store.
type BreakerConfig struct {
	// MaxRequests is the number of trial calls allowed while half-open.
	MaxRequests uint32
	// Interval is the cyclic period of the closed state for clearing counts.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
	// FailureThreshold is the run of consecutive failures that opens it.
	FailureThreshold uint32
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 5,
	}
}

type breakerRepo struct {
	next AppointmentRepository
	cb   *gobreaker.CircuitBreaker[any]
}

// NewBreakerRepo wraps next so that a failing store is cut off quickly
// instead of tying up every booking request. Calls rejected by an open
// breaker return ErrUpstreamUnavailable.
func NewBreakerRepo(next AppointmentRepository, cfg BreakerConfig) AppointmentRepository {
	settings := gobreaker.Settings{
		Name:        "appointment-store",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: storeCallSucceeded,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}
	return &breakerRepo{next: next, cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// storeCallSucceeded treats domain outcomes and caller cancellation as
// healthy store responses.
func storeCallSucceeded(err error) bool {
	return err == nil ||
		errors.Is(err, ErrAppointmentNotFound) ||
		errors.Is(err, ErrDuplicateInterval) ||
		errors.Is(err, context.Canceled)
}

func (r *breakerRepo) do(fn func() (any, error)) (any, error) {
	v, err := r.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, upstream(err)
	}
	return v, err
}

func (r *breakerRepo) Create(ctx context.Context, a *Appointment) error {
	_, err := r.do(func() (any, error) { return nil, r.next.Create(ctx, a) })
	return err
}

func (r *breakerRepo) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	v, err := r.do(func() (any, error) { return r.next.GetByID(ctx, id) })
	if err != nil {
		return nil, err
	}
	return v.(*Appointment), nil
}

func (r *breakerRepo) Update(ctx context.Context, a *Appointment) error {
	_, err := r.do(func() (any, error) { return nil, r.next.Update(ctx, a) })
	return err
}

func (r *breakerRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.do(func() (any, error) { return nil, r.next.Delete(ctx, id) })
	return err
}

func (r *breakerRepo) ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time, includeCancelled bool) ([]*Appointment, error) {
	v, err := r.do(func() (any, error) {
		return r.next.ListByDoctor(ctx, doctorID, from, to, includeCancelled)
	})
	if err != nil {
		return nil, err
	}
	return v.([]*Appointment), nil
}

type patientPage struct {
	items []*Appointment
	total int
}

func (r *breakerRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	v, err := r.do(func() (any, error) {
		items, total, err := r.next.ListByPatient(ctx, patientID, limit, offset)
		return patientPage{items: items, total: total}, err
	})
	if err != nil {
		return nil, 0, err
	}
	p := v.(patientPage)
	return p.items, p.total, nil
}
