package scheduling

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// appointmentRepoSQLite stores instants as Unix milliseconds in UTC.
type appointmentRepoSQLite struct{ db *sql.DB }

func NewAppointmentRepoSQLite(sqlDB *sql.DB) AppointmentRepository {
	return &appointmentRepoSQLite{db: sqlDB}
}

type sqliteScanner interface {
	Scan(dest ...any) error
}

func (r *appointmentRepoSQLite) scanAppointment(row sqliteScanner) (*Appointment, error) {
	var (
		a                    Appointment
		id, doctor, patient  string
		start, created, upd  int64
		apptType, notes, why sql.NullString
	)
	err := row.Scan(&id, &doctor, &patient, &start, &a.DurationMinutes, &a.Status,
		&apptType, &notes, &why, &created, &upd)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse appointment id: %w", err)
	}
	if a.DoctorID, err = uuid.Parse(doctor); err != nil {
		return nil, fmt.Errorf("parse doctor id: %w", err)
	}
	if a.PatientID, err = uuid.Parse(patient); err != nil {
		return nil, fmt.Errorf("parse patient id: %w", err)
	}
	a.StartTime = time.UnixMilli(start).UTC()
	a.CreatedAt = time.UnixMilli(created).UTC()
	a.UpdatedAt = time.UnixMilli(upd).UTC()
	a.AppointmentType = nullStringPtr(apptType)
	a.Notes = nullStringPtr(notes)
	a.CancellationReason = nullStringPtr(why)
	return &a, nil
}

func nullStringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func isSQLiteUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (r *appointmentRepoSQLite) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	now := time.Now().UTC().Truncate(time.Millisecond)
	a.CreatedAt, a.UpdatedAt = now, now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO appointment (id, doctor_id, patient_id, start_time, duration_minutes, status,
			appointment_type, notes, cancellation_reason, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID.String(), a.DoctorID.String(), a.PatientID.String(), a.StartTime.UnixMilli(),
		a.DurationMinutes, string(a.Status), a.AppointmentType, a.Notes, a.CancellationReason,
		now.UnixMilli(), now.UnixMilli())
	if isSQLiteUnique(err) {
		return ErrDuplicateInterval
	}
	return err
}

func (r *appointmentRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scanAppointment(r.db.QueryRowContext(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE id = ?`, id.String()))
}

func (r *appointmentRepoSQLite) Update(ctx context.Context, a *Appointment) error {
	now := time.Now().UTC().Truncate(time.Millisecond)
	res, err := r.db.ExecContext(ctx, `
		UPDATE appointment SET status=?, appointment_type=?, notes=?, cancellation_reason=?, updated_at=?
		WHERE id = ?`,
		string(a.Status), a.AppointmentType, a.Notes, a.CancellationReason, now.UnixMilli(), a.ID.String())
	if err != nil {
		if isSQLiteUnique(err) {
			return ErrDuplicateInterval
		}
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAppointmentNotFound
	}
	a.UpdatedAt = now
	return nil
}

func (r *appointmentRepoSQLite) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM appointment WHERE id = ?`, id.String())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *appointmentRepoSQLite) ListByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time, includeCancelled bool) ([]*Appointment, error) {
	query := `SELECT ` + apptCols + ` FROM appointment
		WHERE doctor_id = ?
		  AND start_time < ?
		  AND start_time + duration_minutes * 60000 > ?`
	if !includeCancelled {
		query += ` AND status <> 'cancelled'`
	}
	query += ` ORDER BY start_time`

	rows, err := r.db.QueryContext(ctx, query, doctorID.String(), to.UnixMilli(), from.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoSQLite) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM appointment WHERE patient_id = ?`, patientID.String()).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+apptCols+` FROM appointment
		WHERE patient_id = ? ORDER BY start_time DESC LIMIT ? OFFSET ?`, patientID.String(), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}
