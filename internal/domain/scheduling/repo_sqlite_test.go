package scheduling

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/migrations"
)

func newSQLiteRepo(t *testing.T) AppointmentRepository {
	t.Helper()
	ctx := context.Background()
	sqlDB, err := db.OpenSQLite(ctx, "sqlite://"+filepath.Join(t.TempDir(), "appointments.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	if _, err := db.NewSQLiteMigrator(sqlDB, migrations.FS, migrations.SQLiteDir).Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewAppointmentRepoSQLite(sqlDB)
}

func TestSQLiteRepo_CreateAndGet(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	a := &Appointment{
		DoctorID:        uuid.New(),
		PatientID:       uuid.New(),
		StartTime:       at(10, 0),
		DurationMinutes: 45,
		Status:          StatusScheduled,
		AppointmentType: ptrStr("consultation"),
	}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.ID == uuid.Nil || a.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamps to be assigned, got %+v", a)
	}

	got, err := repo.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.StartTime.Equal(a.StartTime) || got.DurationMinutes != 45 || got.DoctorID != a.DoctorID {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.AppointmentType == nil || *got.AppointmentType != "consultation" {
		t.Errorf("expected appointment type, got %v", got.AppointmentType)
	}
	if got.Notes != nil {
		t.Errorf("expected nil notes, got %v", *got.Notes)
	}

	if _, err := repo.GetByID(ctx, uuid.New()); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("expected ErrAppointmentNotFound, got %v", err)
	}
}

func TestSQLiteRepo_UniqueLiveStart(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	doctorID := uuid.New()

	first := &Appointment{DoctorID: doctorID, PatientID: uuid.New(), StartTime: at(10, 0), DurationMinutes: 30, Status: StatusScheduled}
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("create first: %v", err)
	}

	dup := &Appointment{DoctorID: doctorID, PatientID: uuid.New(), StartTime: at(10, 0), DurationMinutes: 30, Status: StatusScheduled}
	if err := repo.Create(ctx, dup); !errors.Is(err, ErrDuplicateInterval) {
		t.Fatalf("expected ErrDuplicateInterval, got %v", err)
	}

	first.Status = StatusCancelled
	if err := repo.Update(ctx, first); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	again := &Appointment{DoctorID: doctorID, PatientID: uuid.New(), StartTime: at(10, 0), DurationMinutes: 30, Status: StatusScheduled}
	if err := repo.Create(ctx, again); err != nil {
		t.Errorf("expected cancelled start to be reusable, got %v", err)
	}
}

func TestSQLiteRepo_ListByDoctorOverlap(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	doctorID := uuid.New()

	mk := func(start time.Time, minutes int, status Status) {
		t.Helper()
		a := &Appointment{DoctorID: doctorID, PatientID: uuid.New(), StartTime: start, DurationMinutes: minutes, Status: status}
		if err := repo.Create(ctx, a); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	mk(at(8, 30), 60, StatusScheduled)  // reaches into the window
	mk(at(11, 0), 30, StatusConfirmed)  // inside
	mk(at(12, 0), 30, StatusCancelled)  // inside, cancelled
	mk(at(7, 0), 60, StatusScheduled)   // ends before the window
	mk(at(13, 0), 30, StatusScheduled)  // starts at the window end

	items, err := repo.ListByDoctor(ctx, doctorID, at(9, 0), at(13, 0), false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 live overlapping appointments, got %d", len(items))
	}
	if !items[0].StartTime.Equal(at(8, 30)) || !items[1].StartTime.Equal(at(11, 0)) {
		t.Errorf("unexpected order: %v, %v", items[0].StartTime, items[1].StartTime)
	}

	all, err := repo.ListByDoctor(ctx, doctorID, at(9, 0), at(13, 0), true)
	if err != nil {
		t.Fatalf("list with cancelled: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 including cancelled, got %d", len(all))
	}
}

func TestSQLiteRepo_ListByPatient(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	patientID := uuid.New()
	for h := 9; h < 14; h++ {
		a := &Appointment{DoctorID: uuid.New(), PatientID: patientID, StartTime: at(h, 0), DurationMinutes: 30, Status: StatusScheduled}
		if err := repo.Create(ctx, a); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	items, total, err := repo.ListByPatient(ctx, patientID, 2, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 || len(items) != 2 {
		t.Fatalf("expected 2 of 5, got %d of %d", len(items), total)
	}
	if !items[0].StartTime.Equal(at(12, 0)) {
		t.Errorf("expected newest-first ordering, got %v", items[0].StartTime)
	}
}

func TestSQLiteRepo_UpdateAndDelete(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	a := &Appointment{DoctorID: uuid.New(), PatientID: uuid.New(), StartTime: at(9, 0), DurationMinutes: 30, Status: StatusScheduled}
	if err := repo.Create(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}

	a.Status = StatusCancelled
	a.CancellationReason = ptrStr("doctor unavailable")
	if err := repo.Update(ctx, a); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := repo.GetByID(ctx, a.ID)
	if got.Status != StatusCancelled || got.CancellationReason == nil || *got.CancellationReason != "doctor unavailable" {
		t.Errorf("update not persisted: %+v", got)
	}

	if err := repo.Delete(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete(ctx, a.ID); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("expected ErrAppointmentNotFound, got %v", err)
	}
	missing := &Appointment{ID: uuid.New(), Status: StatusConfirmed}
	if err := repo.Update(ctx, missing); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("expected ErrAppointmentNotFound on update, got %v", err)
	}
}

// With no lock at all, the unique index alone must let exactly one of the
// racing bookings through.
func TestSQLiteRepo_ConcurrentBookingOnlyIndex(t *testing.T) {
	repo := newSQLiteRepo(t)
	svc := NewService(repo, NoopLocker{}, DefaultSlotConfig())
	doctorID := uuid.New()

	var (
		mu        sync.Mutex
		succeeded int
	)
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			_, err := svc.CheckAndBookAppointment(context.Background(), BookingRequest{
				DoctorID:        doctorID,
				PatientID:       uuid.New(),
				StartTime:       at(10, 0),
				DurationMinutes: 30,
			})
			switch {
			case err == nil:
				mu.Lock()
				succeeded++
				mu.Unlock()
				return nil
			case errors.Is(err, ErrSlotUnavailable):
				return nil
			default:
				return err
			}
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected booking error: %v", err)
	}
	if succeeded != 1 {
		t.Errorf("expected exactly 1 booking, got %d", succeeded)
	}

	items, err := repo.ListByDoctor(context.Background(), doctorID, at(0, 0), at(23, 0), false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("expected 1 stored appointment, got %d", len(items))
	}
}

func TestSQLiteRepo_AvailableSlotsAfterBooking(t *testing.T) {
	repo := newSQLiteRepo(t)
	svc := NewService(repo, nil, DefaultSlotConfig())
	ctx := context.Background()
	doctorID := uuid.New()

	if _, err := svc.CheckAndBookAppointment(ctx, BookingRequest{
		DoctorID: doctorID, PatientID: uuid.New(), StartTime: at(10, 0), DurationMinutes: 60,
	}); err != nil {
		t.Fatalf("book: %v", err)
	}

	slots, err := svc.GenerateAvailableSlots(ctx, doctorID, testDate)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if len(slots) != 14 {
		t.Fatalf("expected 14 slots, got %d", len(slots))
	}
	for _, s := range slots {
		if s.Display == "10:00 AM" || s.Display == "10:30 AM" {
			t.Errorf("expected %s to be booked", s.Display)
		}
	}
}
