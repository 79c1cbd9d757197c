package db

import (
	"context"
	"testing"
	"testing/fstest"
)

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/001_appointments.sql": {Data: []byte("CREATE TABLE appointments (id TEXT PRIMARY KEY);")},
		"sql/002_indexes.sql":      {Data: []byte("CREATE INDEX idx ON appointments (id);")},
	}

	migrations, err := LoadMigrations(fsys, "sql")
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 {
		t.Errorf("expected version 1, got %d", migrations[0].Version)
	}
	if migrations[0].Name != "001_appointments.sql" {
		t.Errorf("expected name 001_appointments.sql, got %s", migrations[0].Name)
	}
	if migrations[0].SQL != "CREATE TABLE appointments (id TEXT PRIMARY KEY);" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
	if migrations[1].Version != 2 {
		t.Errorf("expected version 2, got %d", migrations[1].Version)
	}
}

func TestLoadMigrations_SortOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"m/010_tables.sql": {Data: []byte("SELECT 10;")},
		"m/002_second.sql": {Data: []byte("SELECT 2;")},
		"m/001_first.sql":  {Data: []byte("SELECT 1;")},
		"m/005_middle.sql": {Data: []byte("SELECT 5;")},
	}

	migrations, err := LoadMigrations(fsys, "m")
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	expectedVersions := []int{1, 2, 5, 10}
	if len(migrations) != len(expectedVersions) {
		t.Fatalf("expected %d migrations, got %d", len(expectedVersions), len(migrations))
	}
	for i, expected := range expectedVersions {
		if migrations[i].Version != expected {
			t.Errorf("migration[%d]: expected version %d, got %d", i, expected, migrations[i].Version)
		}
	}
}

func TestLoadMigrations_InvalidFilename(t *testing.T) {
	fsys := fstest.MapFS{
		"m/001_valid.sql":      {Data: []byte("SELECT 1;")},
		"m/readme.sql":         {Data: []byte("-- no version prefix")},
		"m/notes.txt":          {Data: []byte("not a sql file")},
		"m/abc_invalid.sql":    {Data: []byte("-- non-numeric prefix")},
		"m/002_also_valid.sql": {Data: []byte("SELECT 2;")},
		"m/003_dir/inner.sql":  {Data: []byte("SELECT 3;")},
	}

	migrations, err := LoadMigrations(fsys, "m")
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 valid migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[1].Version != 2 {
		t.Errorf("unexpected versions: %d, %d", migrations[0].Version, migrations[1].Version)
	}
}

func TestLoadMigrations_NonExistentDir(t *testing.T) {
	if _, err := LoadMigrations(fstest.MapFS{}, "missing"); err == nil {
		t.Error("expected error for non-existent directory")
	}
}

func TestNewMigrator(t *testing.T) {
	fsys := fstest.MapFS{"pg/001_core.sql": {Data: []byte("SELECT 1;")}}
	m := NewMigrator(nil, fsys, "pg")
	if m.dir != "pg" {
		t.Errorf("expected dir pg, got %s", m.dir)
	}
	migrations, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 1 {
		t.Errorf("expected 1 migration, got %d", len(migrations))
	}
}

func TestMigrator_RejectsInvalidSchema(t *testing.T) {
	m := NewMigrator(nil, fstest.MapFS{}, "pg")
	if err := m.EnsureMigrationsTable(context.Background(), "public; DROP TABLE x"); err == nil {
		t.Error("expected error for invalid schema name")
	}
}

func TestSQLiteMigrator_UpAndStatus(t *testing.T) {
	ctx := context.Background()
	sqlDB, err := OpenSQLite(ctx, "file:migrator_up?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer sqlDB.Close()

	fsys := fstest.MapFS{
		"sqlite/001_widgets.sql": {Data: []byte("CREATE TABLE widgets (id INTEGER PRIMARY KEY);")},
		"sqlite/002_gadgets.sql": {Data: []byte("CREATE TABLE gadgets (id INTEGER PRIMARY KEY);")},
	}
	m := NewSQLiteMigrator(sqlDB, fsys, "sqlite")

	statuses, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(statuses) != 2 || statuses[0].Applied || statuses[1].Applied {
		t.Fatalf("expected 2 pending migrations, got %+v", statuses)
	}

	n, err := m.Up(ctx)
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 applied, got %d", n)
	}

	n, err = m.Up(ctx)
	if err != nil {
		t.Fatalf("second Up: %v", err)
	}
	if n != 0 {
		t.Errorf("expected second Up to apply 0, got %d", n)
	}

	statuses, err = m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	for _, s := range statuses {
		if !s.Applied || s.AppliedAt == nil {
			t.Errorf("expected migration %d applied, got %+v", s.Version, s)
		}
	}

	if _, err := sqlDB.ExecContext(ctx, `INSERT INTO gadgets (id) VALUES (1)`); err != nil {
		t.Errorf("expected gadgets table to exist: %v", err)
	}
}

func TestSQLiteMigrator_FailedMigrationNotRecorded(t *testing.T) {
	ctx := context.Background()
	sqlDB, err := OpenSQLite(ctx, "file:migrator_fail?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer sqlDB.Close()

	fsys := fstest.MapFS{
		"sqlite/001_ok.sql":     {Data: []byte("CREATE TABLE ok (id INTEGER);")},
		"sqlite/002_broken.sql": {Data: []byte("CREATE TABLE;")},
	}
	m := NewSQLiteMigrator(sqlDB, fsys, "sqlite")

	n, err := m.Up(ctx)
	if err == nil {
		t.Fatal("expected error from broken migration")
	}
	if n != 1 {
		t.Errorf("expected 1 applied before failure, got %d", n)
	}

	statuses, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !statuses[0].Applied || statuses[1].Applied {
		t.Errorf("expected only migration 1 applied, got %+v", statuses)
	}
}

func TestDetectDriver(t *testing.T) {
	tests := []struct {
		url  string
		want Driver
	}{
		{"postgres://localhost/hms", DriverPostgres},
		{"postgresql://user@localhost/hms", DriverPostgres},
		{"sqlite:///var/lib/hms/hms.db", DriverSQLite},
		{"file:hms?mode=memory", DriverSQLite},
		{"./data/hms.db", DriverSQLite},
		{"host=localhost dbname=hms", DriverPostgres},
	}
	for _, tt := range tests {
		if got := DetectDriver(tt.url); got != tt.want {
			t.Errorf("DetectDriver(%q) = %s, want %s", tt.url, got, tt.want)
		}
	}
}
