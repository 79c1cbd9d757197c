package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func ctxWithRoles(roles ...string) context.Context {
	return context.WithValue(context.Background(), UserRolesKey, roles)
}

func TestRequireRole_Allowed(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(ctxWithRoles("doctor"))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := RequireRole("doctor", "nurse")(okHandler)(c); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(ctxWithRoles("patient"))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := RequireRole("doctor", "nurse")(okHandler)(c)
	expectStatus(t, err, http.StatusForbidden)
}

func TestRequireRole_NoRoles(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := RequireRole(RolePatient)(okHandler)(c)
	expectStatus(t, err, http.StatusForbidden)
}

func TestRequireRole_AdminBypass(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(ctxWithRoles("admin"))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := RequireRole("doctor")(okHandler)(c); err != nil {
		t.Error("admin should bypass role checks")
	}
}

func TestIsStaff(t *testing.T) {
	tests := []struct {
		roles []string
		want  bool
	}{
		{[]string{"admin"}, true},
		{[]string{"doctor"}, true},
		{[]string{"nurse"}, true},
		{[]string{"receptionist"}, true},
		{[]string{"patient"}, false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsStaff(ctxWithRoles(tt.roles...)); got != tt.want {
			t.Errorf("IsStaff(%v) = %v, want %v", tt.roles, got, tt.want)
		}
	}
}

func TestCanActForPatient(t *testing.T) {
	const own = "6f1c1a52-0b7e-4a4e-9d84-0c1b1fb0f0aa"
	const other = "0d8f6f0e-5a55-4c1e-a3b7-8e4b1cc1b2d2"

	staff := ctxWithRoles("receptionist")
	if !CanActForPatient(staff, other) {
		t.Error("staff should act for any patient")
	}

	patient := context.WithValue(ctxWithRoles("patient"), PatientIDKey, own)
	if !CanActForPatient(patient, own) {
		t.Error("patient should act for own record")
	}
	if CanActForPatient(patient, other) {
		t.Error("patient must not act for another patient")
	}

	unbound := ctxWithRoles("patient")
	if CanActForPatient(unbound, own) {
		t.Error("patient token without patient_id must not act for anyone")
	}
}

func TestUserIDFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), UserIDKey, "user-123")
	if uid := UserIDFromContext(ctx); uid != "user-123" {
		t.Errorf("expected user-123, got %s", uid)
	}
	if empty := UserIDFromContext(context.Background()); empty != "" {
		t.Errorf("expected empty string, got %s", empty)
	}
}
