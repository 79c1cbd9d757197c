package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Roles recognized by the booking API.
const (
	RoleAdmin        = "admin"
	RoleDoctor       = "doctor"
	RoleNurse        = "nurse"
	RoleReceptionist = "receptionist"
	RolePatient      = "patient"
)

// StaffRoles are the hospital roles allowed to act on any patient's bookings.
var StaffRoles = []string{RoleAdmin, RoleDoctor, RoleNurse, RoleReceptionist}

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasAnyRole(c.Request().Context(), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasAnyRole reports whether the caller holds one of roles. Admin matches everything.
func HasAnyRole(ctx context.Context, roles ...string) bool {
	for _, has := range RolesFromContext(ctx) {
		if has == RoleAdmin {
			return true
		}
		for _, required := range roles {
			if has == required {
				return true
			}
		}
	}
	return false
}

// IsStaff reports whether the caller may act on behalf of any patient.
func IsStaff(ctx context.Context) bool {
	return HasAnyRole(ctx, StaffRoles...)
}

// CanActForPatient reports whether the caller may read or change bookings of
// patientID: staff always, patients only for the record bound to their token.
func CanActForPatient(ctx context.Context, patientID string) bool {
	if IsStaff(ctx) {
		return true
	}
	own := PatientIDFromContext(ctx)
	return own != "" && strings.EqualFold(own, patientID)
}
