package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
)

// AuditEntry records who touched which appointment resource, when and how.
type AuditEntry struct {
	UserID        string
	UserRoles     []string
	Resource      string
	AppointmentID string
	PatientID     string
	DoctorID      string
	Action        string // read, create, update, delete
	IPAddress     string
	UserAgent     string
	Path          string
	Method        string
	Timestamp     time.Time
	RequestID     string
	StatusCode    int
}

// Context keys handlers use to annotate the audit entry.
const (
	auditDoctorKey      = "audit_doctor_id"
	auditPatientKey     = "audit_patient_id"
	auditAppointmentKey = "audit_appointment_id"
)

// AnnotateAudit attaches identifiers a handler learned from the request body
// or its result. Empty or malformed values are ignored.
func AnnotateAudit(c echo.Context, doctorID, patientID, appointmentID string) {
	if id := uuidOrEmpty(doctorID); id != "" {
		c.Set(auditDoctorKey, id)
	}
	if id := uuidOrEmpty(patientID); id != "" {
		c.Set(auditPatientKey, id)
	}
	if id := uuidOrEmpty(appointmentID); id != "" {
		c.Set(auditAppointmentKey, id)
	}
}

// auditSink receives each entry after it is logged.
type auditSink func(entry AuditEntry) error

// Audit logs every request under /api/v1/ after the handler ran, so the
// entry carries the final status code.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return audit(logger, nil)
}

func audit(logger zerolog.Logger, sink auditSink) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if err != nil {
				// The error handler has not rendered yet; report what it will send.
				status = http.StatusInternalServerError
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			ctx := req.Context()
			entry := AuditEntry{
				Timestamp:     time.Now().UTC(),
				UserID:        auth.UserIDFromContext(ctx),
				UserRoles:     auth.RolesFromContext(ctx),
				Resource:      extractResource(path),
				AppointmentID: uuidOrEmpty(c.Param("id")),
				PatientID:     extractPatientID(c),
				DoctorID:      uuidOrEmpty(c.QueryParam("doctorId")),
				Action:        httpMethodToAction(req.Method),
				IPAddress:     c.RealIP(),
				UserAgent:     req.UserAgent(),
				Path:          path,
				Method:        req.Method,
				StatusCode:    status,
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}
			if id, ok := c.Get(auditDoctorKey).(string); ok {
				entry.DoctorID = id
			}
			if id, ok := c.Get(auditPatientKey).(string); ok {
				entry.PatientID = id
			}
			if id, ok := c.Get(auditAppointmentKey).(string); ok {
				entry.AppointmentID = id
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("appointment_id", entry.AppointmentID).
				Str("patient_id", entry.PatientID).
				Str("doctor_id", entry.DoctorID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("api_access")

			if sink != nil {
				if sinkErr := sink(entry); sinkErr != nil {
					logger.Error().Err(sinkErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/")
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// extractResource returns the first path segment after /api/v1/:
//
//	/api/v1/appointments/123 -> appointments
func extractResource(path string) string {
	rest := strings.TrimPrefix(path, "/api/v1/")
	if seg, _, _ := strings.Cut(rest, "/"); seg != "" {
		return seg
	}
	return "unknown"
}

// extractPatientID prefers the patientId query parameter and falls back to
// the caller's own patient identity.
func extractPatientID(c echo.Context) string {
	if pid := uuidOrEmpty(c.QueryParam("patientId")); pid != "" {
		return pid
	}
	return auth.PatientIDFromContext(c.Request().Context())
}

func uuidOrEmpty(s string) string {
	if id, err := uuid.Parse(s); err != nil || id == uuid.Nil {
		return ""
	}
	return s
}
