package scheduling

import (
	"errors"
	"net/http"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/pkg/pagination"
)

// slotUnavailableMessage is the client-facing text for a booking conflict.
const slotUnavailableMessage = "Time slot is already booked"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	everyone := []string{auth.RoleAdmin, auth.RoleDoctor, auth.RoleNurse, auth.RoleReceptionist, auth.RolePatient}

	// Any authenticated caller; patient access is narrowed per request.
	readGroup := api.Group("", auth.RequireRole(everyone...))
	readGroup.GET("/appointments/available-slots", h.GetAvailableSlots)
	readGroup.GET("/appointments/:id", h.GetAppointment)
	readGroup.POST("/appointments", h.BookAppointment)
	readGroup.POST("/appointments/:id/cancel", h.CancelAppointment)

	staffGroup := api.Group("", auth.RequireRole(auth.StaffRoles...))
	staffGroup.GET("/appointments", h.ListAppointments)
	staffGroup.PATCH("/appointments/:id/status", h.UpdateStatus)

	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.DELETE("/appointments/:id", h.DeleteAppointment)
}

// httpError maps service errors onto HTTP responses.
func httpError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrSlotUnavailable):
		return echo.NewHTTPError(http.StatusConflict, slotUnavailableMessage)
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrAppointmentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	case errors.Is(err, ErrUpstreamUnavailable):
		zerolog.Ctx(c.Request().Context()).Error().Err(err).Msg("upstream unavailable")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "service temporarily unavailable")
	}
	zerolog.Ctx(c.Request().Context()).Error().Err(err).Msg("unhandled scheduling error")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

func annotateAudit(c echo.Context, a *Appointment) {
	middleware.AnnotateAudit(c, a.DoctorID.String(), a.PatientID.String(), a.ID.String())
}

func parseDate(raw string) (civil.Date, error) {
	if raw == "" {
		return civil.Date{}, echo.NewHTTPError(http.StatusBadRequest, "date is required")
	}
	d, err := civil.ParseDate(raw)
	if err != nil {
		return civil.Date{}, echo.NewHTTPError(http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
	}
	return d, nil
}

func parseUUIDParam(raw, name string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, name+" is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// -- Availability --

type availableSlotsResponse struct {
	DoctorID uuid.UUID `json:"doctorId"`
	Date     string    `json:"date"`
	Timezone string    `json:"timezone"`
	Slots    []Slot    `json:"slots"`
}

func (h *Handler) GetAvailableSlots(c echo.Context) error {
	doctorID, err := parseUUIDParam(c.QueryParam("doctorId"), "doctorId")
	if err != nil {
		return err
	}
	date, err := parseDate(c.QueryParam("date"))
	if err != nil {
		return err
	}
	slots, err := h.svc.GenerateAvailableSlots(c.Request().Context(), doctorID, date)
	if err != nil {
		return httpError(c, err)
	}
	return c.JSON(http.StatusOK, availableSlotsResponse{
		DoctorID: doctorID,
		Date:     date.String(),
		Timezone: h.svc.Config().Location.String(),
		Slots:    slots,
	})
}

// -- Appointment --

type bookAppointmentBody struct {
	DoctorID        uuid.UUID `json:"doctorId"`
	PatientID       uuid.UUID `json:"patientId"`
	AppointmentDate string    `json:"appointmentDate"`
	DurationMinutes int       `json:"durationMinutes"`
	AppointmentType *string   `json:"appointmentType,omitempty"`
	Notes           *string   `json:"notes,omitempty"`
}

// localLayouts are accepted for appointment times without a UTC offset and
// read as wall-clock time in the hospital timezone.
var localLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04"}

// parseAppointmentTime accepts RFC 3339 or a local date-time. An empty value
// yields the zero time, which booking validation rejects.
func parseAppointmentTime(raw string, loc *time.Location) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, echo.NewHTTPError(http.StatusBadRequest,
		"invalid appointmentDate, expected RFC 3339 (2024-06-10T09:30:00Z) or local time (2024-06-10T09:30)")
}

func (h *Handler) BookAppointment(c echo.Context) error {
	var body bookAppointmentBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	start, err := parseAppointmentTime(body.AppointmentDate, h.svc.Config().Location)
	if err != nil {
		return err
	}
	req := BookingRequest{
		DoctorID:        body.DoctorID,
		PatientID:       body.PatientID,
		StartTime:       start,
		DurationMinutes: body.DurationMinutes,
		AppointmentType: body.AppointmentType,
		Notes:           body.Notes,
	}
	middleware.AnnotateAudit(c, req.DoctorID.String(), req.PatientID.String(), "")
	if req.PatientID != uuid.Nil && !auth.CanActForPatient(c.Request().Context(), req.PatientID.String()) {
		return echo.NewHTTPError(http.StatusForbidden, "cannot book for another patient")
	}
	appt, err := h.svc.CheckAndBookAppointment(c.Request().Context(), req)
	if err != nil {
		return httpError(c, err)
	}
	annotateAudit(c, appt)
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := parseUUIDParam(c.Param("id"), "id")
	if err != nil {
		return err
	}
	appt, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return httpError(c, err)
	}
	if !auth.CanActForPatient(c.Request().Context(), appt.PatientID.String()) {
		return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
	}
	annotateAudit(c, appt)
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	ctx := c.Request().Context()
	if raw := c.QueryParam("patientId"); raw != "" {
		patientID, err := parseUUIDParam(raw, "patientId")
		if err != nil {
			return err
		}
		pg := pagination.FromContext(c)
		items, total, err := h.svc.ListPatientAppointments(ctx, patientID, pg.Limit, pg.Offset)
		if err != nil {
			return httpError(c, err)
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
	}

	doctorID, err := parseUUIDParam(c.QueryParam("doctorId"), "doctorId")
	if err != nil {
		return err
	}
	date, err := parseDate(c.QueryParam("date"))
	if err != nil {
		return err
	}
	items, err := h.svc.ListDoctorAppointments(ctx, doctorID, date)
	if err != nil {
		return httpError(c, err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, items)
}

type statusRequest struct {
	Status Status `json:"status"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := parseUUIDParam(c.Param("id"), "id")
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	appt, err := h.svc.UpdateAppointmentStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return httpError(c, err)
	}
	annotateAudit(c, appt)
	return c.JSON(http.StatusOK, appt)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	id, err := parseUUIDParam(c.Param("id"), "id")
	if err != nil {
		return err
	}
	var req cancelRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}

	ctx := c.Request().Context()
	if !auth.IsStaff(ctx) {
		appt, err := h.svc.GetAppointment(ctx, id)
		if err != nil {
			return httpError(c, err)
		}
		if !auth.CanActForPatient(ctx, appt.PatientID.String()) {
			return echo.NewHTTPError(http.StatusNotFound, "appointment not found")
		}
	}

	appt, err := h.svc.CancelAppointment(ctx, id, req.Reason)
	if err != nil {
		return httpError(c, err)
	}
	annotateAudit(c, appt)
	return c.JSON(http.StatusOK, appt)
}

func (h *Handler) DeleteAppointment(c echo.Context) error {
	id, err := parseUUIDParam(c.Param("id"), "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteAppointment(c.Request().Context(), id); err != nil {
		return httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

