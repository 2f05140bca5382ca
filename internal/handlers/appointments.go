package handlers

import (
	"errors"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"therapy-scheduling-server/internal/models"
	"therapy-scheduling-server/internal/services"
	"therapy-scheduling-server/internal/utils"
)

// AppointmentHandler handles appointment related requests.
type AppointmentHandler struct {
	appointments *services.AppointmentService
	logger       zerolog.Logger
}

// NewAppointmentHandler creates a new AppointmentHandler.
func NewAppointmentHandler(appointments *services.AppointmentService, logger zerolog.Logger) *AppointmentHandler {
	return &AppointmentHandler{appointments: appointments, logger: logger}
}

// CreateAppointmentRequest represents the request body for creating an appointment.
// Field presence is checked by the workflow so the messages stay uniform.
type CreateAppointmentRequest struct {
	PatientUsername   string `json:"patientUsername"`
	TherapistUsername string `json:"therapistUsername"`
	Date              string `json:"date"`
	Time              string `json:"time"`
	InitiatorRole     string `json:"initiatorRole"`
	SessionType       string `json:"sessionType"`
}

// ReasonRequest carries the optional reason for reject and cancel.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// RescheduleRequest represents the request body for rescheduling.
type RescheduleRequest struct {
	NewDate         string `json:"newDate"`
	NewTime         string `json:"newTime"`
	Reason          string `json:"reason"`
	ReschedulerRole string `json:"reschedulerRole"`
}

// SessionNoteRequest represents a therapist note appended to an appointment.
type SessionNoteRequest struct {
	Note string `json:"note"`
}

// CreateAppointment handles booking a new appointment.
func (h *AppointmentHandler) CreateAppointment(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}
	var req CreateAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "Invalid request payload")
		return
	}

	appt, err := h.appointments.Create(c.Request.Context(), services.CreateAppointmentInput{
		PatientUsername:   req.PatientUsername,
		TherapistUsername: req.TherapistUsername,
		Date:              req.Date,
		Time:              req.Time,
		InitiatorRole:     models.InitiatorRole(req.InitiatorRole),
		SessionType:       req.SessionType,
	}, actor)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	utils.Created(c, "Appointment created successfully", appt)
}

// GetAppointmentsForUser lists the appointments of ?username= in the given ?role=.
// Non-admin callers may only list their own.
func (h *AppointmentHandler) GetAppointmentsForUser(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}
	username := c.Query("username")
	role := models.Role(c.Query("role"))
	if username == "" {
		username = actor.Username
	}
	if role == "" {
		role = actor.Role
	}
	if actor.Role != models.RoleAdmin && username != actor.Username {
		utils.Forbidden(c, "You can only view your own appointments.")
		return
	}

	views, err := h.appointments.ListByUser(c.Request.Context(), username, role)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	utils.Success(c, "Appointments fetched successfully", views)
}

// GetBookedTimes returns the accepted slot times of ?therapist= on ?date=.
func (h *AppointmentHandler) GetBookedTimes(c *gin.Context) {
	therapist, date := c.Query("therapist"), c.Query("date")
	if therapist == "" || date == "" {
		utils.BadRequest(c, "therapist and date are required")
		return
	}
	times, err := h.appointments.BookedTimes(c.Request.Context(), therapist, date)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	utils.Success(c, "Booked times fetched successfully", times)
}

// AvailabilityRequest replaces a therapist's weekly availability.
type AvailabilityRequest struct {
	AvailableSlots []models.AvailabilitySlot `json:"availableSlots"`
}

// GetTherapistAvailability returns the weekly slots of :therapistUsername.
func (h *AppointmentHandler) GetTherapistAvailability(c *gin.Context) {
	slots, err := h.appointments.TherapistAvailability(c.Request.Context(), c.Param("therapistUsername"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	utils.Success(c, "Availability fetched successfully", gin.H{"slots": slots})
}

// SetTherapistAvailability replaces the weekly slots of :therapistUsername.
func (h *AppointmentHandler) SetTherapistAvailability(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}
	var req AvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "Invalid availableSlots format")
		return
	}

	slots, err := h.appointments.SetTherapistAvailability(c.Request.Context(), c.Param("therapistUsername"), req.AvailableSlots, actor)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	utils.Success(c, "Availability updated", gin.H{"slots": slots})
}

// GetAppointmentByID handles fetching a single appointment.
func (h *AppointmentHandler) GetAppointmentByID(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}
	appt, err := h.appointments.Get(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	utils.Success(c, "Appointment fetched successfully", appt)
}

// AcceptAppointment moves a pending request to Accepted.
func (h *AppointmentHandler) AcceptAppointment(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}
	appt, err := h.appointments.Accept(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	utils.Success(c, "Appointment accepted", appt)
}

// RejectAppointment declines a pending request.
func (h *AppointmentHandler) RejectAppointment(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}
	var req ReasonRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	appt, err := h.appointments.Reject(c.Request.Context(), c.Param("id"), req.Reason, actor)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	utils.Success(c, "Appointment rejected", appt)
}

// CancelAppointment cancels a pending or accepted appointment.
func (h *AppointmentHandler) CancelAppointment(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}
	var req ReasonRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	appt, err := h.appointments.Cancel(c.Request.Context(), c.Param("id"), req.Reason, actor)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	utils.Success(c, "Appointment canceled", appt)
}

// RescheduleAppointment moves an appointment to a new slot and back to Pending.
func (h *AppointmentHandler) RescheduleAppointment(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}
	var req RescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "Invalid request payload")
		return
	}

	appt, err := h.appointments.Reschedule(c.Request.Context(), c.Param("id"), services.RescheduleInput{
		NewDate:         req.NewDate,
		NewTime:         req.NewTime,
		Reason:          req.Reason,
		ReschedulerRole: models.InitiatorRole(req.ReschedulerRole),
	}, actor)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	utils.Success(c, "Appointment rescheduled", appt)
}

// AddSessionNote appends a note to the appointment.
func (h *AppointmentHandler) AddSessionNote(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}
	var req SessionNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, "Invalid request payload")
		return
	}

	appt, err := h.appointments.AddNote(c.Request.Context(), c.Param("id"), req.Note, actor)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	utils.Success(c, "Note added", appt)
}

// DeleteSessionNote removes the note at :index.
func (h *AppointmentHandler) DeleteSessionNote(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		utils.BadRequest(c, "Invalid note index")
		return
	}

	appt, err := h.appointments.DeleteNote(c.Request.Context(), c.Param("id"), index, actor)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	utils.Success(c, "Note deleted", appt)
}

// bindOptionalJSON binds a body the client may omit. Only malformed JSON fails.
func bindOptionalJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		utils.BadRequest(c, "Invalid request payload")
		return false
	}
	return true
}
