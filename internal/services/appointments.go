package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"therapy-scheduling-server/internal/metrics"
	"therapy-scheduling-server/internal/models"
	"therapy-scheduling-server/internal/repository"
)

// Actor is the authenticated caller of a workflow operation.
// The zero Actor is the system itself and bypasses participant checks.
type Actor struct {
	Username string
	Role     models.Role
}

func (a Actor) privileged() bool {
	return a == Actor{} || a.Role == models.RoleAdmin
}

// partyOf returns which side of appt the actor is on, or "" for outsiders.
func (a Actor) partyOf(appt *models.Appointment) models.InitiatorRole {
	switch {
	case a.Role == models.RolePatient && a.Username == appt.PatientUsername:
		return models.InitiatorPatient
	case a.Role == models.RoleTherapist && a.Username == appt.TherapistUsername:
		return models.InitiatorTherapist
	}
	return ""
}

func (a Actor) authorize(appt *models.Appointment) error {
	if a.privileged() || a.partyOf(appt) != "" {
		return nil
	}
	return Forbidden("You are not a participant in this appointment")
}

// legal appointment transitions reachable through the workflow API.
var appointmentTransitions = map[models.AppointmentStatus][]models.AppointmentStatus{
	models.StatusPending:  {models.StatusAccepted, models.StatusRejected, models.StatusCanceled},
	models.StatusAccepted: {models.StatusCanceled, models.StatusFinished},
}

func canTransition(from, to models.AppointmentStatus) bool {
	for _, next := range appointmentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type CreateAppointmentInput struct {
	PatientUsername   string
	TherapistUsername string
	Date              string
	Time              string
	InitiatorRole     models.InitiatorRole
	SessionType       string
}

type RescheduleInput struct {
	NewDate         string
	NewTime         string
	Reason          string
	ReschedulerRole models.InitiatorRole
}

// AppointmentService owns booking conflicts, status transitions and reschedules.
type AppointmentService struct {
	store     *repository.Store
	notifier  *NotificationService
	listeners []AppointmentListener
	logger    zerolog.Logger
	metrics   *metrics.WorkflowMetrics
	loc       *time.Location
	now       func() time.Time
}

type AppointmentOption func(*AppointmentService)

// WithAppointmentListener registers a consumer of AppointmentTerminated events.
func WithAppointmentListener(l AppointmentListener) AppointmentOption {
	return func(s *AppointmentService) {
		if l != nil {
			s.listeners = append(s.listeners, l)
		}
	}
}

func WithAppointmentMetrics(m *metrics.WorkflowMetrics) AppointmentOption {
	return func(s *AppointmentService) {
		s.metrics = m
	}
}

// WithLocation sets the zone appointment dates and times are interpreted in.
func WithLocation(loc *time.Location) AppointmentOption {
	return func(s *AppointmentService) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(now func() time.Time) AppointmentOption {
	return func(s *AppointmentService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewAppointmentService(
	store *repository.Store,
	notifier *NotificationService,
	logger zerolog.Logger,
	opts ...AppointmentOption,
) *AppointmentService {
	s := &AppointmentService{
		store:    store,
		notifier: notifier,
		logger:   logger.With().Str("component", "appointments").Logger(),
		loc:      time.Local,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create books a Pending appointment requested by the patient.
func (s *AppointmentService) Create(ctx context.Context, in CreateAppointmentInput, actor Actor) (*models.Appointment, error) {
	in.PatientUsername = strings.TrimSpace(in.PatientUsername)
	in.TherapistUsername = strings.TrimSpace(in.TherapistUsername)
	if in.PatientUsername == "" || in.TherapistUsername == "" || strings.TrimSpace(in.Date) == "" || strings.TrimSpace(in.Time) == "" {
		return nil, InvalidArgument("Missing required fields")
	}
	if err := s.requireFuture(in.Date, in.Time, "Cannot book an appointment in the past"); err != nil {
		return nil, err
	}

	switch in.InitiatorRole {
	case models.InitiatorPatient:
	case models.InitiatorTherapist:
		return nil, Forbidden("Therapists cannot book appointments manually")
	default:
		return nil, InvalidArgument("initiatorRole must be patient")
	}
	if !actor.privileged() && (actor.Role != models.RolePatient || actor.Username != in.PatientUsername) {
		return nil, Forbidden("You can only book appointments for yourself")
	}

	patient, err := s.store.Users.GetByUsername(ctx, in.PatientUsername, models.RolePatient)
	if err != nil {
		return nil, lookupError(err, "Patient not found")
	}
	if _, err := s.store.Users.GetByUsername(ctx, in.TherapistUsername, models.RoleTherapist); err != nil {
		return nil, lookupError(err, "Therapist not found")
	}

	appt := &models.Appointment{
		PatientUsername:   in.PatientUsername,
		TherapistUsername: in.TherapistUsername,
		Date:              strings.TrimSpace(in.Date),
		Time:              CanonicalTime(in.Time),
		Status:            models.StatusPending,
		InitiatorRole:     in.InitiatorRole,
		SessionType:       in.SessionType,
	}
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Users.LockByUsername(ctx, appt.TherapistUsername); err != nil {
			return lookupError(err, "Therapist not found")
		}
		if err := s.ensureNoActivePair(ctx, tx, appt.PatientUsername, appt.TherapistUsername, ""); err != nil {
			return err
		}
		if err := ensureSlotFree(ctx, tx, appt.TherapistUsername, appt.Date, appt.Time, ""); err != nil {
			return err
		}
		if err := tx.Appointments.Create(ctx, appt); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveAppointmentTransition(string(models.StatusPending))
	s.logger.Info().Str("appointment_id", appt.ID).Str("patient", appt.PatientUsername).
		Str("therapist", appt.TherapistUsername).Msg("appointment created")

	refs := Refs{AppointmentID: appt.ID}
	s.notifier.NotifyBestEffort(ctx, appt.PatientUsername,
		fmt.Sprintf("Appointment created! (Date: %s, Time: %s, Pending therapist approval)", appt.Date, appt.Time), refs)
	s.notifier.NotifyBestEffort(ctx, appt.TherapistUsername,
		fmt.Sprintf("New appointment request from %s. (Date: %s, Time: %s)",
			models.PatientDisplayName(patient, appt.PatientUsername), appt.Date, appt.Time), refs)
	return appt, nil
}

// Get returns one appointment with its status computed for the current time.
func (s *AppointmentService) Get(ctx context.Context, id string, actor Actor) (*models.Appointment, error) {
	appt, err := s.store.Appointments.GetByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "Appointment not found")
	}
	if err := actor.authorize(appt); err != nil {
		return nil, err
	}
	appt.Status = s.effectiveStatus(appt)
	return appt, nil
}

// Accept moves a Pending request to Accepted. Only the counterpart of the
// initiator may accept.
func (s *AppointmentService) Accept(ctx context.Context, id string, actor Actor) (*models.Appointment, error) {
	appt, err := s.transition(ctx, id, actor, models.StatusAccepted, "")
	if err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("Appointment on %s at %s was accepted.", appt.Date, appt.Time)
	s.notifyParties(ctx, appt, msg)
	return appt, nil
}

// Reject moves a Pending request to Rejected and releases any approved payment.
func (s *AppointmentService) Reject(ctx context.Context, id, reason string, actor Actor) (*models.Appointment, error) {
	appt, err := s.transition(ctx, id, actor, models.StatusRejected, reason)
	if err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("Appointment on %s at %s was rejected.", appt.Date, appt.Time)
	if reason = strings.TrimSpace(reason); reason != "" {
		msg += " Reason: " + reason
	}
	s.notifyParties(ctx, appt, msg)
	s.publishTerminated(ctx, appt)
	return appt, nil
}

// Cancel moves a Pending or Accepted appointment to Canceled and releases any approved payment.
func (s *AppointmentService) Cancel(ctx context.Context, id, reason string, actor Actor) (*models.Appointment, error) {
	appt, err := s.transition(ctx, id, actor, models.StatusCanceled, reason)
	if err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("Appointment on %s at %s was canceled. Reason: %s", appt.Date, appt.Time, orNA(reason))
	s.notifyParties(ctx, appt, msg)
	s.publishTerminated(ctx, appt)
	return appt, nil
}

func (s *AppointmentService) transition(
	ctx context.Context,
	id string,
	actor Actor,
	to models.AppointmentStatus,
	reason string,
) (*models.Appointment, error) {
	var (
		appt    *models.Appointment
		elapsed bool
	)
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		var err error
		appt, err = tx.Appointments.GetByID(ctx, id)
		if err != nil {
			return lookupError(err, "Appointment not found")
		}
		if err := actor.authorize(appt); err != nil {
			return err
		}
		if eff := s.effectiveStatus(appt); eff != appt.Status {
			// the slot has passed; settle it as Finished and refuse the change
			if err := tx.Appointments.UpdateStatus(ctx, appt.ID, eff); err != nil {
				return fmt.Errorf("finish appointment: %w", err)
			}
			appt.Status = eff
			elapsed = true
			return nil
		}
		if !canTransition(appt.Status, to) {
			return InvalidState("Cannot change appointment from %s to %s", appt.Status, to)
		}
		if to == models.StatusAccepted {
			if !actor.privileged() && actor.partyOf(appt) != appt.InitiatorRole.Counterpart() {
				return Forbidden("Only the %s can accept this request", appt.InitiatorRole.Counterpart())
			}
			if err := tx.Users.LockByUsername(ctx, appt.TherapistUsername); err != nil {
				return lookupError(err, "Therapist not found")
			}
			if err := ensureSlotFree(ctx, tx, appt.TherapistUsername, appt.Date, appt.Time, appt.ID); err != nil {
				return err
			}
		}

		appt.Status = to
		if reason = strings.TrimSpace(reason); reason != "" {
			appt.Reason = reason
		}
		if err := tx.Appointments.Save(ctx, appt); err != nil {
			return fmt.Errorf("save appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if elapsed {
		s.metrics.ObserveAppointmentTransition(string(models.StatusFinished))
		return nil, InvalidState("Cannot change appointment from %s to %s", appt.Status, to)
	}

	s.metrics.ObserveAppointmentTransition(string(to))
	s.logger.Info().Str("appointment_id", appt.ID).Str("status", string(to)).Msg("appointment status changed")
	return appt, nil
}

// Reschedule moves the appointment to a new slot and puts it back to Pending,
// awaiting the other party's approval.
func (s *AppointmentService) Reschedule(ctx context.Context, id string, in RescheduleInput, actor Actor) (*models.Appointment, error) {
	if strings.TrimSpace(in.NewDate) == "" || strings.TrimSpace(in.NewTime) == "" {
		return nil, InvalidArgument("newDate and newTime are required")
	}
	if !in.ReschedulerRole.Valid() {
		return nil, InvalidArgument("reschedulerRole must be patient or therapist")
	}

	var appt *models.Appointment
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		var err error
		appt, err = tx.Appointments.GetByID(ctx, id)
		if err != nil {
			return lookupError(err, "Appointment not found")
		}
		if err := s.requireFuture(in.NewDate, in.NewTime, "Cannot reschedule to a past date/time"); err != nil {
			return err
		}
		if err := actor.authorize(appt); err != nil {
			return err
		}
		if party := actor.partyOf(appt); party != "" && party != in.ReschedulerRole {
			return Forbidden("reschedulerRole does not match your role in this appointment")
		}
		if err := tx.Users.LockByUsername(ctx, appt.TherapistUsername); err != nil {
			return lookupError(err, "Therapist not found")
		}
		appt.Status = s.effectiveStatus(appt)
		if !appt.Status.IsActive() {
			if err := s.ensureNoActivePair(ctx, tx, appt.PatientUsername, appt.TherapistUsername, appt.ID); err != nil {
				return err
			}
		}

		appt.Date = strings.TrimSpace(in.NewDate)
		appt.Time = CanonicalTime(in.NewTime)
		appt.Status = models.StatusPending
		appt.InitiatorRole = in.ReschedulerRole
		if reason := strings.TrimSpace(in.Reason); reason != "" {
			appt.Reason = reason
		}
		if err := tx.Appointments.Save(ctx, appt); err != nil {
			return fmt.Errorf("save appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveAppointmentTransition(string(models.StatusPending))
	s.logger.Info().Str("appointment_id", appt.ID).Str("rescheduled_by", string(in.ReschedulerRole)).Msg("appointment rescheduled")

	msg := fmt.Sprintf("Appointment was rescheduled to %s at %s. Reason: %s. Awaiting %s approval.",
		appt.Date, appt.Time, orNA(in.Reason), in.ReschedulerRole.Counterpart())
	s.notifyParties(ctx, appt, msg)
	return appt, nil
}

// ListByUser returns the user's appointments, newest first, annotated with
// display names. Accepted appointments whose slot has passed read as Finished.
func (s *AppointmentService) ListByUser(ctx context.Context, username string, role models.Role) ([]models.AppointmentView, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, InvalidArgument("Username is required")
	}

	var (
		appts []models.Appointment
		err   error
	)
	switch role {
	case models.RolePatient:
		appts, err = s.store.Appointments.ListForPatient(ctx, username)
	case models.RoleTherapist:
		appts, err = s.store.Appointments.ListForTherapist(ctx, username)
	default:
		return nil, InvalidArgument("Role must be patient or therapist")
	}
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	names := make([]string, 0, len(appts)*2)
	for _, a := range appts {
		names = append(names, a.PatientUsername, a.TherapistUsername)
	}
	users, err := s.store.Users.MapByUsernames(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("load appointment parties: %w", err)
	}

	views := make([]models.AppointmentView, 0, len(appts))
	for _, a := range appts {
		a.Status = s.effectiveStatus(&a)
		views = append(views, models.AppointmentView{
			Appointment:       a,
			PatientFullName:   models.PatientDisplayName(users[a.PatientUsername], a.PatientUsername),
			TherapistFullName: models.TherapistDisplayName(users[a.TherapistUsername], a.TherapistUsername),
		})
	}
	return views, nil
}

// BookedTimes lists the Accepted times of a therapist on one date.
func (s *AppointmentService) BookedTimes(ctx context.Context, therapist, date string) ([]string, error) {
	if strings.TrimSpace(therapist) == "" || strings.TrimSpace(date) == "" {
		return nil, InvalidArgument("therapist and date are required")
	}
	times, err := s.store.Appointments.BookedTimes(ctx, strings.TrimSpace(therapist), strings.TrimSpace(date))
	if err != nil {
		return nil, fmt.Errorf("booked times: %w", err)
	}
	return times, nil
}

// FinishPast persists Finished for Accepted appointments whose slot has passed.
// Only rows dated today or earlier are scanned.
func (s *AppointmentService) FinishPast(ctx context.Context) (int, error) {
	now := s.now()
	today := now.In(s.loc).Format("2006-01-02")
	appts, err := s.store.Appointments.ListAcceptedOnOrBefore(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("list accepted appointments: %w", err)
	}

	finished := 0
	for _, a := range appts {
		if !slotInPast(a.Date, a.Time, s.loc, now) {
			continue
		}
		if err := s.store.Appointments.UpdateStatus(ctx, a.ID, models.StatusFinished); err != nil {
			return finished, fmt.Errorf("finish appointment %s: %w", a.ID, err)
		}
		s.metrics.ObserveAppointmentTransition(string(models.StatusFinished))
		finished++
	}
	if finished > 0 {
		s.logger.Info().Int("count", finished).Msg("past appointments finished")
	}
	return finished, nil
}

// AddNote appends a timestamped session note.
func (s *AppointmentService) AddNote(ctx context.Context, id, text string, actor Actor) (*models.Appointment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, InvalidArgument("Note text is required")
	}
	return s.updateNotes(ctx, id, actor, func(appt *models.Appointment) error {
		appt.SessionNotes = append(appt.SessionNotes, models.SessionNote{Note: text, Timestamp: s.now()})
		return nil
	})
}

// DeleteNote removes the session note at index.
func (s *AppointmentService) DeleteNote(ctx context.Context, id string, index int, actor Actor) (*models.Appointment, error) {
	return s.updateNotes(ctx, id, actor, func(appt *models.Appointment) error {
		if index < 0 || index >= len(appt.SessionNotes) {
			return InvalidArgument("Invalid note index")
		}
		notes := make([]models.SessionNote, 0, len(appt.SessionNotes)-1)
		notes = append(notes, appt.SessionNotes[:index]...)
		notes = append(notes, appt.SessionNotes[index+1:]...)
		appt.SessionNotes = notes
		return nil
	})
}

func (s *AppointmentService) updateNotes(
	ctx context.Context,
	id string,
	actor Actor,
	mutate func(*models.Appointment) error,
) (*models.Appointment, error) {
	var appt *models.Appointment
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		var err error
		appt, err = tx.Appointments.GetByID(ctx, id)
		if err != nil {
			return lookupError(err, "Appointment not found")
		}
		if err := actor.authorize(appt); err != nil {
			return err
		}
		if err := mutate(appt); err != nil {
			return err
		}
		if err := tx.Appointments.Save(ctx, appt); err != nil {
			return fmt.Errorf("save session notes: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

func (s *AppointmentService) effectiveStatus(a *models.Appointment) models.AppointmentStatus {
	if a.Status == models.StatusAccepted && slotInPast(a.Date, a.Time, s.loc, s.now()) {
		return models.StatusFinished
	}
	return a.Status
}

func (s *AppointmentService) requireFuture(date, clock, pastMessage string) error {
	t, ok := ParseSlot(date, clock, s.loc)
	if !ok {
		return InvalidArgument("Invalid date or time")
	}
	if !t.After(s.now()) {
		return InvalidArgument("%s", pastMessage)
	}
	return nil
}

func (s *AppointmentService) notifyParties(ctx context.Context, appt *models.Appointment, msg string) {
	refs := Refs{AppointmentID: appt.ID}
	s.notifier.NotifyBestEffort(ctx, appt.PatientUsername, msg, refs)
	s.notifier.NotifyBestEffort(ctx, appt.TherapistUsername, msg, refs)
}

func (s *AppointmentService) publishTerminated(ctx context.Context, appt *models.Appointment) {
	evt := AppointmentTerminated{
		AppointmentID:   appt.ID,
		PatientUsername: appt.PatientUsername,
		Status:          appt.Status,
	}
	if appt.PaymentID != nil {
		evt.PaymentID = *appt.PaymentID
	}
	for _, l := range s.listeners {
		if err := l.OnAppointmentTerminated(ctx, evt); err != nil {
			s.metrics.ObserveCascadeFailure()
			s.logger.Error().Err(err).Str("appointment_id", appt.ID).Str("payment_id", evt.PaymentID).
				Msg("appointment termination listener failed")
		}
	}
}

func (s *AppointmentService) ensureNoActivePair(ctx context.Context, tx *repository.Store, patient, therapist, excludeID string) error {
	_, err := findActivePair(ctx, tx, patient, therapist, excludeID, s.loc, s.now())
	switch {
	case err == nil:
		return Conflict("You already have a pending or accepted appointment with this therapist.")
	case errors.Is(err, repository.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("check active appointment: %w", err)
	}
}

// findActivePair returns the pair's Pending or Accepted appointment. An Accepted
// one whose slot has passed is persisted as Finished and skipped.
func findActivePair(
	ctx context.Context,
	tx *repository.Store,
	patient, therapist, excludeID string,
	loc *time.Location,
	now time.Time,
) (*models.Appointment, error) {
	for {
		appt, err := tx.Appointments.FindActiveForPair(ctx, patient, therapist, excludeID)
		if err != nil {
			return nil, err
		}
		if appt.Status != models.StatusAccepted || !slotInPast(appt.Date, appt.Time, loc, now) {
			return appt, nil
		}
		if err := tx.Appointments.UpdateStatus(ctx, appt.ID, models.StatusFinished); err != nil {
			return nil, fmt.Errorf("finish appointment %s: %w", appt.ID, err)
		}
	}
}

func ensureSlotFree(ctx context.Context, tx *repository.Store, therapist, date, clock, excludeID string) error {
	_, err := tx.Appointments.FindAcceptedInSlot(ctx, therapist, date, clock, excludeID)
	switch {
	case err == nil:
		return Conflict("This time slot is already booked. Please choose a different one.")
	case errors.Is(err, repository.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("check slot: %w", err)
	}
}

// lookupError maps a repository miss to NotFound and wraps anything else.
func lookupError(err error, notFound string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return NotFound("%s", notFound)
	}
	return fmt.Errorf("lookup: %w", err)
}

func orNA(s string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return "N/A"
}
