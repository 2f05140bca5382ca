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

const DefaultPaymentAmount = 2500

const (
	voiceEnqueueTimeout = 5 * time.Second
	// approved recordings still unprocessed after this long are queued again
	voiceRequeueAfter = 10 * time.Minute
	voiceRequeueBatch = 50
)

// VoiceJobQueue hands an approved payment's recording to the analysis workers.
type VoiceJobQueue interface {
	EnqueueVoiceJob(ctx context.Context, paymentID string) error
}

type VoiceRecordingInput struct {
	AudioData string
	FileName  string
}

type SubmitReceiptInput struct {
	PatientUsername   string
	Method            string
	ReferenceNo       string
	Date              string
	Time              string
	TherapistUsername string
	SessionType       string
	ReceiptURL        string
	Amount            float64
	Voice             *VoiceRecordingInput
}

// PaymentStats summarizes the admin review queue.
type PaymentStats struct {
	TotalSubmissions int64 `json:"totalSubmissions"`
	ProcessedToday   int64 `json:"processedToday"`
	PendingPayments  int64 `json:"pendingPayments"`
	RefundRequests   int64 `json:"refundRequests"`
}

// PaymentService owns receipt intake and the admin review transitions.
type PaymentService struct {
	store         *repository.Store
	notifier      *NotificationService
	voice         VoiceJobQueue
	logger        zerolog.Logger
	metrics       *metrics.WorkflowMetrics
	defaultAmount float64
	loc           *time.Location
	now           func() time.Time
}

type PaymentOption func(*PaymentService)

func WithVoiceQueue(q VoiceJobQueue) PaymentOption {
	return func(s *PaymentService) {
		s.voice = q
	}
}

func WithPaymentMetrics(m *metrics.WorkflowMetrics) PaymentOption {
	return func(s *PaymentService) {
		s.metrics = m
	}
}

func WithDefaultAmount(amount float64) PaymentOption {
	return func(s *PaymentService) {
		if amount > 0 {
			s.defaultAmount = amount
		}
	}
}

// WithPaymentClock sets the clock and zone used for the daily stats window.
func WithPaymentClock(now func() time.Time, loc *time.Location) PaymentOption {
	return func(s *PaymentService) {
		if now != nil {
			s.now = now
		}
		if loc != nil {
			s.loc = loc
		}
	}
}

func NewPaymentService(
	store *repository.Store,
	notifier *NotificationService,
	logger zerolog.Logger,
	opts ...PaymentOption,
) *PaymentService {
	s := &PaymentService{
		store:         store,
		notifier:      notifier,
		logger:        logger.With().Str("component", "payments").Logger(),
		defaultAmount: DefaultPaymentAmount,
		loc:           time.Local,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitReceipt records an uploaded receipt as a Pending payment.
func (s *PaymentService) SubmitReceipt(ctx context.Context, in SubmitReceiptInput) (*models.Payment, error) {
	if strings.TrimSpace(in.ReceiptURL) == "" {
		return nil, InvalidArgument("No file uploaded. Please attach the payment receipt.")
	}

	required := []struct{ name, value string }{
		{"patientUsername", in.PatientUsername},
		{"method", in.Method},
		{"referenceNo", in.ReferenceNo},
		{"date", in.Date},
		{"time", in.Time},
		{"therapistUsername", in.TherapistUsername},
	}
	var missing []string
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return nil, InvalidArgument("Missing required fields: %s", strings.Join(missing, ", "))
	}

	method := models.PaymentMethod(strings.ToLower(strings.TrimSpace(in.Method)))
	if !method.Valid() {
		allowed := make([]string, len(models.PaymentMethods))
		for i, m := range models.PaymentMethods {
			allowed[i] = string(m)
		}
		return nil, InvalidArgument("Invalid payment method. Allowed methods: %s", strings.Join(allowed, ", "))
	}

	if _, err := s.store.Users.GetByUsername(ctx, in.PatientUsername, models.RolePatient); err != nil {
		return nil, lookupError(err, "Patient not found")
	}
	if _, err := s.store.Users.GetByUsername(ctx, in.TherapistUsername, models.RoleTherapist); err != nil {
		return nil, lookupError(err, "Therapist not found")
	}

	amount := in.Amount
	if amount <= 0 {
		amount = s.defaultAmount
	}
	payment := &models.Payment{
		PatientUsername: in.PatientUsername,
		Method:          method,
		ReferenceNo:     strings.TrimSpace(in.ReferenceNo),
		Amount:          amount,
		ReceiptURL:      in.ReceiptURL,
		SessionType:     in.SessionType,
		BookingInfo: models.BookingInfo{
			Date:              in.Date,
			Time:              CanonicalTime(in.Time),
			TherapistUsername: in.TherapistUsername,
		},
		Status: models.PaymentPending,
	}
	if in.Voice != nil && in.Voice.AudioData != "" && in.Voice.FileName != "" {
		payment.VoiceRecording = models.VoiceRecording{
			AudioData: in.Voice.AudioData,
			FileName:  in.Voice.FileName,
		}
	}

	if err := s.store.Payments.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	s.metrics.ObservePaymentTransition(string(models.PaymentPending))
	s.logger.Info().Str("payment_id", payment.ID).Str("patient", payment.PatientUsername).
		Bool("voice", payment.VoiceRecording.HasAudio()).Msg("payment receipt submitted")

	s.notifier.NotifyBestEffort(ctx, payment.PatientUsername,
		"Your payment receipt has been uploaded. Your appointment is now pending payment approval from an admin.",
		Refs{PaymentID: payment.ID})
	return payment, nil
}

// approval records what SetStatus did to the appointment side.
type approval struct {
	created *models.Appointment
	linked  *models.Appointment
}

// SetStatus applies the admin decision to a Pending payment. Approval
// materializes the requested appointment unless the pair already has an
// active one, in which case the payment is linked to it.
func (s *PaymentService) SetStatus(ctx context.Context, id string, status models.PaymentStatus) (*models.Payment, error) {
	if status != models.PaymentApproved && status != models.PaymentDeclined {
		return nil, InvalidArgument("Invalid status. Must be Approved or Declined")
	}

	var (
		payment *models.Payment
		result  approval
	)
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		var err error
		payment, err = tx.Payments.GetByID(ctx, id)
		if err != nil {
			return lookupError(err, "Payment not found")
		}
		if payment.Status != models.PaymentPending {
			return InvalidState("Payment is already %s", payment.Status)
		}

		approved := status == models.PaymentApproved
		payment.Status = status
		if payment.AppointmentID != nil {
			if err := tx.Appointments.SetPaymentVerified(ctx, *payment.AppointmentID, approved); err != nil {
				return fmt.Errorf("mirror payment verification: %w", err)
			}
		} else if approved {
			result, err = s.attachAppointment(ctx, tx, payment)
			if err != nil {
				return err
			}
		}

		if err := tx.Payments.Save(ctx, payment); err != nil {
			return fmt.Errorf("save payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObservePaymentTransition(string(status))
	s.logger.Info().Str("payment_id", payment.ID).Str("status", string(status)).Msg("payment reviewed")

	booking := payment.BookingInfo
	refs := Refs{PaymentID: payment.ID}
	if payment.AppointmentID != nil {
		refs.AppointmentID = *payment.AppointmentID
	}

	switch {
	case status == models.PaymentDeclined:
		s.notifier.NotifyBestEffort(ctx, payment.PatientUsername,
			"Your payment was declined. Please review and resubmit your payment details.", refs)
	case result.created != nil:
		s.notifier.NotifyBestEffort(ctx, payment.PatientUsername,
			fmt.Sprintf("Your payment was approved. Appointment booked for %s at %s (pending therapist approval).",
				booking.Date, booking.Time), refs)
		s.notifier.NotifyBestEffort(ctx, booking.TherapistUsername,
			fmt.Sprintf("New appointment request from %s. (Date: %s, Time: %s)",
				s.patientName(ctx, payment.PatientUsername), booking.Date, booking.Time), refs)
	case result.linked != nil:
		s.notifier.NotifyBestEffort(ctx, payment.PatientUsername,
			fmt.Sprintf("Your payment was approved and linked to your appointment on %s at %s.",
				result.linked.Date, result.linked.Time), refs)
	default:
		s.notifier.NotifyBestEffort(ctx, payment.PatientUsername, "Your payment was approved.", refs)
	}

	if status == models.PaymentApproved {
		s.enqueueVoice(ctx, payment)
	}
	return payment, nil
}

func (s *PaymentService) attachAppointment(ctx context.Context, tx *repository.Store, payment *models.Payment) (approval, error) {
	booking := payment.BookingInfo
	if err := tx.Users.LockByUsername(ctx, booking.TherapistUsername); err != nil {
		return approval{}, lookupError(err, "Therapist not found")
	}
	existing, err := findActivePair(ctx, tx, payment.PatientUsername, booking.TherapistUsername, "", s.loc, s.now())
	switch {
	case errors.Is(err, repository.ErrNotFound):
		paymentID := payment.ID
		appt := &models.Appointment{
			PatientUsername:   payment.PatientUsername,
			TherapistUsername: booking.TherapistUsername,
			Date:              strings.TrimSpace(booking.Date),
			Time:              CanonicalTime(booking.Time),
			Status:            models.StatusPending,
			InitiatorRole:     models.InitiatorPatient,
			SessionType:       payment.SessionType,
			PaymentID:         &paymentID,
			PaymentVerified:   true,
		}
		if err := tx.Appointments.Create(ctx, appt); err != nil {
			return approval{}, fmt.Errorf("create appointment from payment: %w", err)
		}
		payment.AppointmentID = &appt.ID
		return approval{created: appt}, nil
	case err != nil:
		return approval{}, fmt.Errorf("check active appointment: %w", err)
	}

	if existing.PaymentID != nil && *existing.PaymentID != payment.ID {
		return approval{}, Conflict("The patient's active appointment with this therapist is already linked to another payment")
	}
	paymentID := payment.ID
	existing.PaymentID = &paymentID
	existing.PaymentVerified = true
	if err := tx.Appointments.Save(ctx, existing); err != nil {
		return approval{}, fmt.Errorf("link appointment to payment: %w", err)
	}
	payment.AppointmentID = &existing.ID
	return approval{linked: existing}, nil
}

func (s *PaymentService) enqueueVoice(ctx context.Context, payment *models.Payment) {
	rec := payment.VoiceRecording
	if s.voice == nil || !rec.HasAudio() || rec.Processed {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), voiceEnqueueTimeout)
	defer cancel()
	if err := s.voice.EnqueueVoiceJob(ctx, payment.ID); err != nil {
		s.logger.Error().Err(err).Str("payment_id", payment.ID).Msg("voice analysis not queued, will retry from sweep")
		return
	}
	s.logger.Debug().Str("payment_id", payment.ID).Msg("voice analysis queued")
}

// RequeueUnprocessedVoice queues again the approved recordings that were never
// analyzed, such as jobs lost to a full queue or a crash after commit.
func (s *PaymentService) RequeueUnprocessedVoice(ctx context.Context) (int, error) {
	if s.voice == nil {
		return 0, nil
	}
	payments, err := s.store.Payments.ListUnprocessedVoice(ctx, s.now().Add(-voiceRequeueAfter), voiceRequeueBatch)
	if err != nil {
		return 0, fmt.Errorf("list unprocessed voice: %w", err)
	}

	queued := 0
	for _, p := range payments {
		if err := s.voice.EnqueueVoiceJob(ctx, p.ID); err != nil {
			return queued, fmt.Errorf("requeue voice job %s: %w", p.ID, err)
		}
		queued++
	}
	if queued > 0 {
		s.logger.Info().Int("count", queued).Msg("unprocessed voice recordings requeued")
	}
	return queued, nil
}

// MarkRefunded closes a Declined or Refund Pending payment.
func (s *PaymentService) MarkRefunded(ctx context.Context, id string) (*models.Payment, error) {
	var payment *models.Payment
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		var err error
		payment, err = tx.Payments.GetByID(ctx, id)
		if err != nil {
			return lookupError(err, "Payment not found")
		}
		if payment.Status != models.PaymentDeclined && payment.Status != models.PaymentRefundPending {
			return InvalidState("Only declined or refund-pending payments can be marked refunded (current status: %s)", payment.Status)
		}
		payment.Status = models.PaymentRefunded
		if err := tx.Payments.Save(ctx, payment); err != nil {
			return fmt.Errorf("save payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObservePaymentTransition(string(models.PaymentRefunded))
	s.logger.Info().Str("payment_id", payment.ID).Msg("payment refunded")
	return payment, nil
}

// OnAppointmentTerminated moves an Approved payment to Refund Pending once its
// appointment is rejected or canceled. Any other payment status is left alone.
func (s *PaymentService) OnAppointmentTerminated(ctx context.Context, evt AppointmentTerminated) error {
	if evt.PaymentID == "" {
		return nil
	}

	var (
		payment *models.Payment
		changed bool
	)
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		var err error
		payment, err = tx.Payments.GetByID(ctx, evt.PaymentID)
		if err != nil {
			return lookupError(err, "Payment not found")
		}
		if payment.Status != models.PaymentApproved {
			return nil
		}
		payment.Status = models.PaymentRefundPending
		if err := tx.Payments.Save(ctx, payment); err != nil {
			return fmt.Errorf("save payment: %w", err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	s.metrics.ObservePaymentTransition(string(models.PaymentRefundPending))
	s.logger.Info().Str("payment_id", payment.ID).Str("appointment_id", evt.AppointmentID).
		Str("appointment_status", string(evt.Status)).Msg("payment moved to refund pending")

	s.notifier.NotifyBestEffort(ctx, payment.PatientUsername,
		fmt.Sprintf("Your appointment was %s. A refund of %.0f for your payment (ref %s) is pending admin confirmation.",
			strings.ToLower(string(evt.Status)), payment.Amount, payment.ReferenceNo),
		Refs{AppointmentID: evt.AppointmentID, PaymentID: payment.ID})
	return nil
}

// Get returns one payment.
func (s *PaymentService) Get(ctx context.Context, id string) (*models.Payment, error) {
	payment, err := s.store.Payments.GetByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "Payment not found")
	}
	return payment, nil
}

// List returns payments in the given statuses (all when none), annotated for
// the admin screens.
func (s *PaymentService) List(ctx context.Context, statuses ...models.PaymentStatus) ([]models.PaymentView, error) {
	payments, err := s.store.Payments.ListByStatus(ctx, statuses...)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}

	names := make([]string, 0, len(payments)*2)
	var apptIDs []string
	for _, p := range payments {
		names = append(names, p.PatientUsername, p.BookingInfo.TherapistUsername)
		if p.AppointmentID != nil {
			apptIDs = append(apptIDs, *p.AppointmentID)
		}
	}
	users, err := s.store.Users.MapByUsernames(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("load payment parties: %w", err)
	}
	appts, err := s.store.Appointments.MapByIDs(ctx, apptIDs)
	if err != nil {
		return nil, fmt.Errorf("load linked appointments: %w", err)
	}

	views := make([]models.PaymentView, 0, len(payments))
	for _, p := range payments {
		bookingStatus := "N/A"
		if p.AppointmentID != nil {
			if a, ok := appts[*p.AppointmentID]; ok {
				bookingStatus = string(a.Status)
			}
		}
		views = append(views, models.PaymentView{
			Payment:           p,
			PatientFullName:   models.PatientDisplayName(users[p.PatientUsername], p.PatientUsername),
			TherapistFullName: models.TherapistDisplayName(users[p.BookingInfo.TherapistUsername], p.BookingInfo.TherapistUsername),
			BookingStatus:     bookingStatus,
		})
	}
	return views, nil
}

// Stats counts submissions, today's decisions, pending and refund requests.
func (s *PaymentService) Stats(ctx context.Context) (PaymentStats, error) {
	var stats PaymentStats
	var err error

	if stats.TotalSubmissions, err = s.store.Payments.CountByStatus(ctx); err != nil {
		return stats, fmt.Errorf("count payments: %w", err)
	}
	if stats.PendingPayments, err = s.store.Payments.CountByStatus(ctx, models.PaymentPending); err != nil {
		return stats, fmt.Errorf("count pending payments: %w", err)
	}
	if stats.RefundRequests, err = s.store.Payments.CountByStatus(ctx, models.PaymentRefundPending); err != nil {
		return stats, fmt.Errorf("count refund requests: %w", err)
	}

	now := s.now().In(s.loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	if stats.ProcessedToday, err = s.store.Payments.CountProcessedBetween(ctx, start, start.AddDate(0, 0, 1)); err != nil {
		return stats, fmt.Errorf("count processed payments: %w", err)
	}
	return stats, nil
}

// RefundRequestCount is the number of payments awaiting a refund.
func (s *PaymentService) RefundRequestCount(ctx context.Context) (int64, error) {
	count, err := s.store.Payments.CountByStatus(ctx, models.PaymentRefundPending)
	if err != nil {
		return 0, fmt.Errorf("count refund requests: %w", err)
	}
	return count, nil
}

func (s *PaymentService) patientName(ctx context.Context, username string) string {
	u, err := s.store.Users.GetByUsername(ctx, username, "")
	if err != nil {
		return username
	}
	return models.PatientDisplayName(u, username)
}
