package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"therapy-scheduling-server/internal/metrics"
	"therapy-scheduling-server/internal/models"
	"therapy-scheduling-server/internal/report"
	"therapy-scheduling-server/internal/repository"
)

// Processor analyzes one payment's voice recording and reports it to the therapist.
// Analysis and delivery failures are absorbed; only persistence errors are returned.
type Processor struct {
	payments  repository.PaymentRepository
	users     repository.UserRepository
	analyzer  Analyzer
	generator report.Generator
	deliverer report.Deliverer
	logger    zerolog.Logger
	metrics   *metrics.WorkflowMetrics
	now       func() time.Time
}

type ProcessorOption func(*Processor)

// WithDeliverer sets where rendered reports go. Without one, reportSent stays false.
func WithDeliverer(d report.Deliverer) ProcessorOption {
	return func(p *Processor) {
		p.deliverer = d
	}
}

func WithProcessorMetrics(m *metrics.WorkflowMetrics) ProcessorOption {
	return func(p *Processor) {
		p.metrics = m
	}
}

func NewProcessor(
	store *repository.Store,
	analyzer Analyzer,
	generator report.Generator,
	logger zerolog.Logger,
	opts ...ProcessorOption,
) *Processor {
	p := &Processor{
		payments:  store.Payments,
		users:     store.Users,
		analyzer:  analyzer,
		generator: generator,
		logger:    logger.With().Str("component", "voice_processor").Logger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) Process(ctx context.Context, paymentID string) error {
	payment, err := p.payments.GetByID(ctx, paymentID)
	if errors.Is(err, repository.ErrNotFound) {
		p.logger.Warn().Str("payment_id", paymentID).Msg("voice job for unknown payment")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load payment: %w", err)
	}

	rec := payment.VoiceRecording
	if !rec.HasAudio() || rec.Processed {
		p.logger.Debug().Str("payment_id", paymentID).Msg("nothing to analyze")
		return nil
	}

	result := p.analyze(ctx, paymentID, rec.AudioData)
	analysisJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	rec.Processed = true
	rec.EmotionResult = result.Emotion
	rec.Analysis = datatypes.JSON(analysisJSON)
	if err := p.payments.UpdateVoiceRecording(ctx, paymentID, rec); err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}

	if !p.deliverReport(ctx, payment, result) {
		return nil
	}
	rec.ReportSent = true
	if err := p.payments.UpdateVoiceRecording(ctx, paymentID, rec); err != nil {
		return fmt.Errorf("mark report sent: %w", err)
	}
	p.metrics.ObserveVoiceOutcome("report_sent")
	return nil
}

func (p *Processor) analyze(ctx context.Context, paymentID, audio string) Result {
	if p.analyzer == nil {
		p.metrics.ObserveVoiceOutcome("fallback")
		return Fallback()
	}

	start := time.Now()
	result, err := p.analyzer.Analyze(ctx, audio)
	p.metrics.ObserveAnalysisLatency(time.Since(start).Seconds())
	if err != nil {
		p.logger.Warn().Err(err).Str("payment_id", paymentID).Msg("emotion analysis failed, using neutral fallback")
		p.metrics.ObserveVoiceOutcome("fallback")
		return Fallback()
	}
	p.metrics.ObserveVoiceOutcome("analyzed")
	return result
}

// deliverReport renders and sends the report, reporting whether it reached the therapist.
func (p *Processor) deliverReport(ctx context.Context, payment *models.Payment, result Result) bool {
	log := p.logger.With().Str("payment_id", payment.ID).Logger()

	if p.deliverer == nil || p.generator == nil {
		log.Debug().Msg("report delivery disabled")
		return false
	}

	therapistName := payment.BookingInfo.TherapistUsername
	therapist, err := p.users.GetByUsername(ctx, therapistName, models.RoleTherapist)
	if err != nil {
		log.Warn().Err(err).Str("therapist", therapistName).Msg("report recipient not found")
		p.metrics.ObserveVoiceOutcome("report_failed")
		return false
	}
	patient, _ := p.users.GetByUsername(ctx, payment.PatientUsername, "")
	patientName := models.PatientDisplayName(patient, payment.PatientUsername)

	features := make([]report.Feature, 0, len(FeatureNames))
	for _, name := range FeatureNames {
		features = append(features, report.Feature{Name: name, Value: result.Features[name]})
	}
	pdf, err := p.generator.Generate(report.Data{
		PatientName:   patientName,
		TherapistName: models.TherapistDisplayName(therapist, therapistName),
		Emotion:       result.Emotion,
		Features:      features,
		Fallback:      result.Fallback,
		GeneratedAt:   p.now(),
	})
	if err != nil {
		log.Error().Err(err).Msg("report generation failed")
		p.metrics.ObserveVoiceOutcome("report_failed")
		return false
	}

	err = p.deliverer.Deliver(ctx, report.Delivery{
		To:             therapist.Email,
		ToName:         models.TherapistDisplayName(therapist, therapistName),
		Subject:        "Voice analysis report for " + patientName,
		Body:           fmt.Sprintf("Attached is the voice emotion analysis for %s ahead of the session on %s at %s.", patientName, payment.BookingInfo.Date, payment.BookingInfo.Time),
		AttachmentName: fmt.Sprintf("voice-report-%s.pdf", payment.ID),
		PDF:            pdf,
	})
	if err != nil {
		log.Error().Err(err).Msg("report delivery failed")
		p.metrics.ObserveVoiceOutcome("report_failed")
		return false
	}
	return true
}
