package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"therapy-scheduling-server/internal/models"
)

type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByID(ctx context.Context, id string) (*models.Payment, error)
	Save(ctx context.Context, payment *models.Payment) error
	// Writes only the voice recording columns, leaving status untouched.
	UpdateVoiceRecording(ctx context.Context, id string, rec models.VoiceRecording) error
	// Payments in any of the statuses (all when empty), most recently updated first.
	ListByStatus(ctx context.Context, statuses ...models.PaymentStatus) ([]models.Payment, error)
	CountByStatus(ctx context.Context, statuses ...models.PaymentStatus) (int64, error)
	// Approved payments with an unprocessed voice clip last updated before the
	// cutoff, oldest first. AudioData is not loaded.
	ListUnprocessedVoice(ctx context.Context, updatedBefore time.Time, limit int) ([]models.Payment, error)
	// Approved/Declined payments last updated in [from, to).
	CountProcessedBetween(ctx context.Context, from, to time.Time) (int64, error)
}

type GormPaymentRepository struct {
	db *gorm.DB
}

func NewGormPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

func (r *GormPaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *GormPaymentRepository) GetByID(ctx context.Context, id string) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *GormPaymentRepository) Save(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Save(payment).Error
}

func (r *GormPaymentRepository) UpdateVoiceRecording(ctx context.Context, id string, rec models.VoiceRecording) error {
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"voice_processed":      rec.Processed,
			"voice_emotion_result": rec.EmotionResult,
			"voice_report_sent":    rec.ReportSent,
			"voice_analysis":       rec.Analysis,
		}).Error
}

func (r *GormPaymentRepository) ListByStatus(ctx context.Context, statuses ...models.PaymentStatus) ([]models.Payment, error) {
	q := r.db.WithContext(ctx).Model(&models.Payment{})
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var payments []models.Payment
	err := q.Order("updated_at DESC").Find(&payments).Error
	return payments, err
}

func (r *GormPaymentRepository) CountByStatus(ctx context.Context, statuses ...models.PaymentStatus) (int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Payment{})
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var total int64
	err := q.Count(&total).Error
	return total, err
}

func (r *GormPaymentRepository) ListUnprocessedVoice(ctx context.Context, updatedBefore time.Time, limit int) ([]models.Payment, error) {
	q := r.db.WithContext(ctx).
		Omit("voice_audio_data").
		Where("status = ?", models.PaymentApproved).
		Where("voice_processed = ?", false).
		Where("voice_audio_data <> '' AND voice_file_name <> ''").
		Where("updated_at < ?", updatedBefore).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var payments []models.Payment
	err := q.Find(&payments).Error
	return payments, err
}

func (r *GormPaymentRepository) CountProcessedBetween(ctx context.Context, from, to time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("status IN ?", []models.PaymentStatus{models.PaymentApproved, models.PaymentDeclined}).
		Where("updated_at >= ? AND updated_at < ?", from, to).
		Count(&total).Error
	return total, err
}
