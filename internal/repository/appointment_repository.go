package repository

import (
	"context"

	"gorm.io/gorm"

	"therapy-scheduling-server/internal/models"
)

type AppointmentRepository interface {
	Create(ctx context.Context, appt *models.Appointment) error
	GetByID(ctx context.Context, id string) (*models.Appointment, error)
	MapByIDs(ctx context.Context, ids []string) (map[string]*models.Appointment, error)
	// Save writes every column of appt.
	Save(ctx context.Context, appt *models.Appointment) error
	// Active (Pending/Accepted) appointment between the pair, ignoring excludeID.
	FindActiveForPair(ctx context.Context, patient, therapist, excludeID string) (*models.Appointment, error)
	// Accepted appointment occupying the therapist's slot, ignoring excludeID.
	FindAcceptedInSlot(ctx context.Context, therapist, date, time, excludeID string) (*models.Appointment, error)
	// Appointments of one party, newest created first.
	ListForPatient(ctx context.Context, username string) ([]models.Appointment, error)
	ListForTherapist(ctx context.Context, username string) ([]models.Appointment, error)
	// Accepted appointments dated on or before date (YYYY-MM-DD string order).
	ListAcceptedOnOrBefore(ctx context.Context, date string) ([]models.Appointment, error)
	BookedTimes(ctx context.Context, therapist, date string) ([]string, error)
	UpdateStatus(ctx context.Context, id string, status models.AppointmentStatus) error
	SetPaymentVerified(ctx context.Context, id string, verified bool) error
}

type GormAppointmentRepository struct {
	db *gorm.DB
}

func NewGormAppointmentRepository(db *gorm.DB) *GormAppointmentRepository {
	return &GormAppointmentRepository{db: db}
}

func (r *GormAppointmentRepository) Create(ctx context.Context, appt *models.Appointment) error {
	return r.db.WithContext(ctx).Create(appt).Error
}

func (r *GormAppointmentRepository) GetByID(ctx context.Context, id string) (*models.Appointment, error) {
	var a models.Appointment
	if err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

func (r *GormAppointmentRepository) MapByIDs(ctx context.Context, ids []string) (map[string]*models.Appointment, error) {
	result := make(map[string]*models.Appointment, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var appts []models.Appointment
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&appts).Error; err != nil {
		return nil, err
	}
	for i := range appts {
		result[appts[i].ID] = &appts[i]
	}
	return result, nil
}

func (r *GormAppointmentRepository) Save(ctx context.Context, appt *models.Appointment) error {
	return r.db.WithContext(ctx).Save(appt).Error
}

func (r *GormAppointmentRepository) FindActiveForPair(
	ctx context.Context,
	patient, therapist, excludeID string,
) (*models.Appointment, error) {
	q := r.db.WithContext(ctx).
		Where("patient_username = ? AND therapist_username = ?", patient, therapist).
		Where("status IN ?", models.ActiveStatuses)
	if excludeID != "" {
		q = q.Where("id <> ?", excludeID)
	}
	var a models.Appointment
	if err := q.Order("created_at DESC").First(&a).Error; err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

func (r *GormAppointmentRepository) FindAcceptedInSlot(
	ctx context.Context,
	therapist, date, time, excludeID string,
) (*models.Appointment, error) {
	q := r.db.WithContext(ctx).
		Where("therapist_username = ? AND date = ? AND time = ?", therapist, date, time).
		Where("status = ?", models.StatusAccepted)
	if excludeID != "" {
		q = q.Where("id <> ?", excludeID)
	}
	var a models.Appointment
	if err := q.First(&a).Error; err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

func (r *GormAppointmentRepository) ListForPatient(ctx context.Context, username string) ([]models.Appointment, error) {
	return r.listBy(ctx, "patient_username", username)
}

func (r *GormAppointmentRepository) ListForTherapist(ctx context.Context, username string) ([]models.Appointment, error) {
	return r.listBy(ctx, "therapist_username", username)
}

func (r *GormAppointmentRepository) listBy(ctx context.Context, column, username string) ([]models.Appointment, error) {
	var appts []models.Appointment
	err := r.db.WithContext(ctx).
		Where(column+" = ?", username).
		Order("created_at DESC").
		Find(&appts).Error
	return appts, err
}

func (r *GormAppointmentRepository) ListAcceptedOnOrBefore(ctx context.Context, date string) ([]models.Appointment, error) {
	var appts []models.Appointment
	err := r.db.WithContext(ctx).
		Where("status = ? AND date <= ?", models.StatusAccepted, date).
		Find(&appts).Error
	return appts, err
}

func (r *GormAppointmentRepository) BookedTimes(ctx context.Context, therapist, date string) ([]string, error) {
	times := []string{}
	err := r.db.WithContext(ctx).
		Model(&models.Appointment{}).
		Where("therapist_username = ? AND date = ? AND status = ?", therapist, date, models.StatusAccepted).
		Order("time").
		Pluck("time", &times).Error
	return times, err
}

func (r *GormAppointmentRepository) UpdateStatus(ctx context.Context, id string, status models.AppointmentStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Appointment{}).
		Where("id = ?", id).
		Update("status", status).
		Error
}

func (r *GormAppointmentRepository) SetPaymentVerified(ctx context.Context, id string, verified bool) error {
	return r.db.WithContext(ctx).
		Model(&models.Appointment{}).
		Where("id = ?", id).
		Update("payment_verified", verified).
		Error
}
