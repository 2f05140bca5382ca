package repository

import (
	"context"

	"gorm.io/gorm"

	"therapy-scheduling-server/internal/models"
)

type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	// Notifications addressed to username, newest first.
	ListForRecipient(ctx context.Context, username string) ([]models.Notification, error)
	CountUnread(ctx context.Context, username string) (int64, error)
	// Flags every unread notification of username as read; returns rows touched.
	MarkAllRead(ctx context.Context, username string) (int64, error)
}

type GormNotificationRepository struct {
	db *gorm.DB
}

func NewGormNotificationRepository(db *gorm.DB) *GormNotificationRepository {
	return &GormNotificationRepository{db: db}
}

func (r *GormNotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *GormNotificationRepository) ListForRecipient(ctx context.Context, username string) ([]models.Notification, error) {
	var list []models.Notification
	err := r.db.WithContext(ctx).
		Where("recipient_username = ?", username).
		Order("created_at DESC").
		Find(&list).Error
	return list, err
}

func (r *GormNotificationRepository) CountUnread(ctx context.Context, username string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("recipient_username = ? AND is_read = ?", username, false).
		Count(&total).Error
	return total, err
}

func (r *GormNotificationRepository) MarkAllRead(ctx context.Context, username string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("recipient_username = ? AND is_read = ?", username, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}
