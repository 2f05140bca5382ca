package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"therapy-scheduling-server/internal/metrics"
	"therapy-scheduling-server/internal/models"
	"therapy-scheduling-server/internal/repository"
)

// Refs are the optional back-references stored on a notification.
type Refs struct {
	AppointmentID string
	PaymentID     string
}

// NotificationService records pre-rendered messages addressed to a username.
type NotificationService struct {
	repo    repository.NotificationRepository
	logger  zerolog.Logger
	metrics *metrics.WorkflowMetrics
}

func NewNotificationService(repo repository.NotificationRepository, logger zerolog.Logger, m *metrics.WorkflowMetrics) *NotificationService {
	return &NotificationService{
		repo:    repo,
		logger:  logger.With().Str("component", "notifications").Logger(),
		metrics: m,
	}
}

// Notify inserts one notification.
func (s *NotificationService) Notify(ctx context.Context, recipient, message string, refs Refs) error {
	n := &models.Notification{
		RecipientUsername: recipient,
		Message:           message,
	}
	if refs.AppointmentID != "" {
		id := refs.AppointmentID
		n.AppointmentID = &id
	}
	if refs.PaymentID != "" {
		id := refs.PaymentID
		n.PaymentID = &id
	}
	if err := s.repo.Create(ctx, n); err != nil {
		s.metrics.ObserveNotification(false)
		return fmt.Errorf("create notification: %w", err)
	}
	s.metrics.ObserveNotification(true)
	return nil
}

// NotifyBestEffort is Notify for workflow side effects: failures are logged, never returned.
func (s *NotificationService) NotifyBestEffort(ctx context.Context, recipient, message string, refs Refs) {
	if err := s.Notify(ctx, recipient, message, refs); err != nil {
		s.logger.Warn().Err(err).
			Str("recipient", recipient).
			Str("appointment_id", refs.AppointmentID).
			Str("payment_id", refs.PaymentID).
			Msg("notification dropped")
	}
}

func (s *NotificationService) ListForUser(ctx context.Context, username string) ([]models.Notification, error) {
	if strings.TrimSpace(username) == "" {
		return nil, InvalidArgument("Username is required")
	}
	list, err := s.repo.ListForRecipient(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return list, nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, username string) (int64, error) {
	if strings.TrimSpace(username) == "" {
		return 0, InvalidArgument("Username is required")
	}
	count, err := s.repo.CountUnread(ctx, username)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context, username string) (int64, error) {
	if strings.TrimSpace(username) == "" {
		return 0, InvalidArgument("Username is required")
	}
	n, err := s.repo.MarkAllRead(ctx, username)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return n, nil
}
