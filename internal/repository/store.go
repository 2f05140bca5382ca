package repository

import (
	"context"
	"database/sql"
	"errors"

	"gorm.io/gorm"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("record not found")

// Store bundles the repositories that share one gorm handle, so a workflow
// can run several of them inside the same transaction.
type Store struct {
	db            *gorm.DB
	Users         UserRepository
	Appointments  AppointmentRepository
	Payments      PaymentRepository
	Notifications NotificationRepository
}

// NewStore wires the GORM repositories around db.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:            db,
		Users:         NewGormUserRepository(db),
		Appointments:  NewGormAppointmentRepository(db),
		Payments:      NewGormPaymentRepository(db),
		Notifications: NewGormNotificationRepository(db),
	}
}

// Transaction runs fn with a Store bound to a single database transaction.
// Returning an error from fn rolls the transaction back.
//
// Transactions run at READ COMMITTED so that reads issued after a row lock
// (see UserRepository.LockByUsername) see rows committed while waiting for it.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	}, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
}

// DB exposes the underlying handle for health checks and tests.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
