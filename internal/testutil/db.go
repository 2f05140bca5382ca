// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"therapy-scheduling-server/internal/models"
)

// NewDB opens a private in-memory sqlite database with the schema migrated.
// The pool is pinned to one connection so every query sees the same memory DB.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

// SeedUser inserts a user with the given role and display names.
func SeedUser(t *testing.T, db *gorm.DB, username string, role models.Role, first, last string) *models.User {
	t.Helper()

	u := &models.User{
		Username:  username,
		Email:     username + "@example.com",
		FirstName: first,
		LastName:  last,
		Role:      role,
	}
	u.Password = "not-a-real-hash"
	if err := db.WithContext(context.Background()).Create(u).Error; err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
	return u
}
