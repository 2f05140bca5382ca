package models

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
)

// Role enum
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleTherapist Role = "therapist"
	RolePatient   Role = "patient"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTherapist, RolePatient:
		return true
	}
	return false
}

// User represents a user in the system
type User struct {
	BaseModel
	Username  string `gorm:"uniqueIndex;size:100;not null" json:"username"`
	Email     string `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Password  string `gorm:"size:255;not null" json:"-"` // Never send password in JSON
	FirstName string `gorm:"size:100" json:"firstName"`
	LastName  string `gorm:"size:100" json:"lastName"`
	Role      Role   `gorm:"size:20;index;not null" json:"role"`

	// AvailableSlots is the therapist's published weekly availability.
	AvailableSlots datatypes.JSONSlice[AvailabilitySlot] `json:"availableSlots,omitempty"`
}

// AvailabilitySlot is a recurring weekly window, e.g. Monday 9:00 AM to 1:00 PM.
type AvailabilitySlot struct {
	Day   string `json:"day"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// UserSanitized represents the user data that is safe to send in API responses.
type UserSanitized struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SetPassword hashes a password and sets it on the user
func (u *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.Password = string(hashedPassword)
	return nil
}

// CheckPassword compares a password with the user's hashed password
func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password))
	return err == nil
}

// Sanitize creates a UserSanitized struct from a User model, excluding sensitive data.
func (u *User) Sanitize() UserSanitized {
	return UserSanitized{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// PatientDisplayName returns "First Last" when both names are known.
func PatientDisplayName(u *User, username string) string {
	if u != nil && strings.TrimSpace(u.FirstName) != "" && strings.TrimSpace(u.LastName) != "" {
		return u.FirstName + " " + u.LastName
	}
	return username
}

// TherapistDisplayName returns "Dr. First Last", falling back to "Dr. username".
func TherapistDisplayName(u *User, username string) string {
	if u != nil && strings.TrimSpace(u.FirstName) != "" && strings.TrimSpace(u.LastName) != "" {
		return "Dr. " + u.FirstName + " " + u.LastName
	}
	if username == "" {
		username = "N/A"
	}
	return "Dr. " + username
}
