package models

import (
	"time"

	"gorm.io/datatypes"
)

// AppointmentStatus represents the status of an appointment
type AppointmentStatus string

const (
	StatusPending  AppointmentStatus = "Pending"
	StatusAccepted AppointmentStatus = "Accepted"
	StatusRejected AppointmentStatus = "Rejected"
	StatusCanceled AppointmentStatus = "Canceled"
	StatusFinished AppointmentStatus = "Finished"
)

// ActiveStatuses are the statuses that hold a patient/therapist pair.
var ActiveStatuses = []AppointmentStatus{StatusPending, StatusAccepted}

// IsActive reports whether the status still blocks a new booking for the pair.
func (s AppointmentStatus) IsActive() bool {
	return s == StatusPending || s == StatusAccepted
}

// InitiatorRole is the party whose request is waiting for the other side.
type InitiatorRole string

const (
	InitiatorPatient   InitiatorRole = "patient"
	InitiatorTherapist InitiatorRole = "therapist"
)

// Valid reports whether r names one of the two appointment parties.
func (r InitiatorRole) Valid() bool {
	return r == InitiatorPatient || r == InitiatorTherapist
}

// Counterpart returns the party expected to answer a request made by r.
func (r InitiatorRole) Counterpart() InitiatorRole {
	if r == InitiatorTherapist {
		return InitiatorPatient
	}
	return InitiatorTherapist
}

// SessionNote is one entry of an appointment's ordered note list.
type SessionNote struct {
	Note      string    `json:"note"`
	Timestamp time.Time `json:"timestamp"`
}

// Appointment represents a therapy session between a patient and a therapist.
// Parties are referenced by username; the link is not enforced by the database.
type Appointment struct {
	BaseModel
	PatientUsername   string                           `gorm:"size:100;index:idx_appointment_pair" json:"patientUsername"`
	TherapistUsername string                           `gorm:"size:100;index:idx_appointment_pair;index:idx_appointment_slot" json:"therapistUsername"`
	Date              string                           `gorm:"size:20;index:idx_appointment_slot" json:"date"`
	Time              string                           `gorm:"size:20;index:idx_appointment_slot" json:"time"`
	Status            AppointmentStatus                `gorm:"size:20;index;default:'Pending'" json:"status"`
	InitiatorRole     InitiatorRole                    `gorm:"size:20;not null" json:"initiatorRole"`
	SessionType       string                           `gorm:"size:50" json:"sessionType,omitempty"`
	PaymentID         *string                          `gorm:"size:36;index" json:"paymentId,omitempty"`
	PaymentVerified   bool                             `gorm:"default:false" json:"paymentVerified"`
	Reason            string                           `gorm:"size:500" json:"reason,omitempty"`
	SessionNotes      datatypes.JSONSlice[SessionNote] `json:"sessionNotes"`
}

// AppointmentView is an appointment annotated for listing.
type AppointmentView struct {
	Appointment
	PatientFullName   string `json:"patientFullName"`
	TherapistFullName string `json:"therapistFullName"`
}
