package services

import (
	"context"

	"therapy-scheduling-server/internal/models"
)

// AppointmentTerminated is published after an appointment is rejected or canceled.
type AppointmentTerminated struct {
	AppointmentID   string
	PaymentID       string
	PatientUsername string
	Status          models.AppointmentStatus
}

// AppointmentListener consumes appointment lifecycle events.
// Listeners run after the transition is committed; their errors are logged only.
type AppointmentListener interface {
	OnAppointmentTerminated(ctx context.Context, evt AppointmentTerminated) error
}
