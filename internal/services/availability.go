package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"therapy-scheduling-server/internal/models"
)

const noAvailability = "Therapist not found or no availability set"

var weekdays = map[string]string{
	"monday":    "Monday",
	"tuesday":   "Tuesday",
	"wednesday": "Wednesday",
	"thursday":  "Thursday",
	"friday":    "Friday",
	"saturday":  "Saturday",
	"sunday":    "Sunday",
}

// TherapistAvailability returns the weekly slots a therapist has published.
func (s *AppointmentService) TherapistAvailability(ctx context.Context, username string) ([]models.AvailabilitySlot, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, InvalidArgument("Therapist username is required")
	}
	therapist, err := s.store.Users.GetByUsername(ctx, username, models.RoleTherapist)
	if err != nil {
		return nil, lookupError(err, noAvailability)
	}
	if len(therapist.AvailableSlots) == 0 {
		return nil, NotFound(noAvailability)
	}
	return therapist.AvailableSlots, nil
}

// SetTherapistAvailability replaces a therapist's weekly slots. Days are
// normalized to their English names and times to the canonical clock format.
func (s *AppointmentService) SetTherapistAvailability(
	ctx context.Context,
	username string,
	slots []models.AvailabilitySlot,
	actor Actor,
) ([]models.AvailabilitySlot, error) {
	username = strings.TrimSpace(username)
	if !actor.privileged() && (actor.Role != models.RoleTherapist || actor.Username != username) {
		return nil, Forbidden("You can only set your own availability")
	}

	normalized := make([]models.AvailabilitySlot, 0, len(slots))
	for i, slot := range slots {
		day, ok := weekdays[strings.ToLower(strings.TrimSpace(slot.Day))]
		if !ok {
			return nil, InvalidArgument("Invalid time slot format: slot %d has unknown day %q", i, slot.Day)
		}
		start, okStart := ParseSlot("2000-01-01", slot.Start, time.UTC)
		end, okEnd := ParseSlot("2000-01-01", slot.End, time.UTC)
		if !okStart || !okEnd {
			return nil, InvalidArgument("Invalid time slot format: slot %d", i)
		}
		if !end.After(start) {
			return nil, InvalidArgument("Invalid time slot format: slot %d ends before it starts", i)
		}
		normalized = append(normalized, models.AvailabilitySlot{
			Day:   day,
			Start: start.Format("3:04 PM"),
			End:   end.Format("3:04 PM"),
		})
	}

	if _, err := s.store.Users.GetByUsername(ctx, username, models.RoleTherapist); err != nil {
		return nil, lookupError(err, "Therapist not found")
	}
	if err := s.store.Users.UpdateAvailability(ctx, username, normalized); err != nil {
		return nil, fmt.Errorf("update availability: %w", err)
	}
	s.logger.Info().Str("therapist", username).Int("slots", len(normalized)).Msg("availability updated")
	return normalized, nil
}
