package services

import (
	"strings"
	"time"
)

var slotLayouts = []string{
	"2006-01-02 3:04 PM",
	"2006-01-02 03:04 PM",
	"2006-01-02 3:04PM",
	"2006-01-02 03:04PM",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
}

// ParseSlot turns a stored date and free-text time into an instant in loc.
func ParseSlot(date, clock string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	value := strings.TrimSpace(date) + " " + strings.ToUpper(strings.TrimSpace(clock))
	for _, layout := range slotLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// slotInPast reports whether the slot has started. Unparseable slots are never past.
func slotInPast(date, clock string, loc *time.Location, now time.Time) bool {
	t, ok := ParseSlot(date, clock, loc)
	return ok && !t.After(now)
}

// CanonicalTime rewrites a parseable clock time as "3:04 PM" so equal
// instants compare equal as stored strings. Anything else is returned trimmed.
func CanonicalTime(clock string) string {
	t, ok := ParseSlot("2000-01-01", clock, time.UTC)
	if !ok {
		return strings.TrimSpace(clock)
	}
	return t.Format("3:04 PM")
}
