package service

import (
	"fmt"
	"regexp"
	"time"
)

const dateLayout = "2006-01-02"

var clockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// parseClock converts a zero-padded "HH:MM" string to minutes since midnight.
func parseClock(s string) (int, error) {
	if !clockPattern.MatchString(s) {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return h*60 + m, nil
}

// parseDate parses a "YYYY-MM-DD" calendar date in the given location.
func parseDate(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, loc)
}

// clockOf formats a time's wall clock as "HH:MM".
func clockOf(t time.Time) string {
	return t.Format("15:04")
}

// splitTimeSlot breaks "HH:MM-HH:MM" into validated start and end strings.
func splitTimeSlot(slot string) (string, string, error) {
	if len(slot) != 11 || slot[5] != '-' {
		return "", "", fmt.Errorf("invalid time slot %q, expected HH:MM-HH:MM", slot)
	}
	start, end := slot[:5], slot[6:]
	startMin, err := parseClock(start)
	if err != nil {
		return "", "", err
	}
	endMin, err := parseClock(end)
	if err != nil {
		return "", "", err
	}
	if startMin >= endMin {
		return "", "", fmt.Errorf("time slot %q must start before it ends", slot)
	}
	return start, end, nil
}
