package models

import "time"

// AvailabilityPattern is a teacher's recurring weekly availability window.
// Times are local wall-clock "HH:MM" strings; day_of_week is 0 (Sunday)
// through 6 (Saturday). Patterns are never hard-deleted; deactivation keeps
// historical bookings resolvable.
type AvailabilityPattern struct {
	ID          string    `db:"id" json:"id"`
	TeacherID   string    `db:"teacher_id" json:"teacher_id"`
	DayOfWeek   int       `db:"day_of_week" json:"day_of_week"`
	StartTime   string    `db:"start_time" json:"start_time"`
	EndTime     string    `db:"end_time" json:"end_time"`
	MaxCapacity int       `db:"max_capacity" json:"max_capacity"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// SlotUsage aggregates active bookings per concrete slot instance.
type SlotUsage struct {
	Date      string `db:"date"`
	StartTime string `db:"start_time"`
	Count     int    `db:"count"`
}

// Slot is a concrete bookable instance derived from a pattern for a calendar
// date, annotated with how much capacity remains.
type Slot struct {
	TeacherID string `json:"teacher_id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Capacity  int    `json:"capacity"`
	Booked    int    `json:"booked"`
	Available int    `json:"available"`
}
