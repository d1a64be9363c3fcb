package models

import "time"

// BookingStatus enumerates the booking lifecycle states.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
	BookingStatusCompleted BookingStatus = "COMPLETED"
)

// Terminal reports whether no transition may leave the status.
func (s BookingStatus) Terminal() bool {
	return s == BookingStatusCancelled || s == BookingStatusCompleted
}

// Valid reports whether the status is a known lifecycle state.
func (s BookingStatus) Valid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCancelled, BookingStatusCompleted:
		return true
	}
	return false
}

// Booking is a reservation of a concrete slot instance by a student.
// Version backs optimistic concurrency on status updates.
type Booking struct {
	ID        string        `db:"id" json:"id"`
	StudentID string        `db:"student_id" json:"student_id"`
	TeacherID string        `db:"teacher_id" json:"teacher_id"`
	Date      string        `db:"date" json:"date"`
	StartTime string        `db:"start_time" json:"start_time"`
	EndTime   string        `db:"end_time" json:"end_time"`
	Status    BookingStatus `db:"status" json:"status"`
	Version   int           `db:"version" json:"-"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// BookingDetail joins participant names onto a booking for API responses.
type BookingDetail struct {
	Booking
	StudentName string `db:"student_name" json:"student_name"`
	TeacherName string `db:"teacher_name" json:"teacher_name"`
}

// BookingFilter describes query params for listing bookings.
type BookingFilter struct {
	StudentID string
	TeacherID string
	Date      string
	Status    BookingStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
