package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/iqraspace/iqra-api/internal/models"
)

// Sentinel errors surfaced by the admission transaction and status updates.
var (
	// ErrPatternNotFound means no active availability window covers the
	// requested slot.
	ErrPatternNotFound = errors.New("no availability pattern covers the requested slot")
	// ErrCapacityExhausted means the slot already holds max_capacity active
	// bookings.
	ErrCapacityExhausted = errors.New("slot capacity exhausted")
	// ErrVersionConflict means a concurrent writer updated the booking first.
	ErrVersionConflict = errors.New("booking modified concurrently")
)

const bookingColumns = "id, student_id, teacher_id, date, start_time, end_time, status, version, created_at, updated_at"

// BookingRepository provides persistence for bookings.
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new booking repository.
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// CreateAdmitted inserts a PENDING booking iff the slot is covered by an
// active availability pattern and has spare capacity. The pattern lookup,
// capacity count and insert run in one transaction with the pattern row
// locked FOR UPDATE, so two concurrent requests for the last seat serialize
// and exactly one of them commits.
func (r *BookingRepository) CreateAdmitted(ctx context.Context, booking *models.Booking, dayOfWeek int) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin admission: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	patternQuery := fmt.Sprintf(`SELECT %s FROM teacher_availability WHERE teacher_id = $1 AND day_of_week = $2 AND start_time = $3 AND end_time = $4 AND active = TRUE LIMIT 1 FOR UPDATE`, availabilityColumns)
	var pattern models.AvailabilityPattern
	if err = tx.GetContext(ctx, &pattern, patternQuery, booking.TeacherID, dayOfWeek, booking.StartTime, booking.EndTime); err != nil {
		if err == sql.ErrNoRows {
			return ErrPatternNotFound
		}
		return fmt.Errorf("lock availability pattern: %w", err)
	}

	const countQuery = `SELECT COUNT(*) FROM bookings WHERE teacher_id = $1 AND date = $2 AND start_time = $3 AND end_time = $4 AND status IN ('PENDING', 'CONFIRMED')`
	var active int
	if err = tx.GetContext(ctx, &active, countQuery, booking.TeacherID, booking.Date, booking.StartTime, booking.EndTime); err != nil {
		return fmt.Errorf("count active bookings: %w", err)
	}
	if active >= pattern.MaxCapacity {
		err = ErrCapacityExhausted
		return err
	}

	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	booking.Status = models.BookingStatusPending
	booking.Version = 1
	booking.CreatedAt = now
	booking.UpdatedAt = now

	const insertQuery = `INSERT INTO bookings (id, student_id, teacher_id, date, start_time, end_time, status, version, created_at, updated_at) VALUES (:id, :student_id, :teacher_id, :date, :start_time, :end_time, :status, :version, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insertQuery, booking); err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit admission: %w", err)
	}
	return nil
}

// FindByID loads a booking by id.
func (r *BookingRepository) FindByID(ctx context.Context, id string) (*models.Booking, error) {
	query := fmt.Sprintf(`SELECT %s FROM bookings WHERE id = $1`, bookingColumns)
	var booking models.Booking
	if err := r.db.GetContext(ctx, &booking, query, id); err != nil {
		return nil, err
	}
	return &booking, nil
}

// FindDetailByID loads a booking with participant names.
func (r *BookingRepository) FindDetailByID(ctx context.Context, id string) (*models.BookingDetail, error) {
	const query = `SELECT b.id, b.student_id, b.teacher_id, b.date, b.start_time, b.end_time, b.status, b.version, b.created_at, b.updated_at,
        s.full_name AS student_name, t.full_name AS teacher_name
        FROM bookings b
        LEFT JOIN users s ON s.id = b.student_id
        LEFT JOIN users t ON t.id = b.teacher_id
        WHERE b.id = $1`
	var detail models.BookingDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns bookings with optional filtering and pagination.
func (r *BookingRepository) List(ctx context.Context, filter models.BookingFilter) ([]models.BookingDetail, int, error) {
	base := `FROM bookings b
LEFT JOIN users s ON s.id = b.student_id
LEFT JOIN users t ON t.id = b.teacher_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("b.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("b.teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.Date != "" {
		conditions = append(conditions, fmt.Sprintf("b.date = $%d", len(args)+1))
		args = append(args, filter.Date)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("b.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"date":       "b.date",
		"created_at": "b.created_at",
		"status":     "b.status",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "b.date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT b.id, b.student_id, b.teacher_id, b.date, b.start_time, b.end_time, b.status, b.version, b.created_at, b.updated_at,
        s.full_name AS student_name, t.full_name AS teacher_name
        %s ORDER BY %s %s, b.start_time ASC LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var bookings []models.BookingDetail
	if err := r.db.SelectContext(ctx, &bookings, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list bookings: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count bookings: %w", err)
	}
	return bookings, total, nil
}

// UpdateStatus flips a booking's status guarded by an optimistic version
// check. ErrVersionConflict is returned when a concurrent writer got there
// first; the caller reloads and re-evaluates.
func (r *BookingRepository) UpdateStatus(ctx context.Context, id string, status models.BookingStatus, expectedVersion int) error {
	const query = `UPDATE bookings SET status = $2, version = version + 1, updated_at = $3 WHERE id = $1 AND version = $4`
	res, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC(), expectedVersion)
	if err != nil {
		return fmt.Errorf("update booking status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update booking status rows: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// ActiveCountsByRange aggregates PENDING/CONFIRMED bookings per slot for a
// teacher across a date range. Used to annotate expanded slots with usage.
func (r *BookingRepository) ActiveCountsByRange(ctx context.Context, teacherID, fromDate, toDate string) ([]models.SlotUsage, error) {
	const query = `SELECT date, start_time, COUNT(*) AS count FROM bookings WHERE teacher_id = $1 AND date >= $2 AND date <= $3 AND status IN ('PENDING', 'CONFIRMED') GROUP BY date, start_time`
	var usage []models.SlotUsage
	if err := r.db.SelectContext(ctx, &usage, query, teacherID, fromDate, toDate); err != nil {
		return nil, fmt.Errorf("aggregate slot usage: %w", err)
	}
	return usage, nil
}

// ListConfirmedElapsed returns CONFIRMED bookings whose slot has fully
// elapsed as of the provided date and wall-clock time.
func (r *BookingRepository) ListConfirmedElapsed(ctx context.Context, date, clock string) ([]models.Booking, error) {
	query := fmt.Sprintf(`SELECT %s FROM bookings WHERE status = 'CONFIRMED' AND (date < $1 OR (date = $1 AND end_time <= $2))`, bookingColumns)
	var bookings []models.Booking
	if err := r.db.SelectContext(ctx, &bookings, query, date, clock); err != nil {
		return nil, fmt.Errorf("list elapsed bookings: %w", err)
	}
	return bookings, nil
}

// ListByTeacherRange returns a teacher's bookings inside a date range ordered
// chronologically. Used by exports.
func (r *BookingRepository) ListByTeacherRange(ctx context.Context, teacherID, fromDate, toDate string) ([]models.BookingDetail, error) {
	const query = `SELECT b.id, b.student_id, b.teacher_id, b.date, b.start_time, b.end_time, b.status, b.version, b.created_at, b.updated_at,
        s.full_name AS student_name, t.full_name AS teacher_name
        FROM bookings b
        LEFT JOIN users s ON s.id = b.student_id
        LEFT JOIN users t ON t.id = b.teacher_id
        WHERE b.teacher_id = $1 AND b.date >= $2 AND b.date <= $3
        ORDER BY b.date ASC, b.start_time ASC`
	var bookings []models.BookingDetail
	if err := r.db.SelectContext(ctx, &bookings, query, teacherID, fromDate, toDate); err != nil {
		return nil, fmt.Errorf("list bookings by teacher range: %w", err)
	}
	return bookings, nil
}
