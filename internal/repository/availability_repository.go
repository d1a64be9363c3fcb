package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/iqraspace/iqra-api/internal/models"
)

const availabilityColumns = "id, teacher_id, day_of_week, start_time, end_time, max_capacity, active, created_at, updated_at"

// AvailabilityRepository provides persistence for teacher availability patterns.
type AvailabilityRepository struct {
	db *sqlx.DB
}

// NewAvailabilityRepository creates a new availability repository.
func NewAvailabilityRepository(db *sqlx.DB) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

// ListByTeacher returns a teacher's patterns ordered by day and start time.
// Inactive patterns are included only when requested.
func (r *AvailabilityRepository) ListByTeacher(ctx context.Context, teacherID string, includeInactive bool) ([]models.AvailabilityPattern, error) {
	query := fmt.Sprintf(`SELECT %s FROM teacher_availability WHERE teacher_id = $1`, availabilityColumns)
	if !includeInactive {
		query += " AND active = TRUE"
	}
	query += " ORDER BY day_of_week ASC, start_time ASC"

	var patterns []models.AvailabilityPattern
	if err := r.db.SelectContext(ctx, &patterns, query, teacherID); err != nil {
		return nil, fmt.Errorf("list availability by teacher: %w", err)
	}
	return patterns, nil
}

// FindByID loads a pattern by id.
func (r *AvailabilityRepository) FindByID(ctx context.Context, id string) (*models.AvailabilityPattern, error) {
	query := fmt.Sprintf(`SELECT %s FROM teacher_availability WHERE id = $1`, availabilityColumns)
	var pattern models.AvailabilityPattern
	if err := r.db.GetContext(ctx, &pattern, query, id); err != nil {
		return nil, err
	}
	return &pattern, nil
}

// FindOverlapping returns active patterns of the same teacher and weekday whose
// window intersects [startTime, endTime). Zero-padded HH:MM strings compare
// correctly as text.
func (r *AvailabilityRepository) FindOverlapping(ctx context.Context, teacherID string, dayOfWeek int, startTime, endTime string) ([]models.AvailabilityPattern, error) {
	query := fmt.Sprintf(`SELECT %s FROM teacher_availability WHERE teacher_id = $1 AND day_of_week = $2 AND active = TRUE AND start_time < $4 AND end_time > $3`, availabilityColumns)
	var patterns []models.AvailabilityPattern
	if err := r.db.SelectContext(ctx, &patterns, query, teacherID, dayOfWeek, startTime, endTime); err != nil {
		return nil, fmt.Errorf("find overlapping availability: %w", err)
	}
	return patterns, nil
}

// FindCovering resolves the active pattern matching a concrete slot, or
// sql.ErrNoRows when no recurring window covers it.
func (r *AvailabilityRepository) FindCovering(ctx context.Context, teacherID string, dayOfWeek int, startTime, endTime string) (*models.AvailabilityPattern, error) {
	query := fmt.Sprintf(`SELECT %s FROM teacher_availability WHERE teacher_id = $1 AND day_of_week = $2 AND start_time = $3 AND end_time = $4 AND active = TRUE LIMIT 1`, availabilityColumns)
	var pattern models.AvailabilityPattern
	if err := r.db.GetContext(ctx, &pattern, query, teacherID, dayOfWeek, startTime, endTime); err != nil {
		return nil, err
	}
	return &pattern, nil
}

// Create stores a new availability pattern.
func (r *AvailabilityRepository) Create(ctx context.Context, pattern *models.AvailabilityPattern) error {
	if pattern.ID == "" {
		pattern.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if pattern.CreatedAt.IsZero() {
		pattern.CreatedAt = now
	}
	pattern.UpdatedAt = now

	const query = `INSERT INTO teacher_availability (id, teacher_id, day_of_week, start_time, end_time, max_capacity, active, created_at, updated_at) VALUES (:id, :teacher_id, :day_of_week, :start_time, :end_time, :max_capacity, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, pattern); err != nil {
		return fmt.Errorf("create availability: %w", err)
	}
	return nil
}

// Deactivate soft-invalidates a pattern. Patterns referenced by bookings are
// never removed, so there is no hard delete.
func (r *AvailabilityRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE teacher_availability SET active = FALSE, updated_at = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("deactivate availability: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
