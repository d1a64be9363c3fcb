package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iqraspace/iqra-api/internal/models"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func availabilityRows() *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "teacher_id", "day_of_week", "start_time", "end_time", "max_capacity", "active", "created_at", "updated_at"}).
		AddRow("av-1", "teacher-1", 1, "10:00", "11:00", 2, true, now, now)
}

func testBooking() *models.Booking {
	return &models.Booking{
		StudentID: "student-a",
		TeacherID: "teacher-1",
		Date:      "2026-03-09",
		StartTime: "10:00",
		EndTime:   "11:00",
	}
}

func TestCreateAdmittedInsertsWhenCapacityFree(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM teacher_availability WHERE teacher_id = $1 AND day_of_week = $2 AND start_time = $3 AND end_time = $4 AND active = TRUE LIMIT 1 FOR UPDATE")).
		WithArgs("teacher-1", 1, "10:00", "11:00").
		WillReturnRows(availabilityRows())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM bookings WHERE teacher_id = $1 AND date = $2 AND start_time = $3 AND end_time = $4 AND status IN ('PENDING', 'CONFIRMED')")).
		WithArgs("teacher-1", "2026-03-09", "10:00", "11:00").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO bookings")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	booking := testBooking()
	err := repo.CreateAdmitted(context.Background(), booking, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, booking.ID)
	assert.Equal(t, models.BookingStatusPending, booking.Status)
	assert.Equal(t, 1, booking.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAdmittedDeniesWhenFull(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM teacher_availability").
		WithArgs("teacher-1", 1, "10:00", "11:00").
		WillReturnRows(availabilityRows())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM bookings")).
		WithArgs("teacher-1", "2026-03-09", "10:00", "11:00").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectRollback()

	err := repo.CreateAdmitted(context.Background(), testBooking(), 1)
	require.ErrorIs(t, err, ErrCapacityExhausted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAdmittedRejectsUncoveredSlot(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM teacher_availability").
		WithArgs("teacher-1", 1, "10:00", "11:00").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := repo.CreateAdmitted(context.Background(), testBooking(), 1)
	require.ErrorIs(t, err, ErrPatternNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusBumpsVersion(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE bookings SET status = $2, version = version + 1, updated_at = $3 WHERE id = $1 AND version = $4")).
		WithArgs("bk-1", models.BookingStatusConfirmed, sqlmock.AnyArg(), 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), "bk-1", models.BookingStatusConfirmed, 1)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusVersionConflict(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingRepository(db)

	mock.ExpectExec("UPDATE bookings SET status").
		WithArgs("bk-1", models.BookingStatusCancelled, sqlmock.AnyArg(), 3).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "bk-1", models.BookingStatusCancelled, 3)
	require.ErrorIs(t, err, ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActiveCountsByRange(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT date, start_time, COUNT(*) AS count FROM bookings")).
		WithArgs("teacher-1", "2026-03-02", "2026-03-08").
		WillReturnRows(sqlmock.NewRows([]string{"date", "start_time", "count"}).
			AddRow("2026-03-02", "10:00", 2).
			AddRow("2026-03-04", "08:00", 1))

	usage, err := repo.ActiveCountsByRange(context.Background(), "teacher-1", "2026-03-02", "2026-03-08")
	require.NoError(t, err)
	require.Len(t, usage, 2)
	assert.Equal(t, "2026-03-02", usage[0].Date)
	assert.Equal(t, 2, usage[0].Count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListConfirmedElapsed(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBookingRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'CONFIRMED' AND (date < $1 OR (date = $1 AND end_time <= $2))")).
		WithArgs("2026-03-09", "11:00").
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_id", "teacher_id", "date", "start_time", "end_time", "status", "version", "created_at", "updated_at"}).
			AddRow("bk-1", "student-a", "teacher-1", "2026-03-09", "10:00", "11:00", "CONFIRMED", 2, now, now))

	elapsed, err := repo.ListConfirmedElapsed(context.Background(), "2026-03-09", "11:00")
	require.NoError(t, err)
	require.Len(t, elapsed, 1)
	assert.Equal(t, models.BookingStatusConfirmed, elapsed[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
