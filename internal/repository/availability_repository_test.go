package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iqraspace/iqra-api/internal/models"
)

func availabilityFixture() *models.AvailabilityPattern {
	return &models.AvailabilityPattern{
		TeacherID:   "teacher-1",
		DayOfWeek:   1,
		StartTime:   "10:00",
		EndTime:     "11:00",
		MaxCapacity: 2,
		Active:      true,
	}
}

func TestListByTeacherFiltersInactive(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAvailabilityRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM teacher_availability WHERE teacher_id = $1 AND active = TRUE ORDER BY day_of_week ASC, start_time ASC")).
		WithArgs("teacher-1").
		WillReturnRows(availabilityRows())

	patterns, err := repo.ListByTeacher(context.Background(), "teacher-1", false)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, 2, patterns[0].MaxCapacity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindOverlappingUsesHalfOpenWindow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAvailabilityRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("AND active = TRUE AND start_time < $4 AND end_time > $3")).
		WithArgs("teacher-1", 1, "09:00", "10:30").
		WillReturnRows(availabilityRows())

	patterns, err := repo.FindOverlapping(context.Background(), "teacher-1", 1, "09:00", "10:30")
	require.NoError(t, err)
	assert.Len(t, patterns, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAvailabilityAssignsID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAvailabilityRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO teacher_availability")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	pattern := availabilityFixture()
	pattern.ID = ""
	err := repo.Create(context.Background(), pattern)
	require.NoError(t, err)
	assert.NotEmpty(t, pattern.ID)
	assert.False(t, pattern.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivateMissingPattern(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAvailabilityRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE teacher_availability SET active = FALSE")).
		WithArgs("missing", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Deactivate(context.Background(), "missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
