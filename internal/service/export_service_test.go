package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iqraspace/iqra-api/internal/models"
	appErrors "github.com/iqraspace/iqra-api/pkg/errors"
)

type fakeExportReader struct {
	bookings []models.BookingDetail
}

func (f *fakeExportReader) ListByTeacherRange(_ context.Context, _, _, _ string) ([]models.BookingDetail, error) {
	return f.bookings, nil
}

func exportFixture() *fakeExportReader {
	created := time.Date(2026, 2, 20, 9, 30, 0, 0, time.UTC)
	return &fakeExportReader{bookings: []models.BookingDetail{
		{
			Booking: models.Booking{
				ID: "bk-1", StudentID: "student-a", TeacherID: "teacher-1",
				Date: "2026-03-02", StartTime: "10:00", EndTime: "11:00",
				Status: models.BookingStatusConfirmed, CreatedAt: created,
			},
			StudentName: "Student A",
			TeacherName: "Teacher One",
		},
	}}
}

func TestExportTeacherScheduleCSV(t *testing.T) {
	svc := NewExportService(exportFixture(), nil, time.UTC)

	result, err := svc.TeacherSchedule(context.Background(), claims("teacher-1", models.RoleTeacher), "teacher-1", "2026-03-01", "2026-03-07", ExportFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", result.ContentType)
	assert.True(t, strings.HasSuffix(result.FileName, ".csv"))

	body := string(result.Data)
	assert.Contains(t, body, "Date,Start,End,Student,Status,Created")
	assert.Contains(t, body, "2026-03-02,10:00,11:00,Student A,CONFIRMED")
}

func TestExportTeacherSchedulePDF(t *testing.T) {
	svc := NewExportService(exportFixture(), nil, time.UTC)

	result, err := svc.TeacherSchedule(context.Background(), claims("admin-1", models.RoleAdmin), "teacher-1", "2026-03-01", "2026-03-07", ExportFormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.True(t, strings.HasPrefix(string(result.Data), "%PDF"))
}

func TestExportTeacherScheduleAuthz(t *testing.T) {
	svc := NewExportService(exportFixture(), nil, time.UTC)

	_, err := svc.TeacherSchedule(context.Background(), claims("teacher-2", models.RoleTeacher), "teacher-1", "2026-03-01", "2026-03-07", ExportFormatCSV)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestExportTeacherScheduleValidation(t *testing.T) {
	svc := NewExportService(exportFixture(), nil, time.UTC)
	actor := claims("teacher-1", models.RoleTeacher)

	_, err := svc.TeacherSchedule(context.Background(), actor, "teacher-1", "03/01/2026", "2026-03-07", ExportFormatCSV)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.TeacherSchedule(context.Background(), actor, "teacher-1", "2026-03-07", "2026-03-01", ExportFormatCSV)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.TeacherSchedule(context.Background(), actor, "teacher-1", "2026-03-01", "2026-03-07", ExportFormat("xlsx"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
