package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iqraspace/iqra-api/internal/models"
	appErrors "github.com/iqraspace/iqra-api/pkg/errors"
)

type fakeAvailabilityRepo struct {
	patterns map[string]*models.AvailabilityPattern
	seq      int
}

func newFakeAvailabilityRepo() *fakeAvailabilityRepo {
	return &fakeAvailabilityRepo{patterns: make(map[string]*models.AvailabilityPattern)}
}

func (f *fakeAvailabilityRepo) ListByTeacher(_ context.Context, teacherID string, includeInactive bool) ([]models.AvailabilityPattern, error) {
	var out []models.AvailabilityPattern
	for _, p := range f.patterns {
		if p.TeacherID != teacherID {
			continue
		}
		if !p.Active && !includeInactive {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeAvailabilityRepo) FindByID(_ context.Context, id string) (*models.AvailabilityPattern, error) {
	p, ok := f.patterns[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	dup := *p
	return &dup, nil
}

func (f *fakeAvailabilityRepo) FindOverlapping(_ context.Context, teacherID string, dayOfWeek int, startTime, endTime string) ([]models.AvailabilityPattern, error) {
	var out []models.AvailabilityPattern
	for _, p := range f.patterns {
		if p.TeacherID != teacherID || p.DayOfWeek != dayOfWeek || !p.Active {
			continue
		}
		if p.StartTime < endTime && p.EndTime > startTime {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeAvailabilityRepo) Create(_ context.Context, pattern *models.AvailabilityPattern) error {
	f.seq++
	pattern.ID = fmt.Sprintf("av-%d", f.seq)
	stored := *pattern
	f.patterns[pattern.ID] = &stored
	return nil
}

func (f *fakeAvailabilityRepo) Deactivate(_ context.Context, id string) error {
	p, ok := f.patterns[id]
	if !ok {
		return sql.ErrNoRows
	}
	p.Active = false
	return nil
}

type fakeSlotUsage struct {
	usage []models.SlotUsage
}

func (f *fakeSlotUsage) ActiveCountsByRange(_ context.Context, _, _, _ string) ([]models.SlotUsage, error) {
	return f.usage, nil
}

func newAvailabilityServiceForTest(repo *fakeAvailabilityRepo, usage *fakeSlotUsage) *AvailabilityService {
	users := defaultUsers()
	return NewAvailabilityService(repo, usage, users, nil, nil, nil, 31, time.Minute, time.UTC)
}

func defineRequest() DefineAvailabilityRequest {
	return DefineAvailabilityRequest{
		TeacherID:   "teacher-1",
		DayOfWeek:   1,
		StartTime:   "10:00",
		EndTime:     "12:00",
		MaxCapacity: 3,
	}
}

func TestAvailabilityDefine(t *testing.T) {
	svc := newAvailabilityServiceForTest(newFakeAvailabilityRepo(), &fakeSlotUsage{})

	pattern, err := svc.Define(context.Background(), defineRequest(), claims("teacher-1", models.RoleTeacher))
	require.NoError(t, err)
	assert.True(t, pattern.Active)
	assert.NotEmpty(t, pattern.ID)
}

func TestAvailabilityDefineAuthz(t *testing.T) {
	svc := newAvailabilityServiceForTest(newFakeAvailabilityRepo(), &fakeSlotUsage{})

	// Another teacher cannot define windows for teacher-1.
	_, err := svc.Define(context.Background(), defineRequest(), claims("teacher-2", models.RoleTeacher))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	// Students never can.
	_, err = svc.Define(context.Background(), defineRequest(), claims("student-a", models.RoleStudent))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	// Admins can.
	_, err = svc.Define(context.Background(), defineRequest(), claims("admin-1", models.RoleAdmin))
	assert.NoError(t, err)
}

func TestAvailabilityDefineRejectsOverlap(t *testing.T) {
	svc := newAvailabilityServiceForTest(newFakeAvailabilityRepo(), &fakeSlotUsage{})
	actor := claims("teacher-1", models.RoleTeacher)

	_, err := svc.Define(context.Background(), defineRequest(), actor)
	require.NoError(t, err)

	// Partial overlap on the same weekday.
	overlap := defineRequest()
	overlap.StartTime = "11:00"
	overlap.EndTime = "13:00"
	_, err = svc.Define(context.Background(), overlap, actor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)

	// Same window on a different weekday is fine.
	other := defineRequest()
	other.DayOfWeek = 2
	_, err = svc.Define(context.Background(), other, actor)
	assert.NoError(t, err)

	// Adjacent window, end touching start, does not overlap.
	adjacent := defineRequest()
	adjacent.StartTime = "12:00"
	adjacent.EndTime = "14:00"
	_, err = svc.Define(context.Background(), adjacent, actor)
	assert.NoError(t, err)
}

func TestAvailabilityDefineValidation(t *testing.T) {
	svc := newAvailabilityServiceForTest(newFakeAvailabilityRepo(), &fakeSlotUsage{})
	actor := claims("teacher-1", models.RoleTeacher)

	cases := []struct {
		name   string
		mutate func(*DefineAvailabilityRequest)
	}{
		{"inverted window", func(r *DefineAvailabilityRequest) { r.StartTime, r.EndTime = "12:00", "10:00" }},
		{"bad clock", func(r *DefineAvailabilityRequest) { r.StartTime = "9:00" }},
		{"weekday out of range", func(r *DefineAvailabilityRequest) { r.DayOfWeek = 7 }},
		{"zero capacity", func(r *DefineAvailabilityRequest) { r.MaxCapacity = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := defineRequest()
			tc.mutate(&req)
			_, err := svc.Define(context.Background(), req, actor)
			require.Error(t, err)
			assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
		})
	}
}

func TestAvailabilityDefineRequiresTeacherRole(t *testing.T) {
	svc := newAvailabilityServiceForTest(newFakeAvailabilityRepo(), &fakeSlotUsage{})

	req := defineRequest()
	req.TeacherID = "student-a"
	_, err := svc.Define(context.Background(), req, claims("admin-1", models.RoleAdmin))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAvailabilitySlotsExpansion(t *testing.T) {
	repo := newFakeAvailabilityRepo()
	usage := &fakeSlotUsage{usage: []models.SlotUsage{
		{Date: "2026-03-02", StartTime: "10:00", Count: 2},
	}}
	svc := newAvailabilityServiceForTest(repo, usage)
	actor := claims("teacher-1", models.RoleTeacher)

	// Mondays 10:00-12:00 capacity 3 and Wednesdays 08:00-09:00 capacity 1.
	_, err := svc.Define(context.Background(), defineRequest(), actor)
	require.NoError(t, err)
	wed := DefineAvailabilityRequest{TeacherID: "teacher-1", DayOfWeek: 3, StartTime: "08:00", EndTime: "09:00", MaxCapacity: 1}
	_, err = svc.Define(context.Background(), wed, actor)
	require.NoError(t, err)

	// 2026-03-02 is a Monday; the week holds one Monday and one Wednesday.
	slots, err := svc.Slots(context.Background(), SlotRangeRequest{TeacherID: "teacher-1", From: "2026-03-02", To: "2026-03-08"})
	require.NoError(t, err)
	require.Len(t, slots, 2)

	byDate := make(map[string]models.Slot, len(slots))
	for _, s := range slots {
		byDate[s.Date] = s
	}

	monday := byDate["2026-03-02"]
	assert.Equal(t, "10:00", monday.StartTime)
	assert.Equal(t, 3, monday.Capacity)
	assert.Equal(t, 2, monday.Booked)
	assert.Equal(t, 1, monday.Available)

	wednesday := byDate["2026-03-04"]
	assert.Equal(t, "08:00", wednesday.StartTime)
	assert.Equal(t, 0, wednesday.Booked)
	assert.Equal(t, 1, wednesday.Available)
}

func TestAvailabilitySlotsRangeValidation(t *testing.T) {
	svc := newAvailabilityServiceForTest(newFakeAvailabilityRepo(), &fakeSlotUsage{})

	_, err := svc.Slots(context.Background(), SlotRangeRequest{TeacherID: "teacher-1", From: "2026-03-08", To: "2026-03-02"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Slots(context.Background(), SlotRangeRequest{TeacherID: "teacher-1", From: "2026-03-01", To: "2026-06-01"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAvailabilityDeactivate(t *testing.T) {
	repo := newFakeAvailabilityRepo()
	svc := newAvailabilityServiceForTest(repo, &fakeSlotUsage{})
	actor := claims("teacher-1", models.RoleTeacher)

	pattern, err := svc.Define(context.Background(), defineRequest(), actor)
	require.NoError(t, err)

	// Other teachers cannot deactivate someone else's window.
	err = svc.Deactivate(context.Background(), pattern.ID, claims("teacher-2", models.RoleTeacher))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	require.NoError(t, svc.Deactivate(context.Background(), pattern.ID, actor))

	active, err := svc.List(context.Background(), "teacher-1")
	require.NoError(t, err)
	assert.Empty(t, active)

	err = svc.Deactivate(context.Background(), "missing", actor)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
