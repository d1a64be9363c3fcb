package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iqraspace/iqra-api/internal/middleware"
	"github.com/iqraspace/iqra-api/internal/models"
	"github.com/iqraspace/iqra-api/internal/service"
	appErrors "github.com/iqraspace/iqra-api/pkg/errors"
)

type bookingServiceMock struct {
	createResp *models.BookingDetail
	createErr  error
	lastCreate service.CreateBookingRequest

	updateResp   *models.BookingDetail
	updateErr    error
	lastStatus   models.BookingStatus
	updateCalled bool

	listResp   []models.BookingDetail
	lastFilter models.BookingFilter
}

func (m *bookingServiceMock) Create(_ context.Context, req service.CreateBookingRequest, _ *models.JWTClaims) (*models.BookingDetail, error) {
	m.lastCreate = req
	return m.createResp, m.createErr
}

func (m *bookingServiceMock) Get(_ context.Context, _ string, _ *models.JWTClaims) (*models.BookingDetail, error) {
	return m.createResp, m.createErr
}

func (m *bookingServiceMock) List(_ context.Context, filter models.BookingFilter, _ *models.JWTClaims) ([]models.BookingDetail, *models.Pagination, error) {
	m.lastFilter = filter
	return m.listResp, &models.Pagination{Page: 1, PageSize: 20, TotalCount: len(m.listResp)}, nil
}

func (m *bookingServiceMock) UpdateStatus(_ context.Context, _ string, status models.BookingStatus, _ *models.JWTClaims) (*models.BookingDetail, error) {
	m.updateCalled = true
	m.lastStatus = status
	return m.updateResp, m.updateErr
}

func (m *bookingServiceMock) Cancel(ctx context.Context, id string, actor *models.JWTClaims) (*models.BookingDetail, error) {
	return m.UpdateStatus(ctx, id, models.BookingStatusCancelled, actor)
}

func bookingDetailFixture() *models.BookingDetail {
	return &models.BookingDetail{
		Booking: models.Booking{
			ID: "bk-1", StudentID: "student-a", TeacherID: "teacher-1",
			Date: "2026-03-09", StartTime: "10:00", EndTime: "11:00",
			Status: models.BookingStatusPending,
		},
		StudentName: "Student A",
		TeacherName: "Teacher One",
	}
}

func newBookingTestContext(t *testing.T, method, target string, body string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "student-a", Role: models.RoleStudent})
	return c, w
}

func TestBookingHandlerCreate(t *testing.T) {
	mockSvc := &bookingServiceMock{createResp: bookingDetailFixture()}
	h := NewBookingHandler(mockSvc)

	body := `{"student_id":"student-a","teacher_id":"teacher-1","date":"2026-03-09","time_slot":"10:00-11:00"}`
	c, w := newBookingTestContext(t, http.MethodPost, "/bookings", body)

	h.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "10:00-11:00", mockSvc.lastCreate.TimeSlot)
}

func TestBookingHandlerCreateInvalidBody(t *testing.T) {
	h := NewBookingHandler(&bookingServiceMock{})

	c, w := newBookingTestContext(t, http.MethodPost, "/bookings", `{"student_id":`)
	h.Create(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBookingHandlerCreateSlotFull(t *testing.T) {
	mockSvc := &bookingServiceMock{createErr: appErrors.ErrSlotUnavailable}
	h := NewBookingHandler(mockSvc)

	body := `{"student_id":"student-a","teacher_id":"teacher-1","date":"2026-03-09","time_slot":"10:00-11:00"}`
	c, w := newBookingTestContext(t, http.MethodPost, "/bookings", body)

	h.Create(c)
	require.Equal(t, http.StatusConflict, w.Code)

	var envelope struct {
		Error *appErrors.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, appErrors.ErrSlotUnavailable.Code, envelope.Error.Code)
}

func TestBookingHandlerUpdateStatus(t *testing.T) {
	mockSvc := &bookingServiceMock{updateResp: bookingDetailFixture()}
	h := NewBookingHandler(mockSvc)

	c, w := newBookingTestContext(t, http.MethodPatch, "/bookings/bk-1/status", `{"status":"CONFIRMED"}`)
	c.Params = gin.Params{{Key: "id", Value: "bk-1"}}

	h.UpdateStatus(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, mockSvc.updateCalled)
	assert.Equal(t, models.BookingStatusConfirmed, mockSvc.lastStatus)
}

func TestBookingHandlerCancel(t *testing.T) {
	mockSvc := &bookingServiceMock{updateResp: bookingDetailFixture()}
	h := NewBookingHandler(mockSvc)

	c, w := newBookingTestContext(t, http.MethodDelete, "/bookings/bk-1", "")
	c.Params = gin.Params{{Key: "id", Value: "bk-1"}}

	h.Cancel(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.BookingStatusCancelled, mockSvc.lastStatus)
}

func TestBookingHandlerListPassesFilters(t *testing.T) {
	mockSvc := &bookingServiceMock{listResp: []models.BookingDetail{*bookingDetailFixture()}}
	h := NewBookingHandler(mockSvc)

	c, w := newBookingTestContext(t, http.MethodGet, "/bookings?date=2026-03-09&status=PENDING&page=2", "")
	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2026-03-09", mockSvc.lastFilter.Date)
	assert.Equal(t, models.BookingStatusPending, mockSvc.lastFilter.Status)
	assert.Equal(t, 2, mockSvc.lastFilter.Page)
}
