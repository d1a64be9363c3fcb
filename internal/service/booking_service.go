package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/iqraspace/iqra-api/internal/models"
	"github.com/iqraspace/iqra-api/internal/repository"
	appErrors "github.com/iqraspace/iqra-api/pkg/errors"
)

type bookingRepository interface {
	CreateAdmitted(ctx context.Context, booking *models.Booking, dayOfWeek int) error
	FindByID(ctx context.Context, id string) (*models.Booking, error)
	FindDetailByID(ctx context.Context, id string) (*models.BookingDetail, error)
	List(ctx context.Context, filter models.BookingFilter) ([]models.BookingDetail, int, error)
	UpdateStatus(ctx context.Context, id string, status models.BookingStatus, expectedVersion int) error
	ListConfirmedElapsed(ctx context.Context, date, clock string) ([]models.Booking, error)
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CreateBookingRequest reserves a concrete slot instance for a student.
type CreateBookingRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	TeacherID string `json:"teacher_id" validate:"required"`
	Date      string `json:"date" validate:"required"`
	TimeSlot  string `json:"time_slot" validate:"required"`
}

// UpdateBookingStatusRequest drives a booking through its state machine.
type UpdateBookingStatusRequest struct {
	Status models.BookingStatus `json:"status" validate:"required"`
}

// allowedTransitions is the booking state machine. CONFIRMED to COMPLETED is
// reserved for the completion sweeper and deliberately absent here.
var allowedTransitions = map[models.BookingStatus][]models.BookingStatus{
	models.BookingStatusPending:   {models.BookingStatusConfirmed, models.BookingStatusCancelled},
	models.BookingStatusConfirmed: {models.BookingStatusCancelled},
}

// BookingService owns the booking ledger: admission of new bookings and all
// status transitions over existing ones.
type BookingService struct {
	repo      bookingRepository
	users     userReader
	audit     auditWriter
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger

	cancelWindow time.Duration
	location     *time.Location
	now          func() time.Time
}

// NewBookingService constructs a BookingService.
func NewBookingService(repo bookingRepository, users userReader, audit auditWriter, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cancelWindow time.Duration, loc *time.Location) *BookingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &BookingService{
		repo:         repo,
		users:        users,
		audit:        audit,
		cache:        cache,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
		cancelWindow: cancelWindow,
		location:     loc,
		now:          time.Now,
	}
}

// Create admits a booking request against the teacher's availability and
// writes it to the ledger as PENDING. The capacity check and the insert run
// inside one storage transaction; a full slot denies the request instead of
// overbooking it.
func (s *BookingService) Create(ctx context.Context, req CreateBookingRequest, actor *models.JWTClaims) (*models.BookingDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.IsAdmin() && actor.UserID != req.StudentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only book for themselves")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid booking payload")
	}

	startTime, endTime, err := splitTimeSlot(req.TimeSlot)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}

	day, err := parseDate(req.Date, s.location)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date, expected YYYY-MM-DD")
	}
	now := s.now().In(s.location)
	today := now.Format(dateLayout)
	if req.Date < today {
		return nil, appErrors.Clone(appErrors.ErrValidation, "booking date is in the past")
	}
	if req.Date == today && startTime <= clockOf(now) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "time slot has already elapsed today")
	}

	student, err := s.users.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Storage(err, "failed to load student")
	}
	if student.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrValidation, "bookings belong to students")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "student account is inactive")
	}
	teacher, err := s.users.FindByID(ctx, req.TeacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Storage(err, "failed to load teacher")
	}
	if teacher.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
	}

	booking := &models.Booking{
		StudentID: req.StudentID,
		TeacherID: req.TeacherID,
		Date:      req.Date,
		StartTime: startTime,
		EndTime:   endTime,
	}
	if err := s.repo.CreateAdmitted(ctx, booking, int(day.Weekday())); err != nil {
		switch {
		case errors.Is(err, repository.ErrPatternNotFound):
			s.metrics.RecordAdmission("no_pattern")
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no availability covers the requested slot")
		case errors.Is(err, repository.ErrCapacityExhausted):
			s.metrics.RecordAdmission("denied")
			s.logger.Info("booking denied, slot full",
				zap.String("teacher_id", req.TeacherID),
				zap.String("date", req.Date),
				zap.String("slot", req.TimeSlot),
			)
			return nil, appErrors.Clone(appErrors.ErrSlotUnavailable, "slot is fully booked")
		default:
			s.metrics.RecordAdmission("error")
			return nil, appErrors.Storage(err, "failed to create booking")
		}
	}
	s.metrics.RecordAdmission("admitted")
	s.invalidateSlots(ctx, req.TeacherID)
	s.recordAudit(ctx, actor, models.AuditActionBookingCreate, booking.ID, fmt.Sprintf(`{"status":"%s"}`, booking.Status))

	detail, err := s.repo.FindDetailByID(ctx, booking.ID)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to load booking detail")
	}
	return detail, nil
}

// Get returns one booking, visible only to its participants and admins.
func (s *BookingService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.BookingDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "booking not found")
		}
		return nil, appErrors.Storage(err, "failed to load booking")
	}
	if !actor.IsAdmin() && actor.UserID != detail.StudentID && actor.UserID != detail.TeacherID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a participant of this booking")
	}
	return detail, nil
}

// List returns bookings scoped to the caller: students see their own,
// teachers their schedule, admins everything.
func (s *BookingService) List(ctx context.Context, filter models.BookingFilter, actor *models.JWTClaims) ([]models.BookingDetail, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	switch actor.Role {
	case models.RoleStudent:
		filter.StudentID = actor.UserID
	case models.RoleTeacher:
		filter.TeacherID = actor.UserID
	}

	bookings, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Storage(err, "failed to list bookings")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return bookings, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// UpdateStatus drives a booking through the state machine on behalf of an
// actor. Repeating a cancel on an already CANCELLED booking is a no-op
// returning the terminal state.
func (s *BookingService) UpdateStatus(ctx context.Context, id string, newStatus models.BookingStatus, actor *models.JWTClaims) (*models.BookingDetail, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !newStatus.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown booking status")
	}

	booking, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "booking not found")
		}
		return nil, appErrors.Storage(err, "failed to load booking")
	}

	if !actor.IsAdmin() && actor.UserID != booking.StudentID && actor.UserID != booking.TeacherID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not a participant of this booking")
	}

	if newStatus == models.BookingStatusCancelled && booking.Status == models.BookingStatusCancelled {
		return s.repo.FindDetailByID(ctx, id)
	}

	if err := s.authorizeTransition(booking, newStatus, actor); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateStatus(ctx, id, newStatus, booking.Version); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return s.resolveVersionConflict(ctx, id, newStatus)
		}
		return nil, appErrors.Storage(err, "failed to update booking status")
	}

	s.invalidateSlots(ctx, booking.TeacherID)
	s.recordAudit(ctx, actor, models.AuditActionBookingStatus, id, fmt.Sprintf(`{"from":"%s","to":"%s"}`, booking.Status, newStatus))
	s.logger.Info("booking status updated",
		zap.String("booking_id", id),
		zap.String("from", string(booking.Status)),
		zap.String("to", string(newStatus)),
		zap.String("actor", actor.UserID),
	)

	return s.repo.FindDetailByID(ctx, id)
}

// Cancel is shorthand for UpdateStatus to CANCELLED. Cancelling releases the
// seat: admission only counts PENDING and CONFIRMED rows, so the status flip
// and the capacity release are the same atomic write.
func (s *BookingService) Cancel(ctx context.Context, id string, actor *models.JWTClaims) (*models.BookingDetail, error) {
	return s.UpdateStatus(ctx, id, models.BookingStatusCancelled, actor)
}

// CompleteElapsed promotes CONFIRMED bookings whose slot has passed to
// COMPLETED. Invoked by the background sweeper, never by API callers.
func (s *BookingService) CompleteElapsed(ctx context.Context) (int, error) {
	now := s.now().In(s.location)
	elapsed, err := s.repo.ListConfirmedElapsed(ctx, now.Format(dateLayout), clockOf(now))
	if err != nil {
		return 0, appErrors.Storage(err, "failed to list elapsed bookings")
	}

	completed := 0
	for _, booking := range elapsed {
		if err := s.repo.UpdateStatus(ctx, booking.ID, models.BookingStatusCompleted, booking.Version); err != nil {
			// A concurrent cancel won the race; the next sweep settles it.
			if errors.Is(err, repository.ErrVersionConflict) {
				continue
			}
			return completed, appErrors.Storage(err, "failed to complete booking")
		}
		completed++
	}
	if completed > 0 {
		s.logger.Info("completed elapsed bookings", zap.Int("count", completed))
	}
	return completed, nil
}

func (s *BookingService) authorizeTransition(booking *models.Booking, newStatus models.BookingStatus, actor *models.JWTClaims) error {
	legal := false
	for _, to := range allowedTransitions[booking.Status] {
		if to == newStatus {
			legal = true
			break
		}
	}
	if !legal {
		return appErrors.Clone(appErrors.ErrIllegalTransition, fmt.Sprintf("cannot move booking from %s to %s", booking.Status, newStatus))
	}

	switch {
	case booking.Status == models.BookingStatusPending && newStatus == models.BookingStatusConfirmed:
		if !actor.IsAdmin() && actor.UserID != booking.TeacherID {
			return appErrors.Clone(appErrors.ErrForbidden, "only the teacher or an admin may confirm a booking")
		}
	case booking.Status == models.BookingStatusPending && newStatus == models.BookingStatusCancelled:
		// Any participant or an admin; membership was already established.
	case booking.Status == models.BookingStatusConfirmed && newStatus == models.BookingStatusCancelled:
		// Participants may cancel until the policy window closes; admins
		// may always cancel.
		start, err := parseDate(booking.Date, s.location)
		if err == nil {
			if minutes, perr := parseClock(booking.StartTime); perr == nil {
				start = start.Add(time.Duration(minutes) * time.Minute)
			}
			if s.now().In(s.location).After(start.Add(-s.cancelWindow)) && !actor.IsAdmin() {
				return appErrors.Clone(appErrors.ErrForbidden, "cancellation window for this booking has closed")
			}
		}
	}
	return nil
}

// resolveVersionConflict reloads after a lost optimistic write. A concurrent
// writer that produced the state we wanted makes the request an idempotent
// success; anything else surfaces as a conflict.
func (s *BookingService) resolveVersionConflict(ctx context.Context, id string, wanted models.BookingStatus) (*models.BookingDetail, error) {
	current, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to reload booking")
	}
	if current.Status == wanted {
		return current, nil
	}
	return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("booking was concurrently moved to %s", current.Status))
}

func (s *BookingService) invalidateSlots(ctx context.Context, teacherID string) {
	if err := s.cache.Invalidate(ctx, fmt.Sprintf("slots:%s:*", teacherID)); err != nil {
		s.logger.Warn("slot cache invalidation failed", zap.String("teacher_id", teacherID), zap.Error(err))
	}
}

func (s *BookingService) recordAudit(ctx context.Context, actor *models.JWTClaims, action, resourceID, payload string) {
	if s.audit == nil {
		return
	}
	actorID := actor.UserID
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &actorID,
		Action:     action,
		Resource:   "booking",
		ResourceID: &resourceID,
		NewValues:  []byte(payload),
	}); err != nil {
		s.logger.Warn("failed to record booking audit log", zap.Error(err))
	}
}
