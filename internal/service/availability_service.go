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
	appErrors "github.com/iqraspace/iqra-api/pkg/errors"
)

type availabilityRepository interface {
	ListByTeacher(ctx context.Context, teacherID string, includeInactive bool) ([]models.AvailabilityPattern, error)
	FindByID(ctx context.Context, id string) (*models.AvailabilityPattern, error)
	FindOverlapping(ctx context.Context, teacherID string, dayOfWeek int, startTime, endTime string) ([]models.AvailabilityPattern, error)
	Create(ctx context.Context, pattern *models.AvailabilityPattern) error
	Deactivate(ctx context.Context, id string) error
}

type slotUsageReader interface {
	ActiveCountsByRange(ctx context.Context, teacherID, fromDate, toDate string) ([]models.SlotUsage, error)
}

type teacherReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// DefineAvailabilityRequest describes a new recurring availability window.
type DefineAvailabilityRequest struct {
	TeacherID   string `json:"teacher_id" validate:"required"`
	DayOfWeek   int    `json:"day_of_week" validate:"min=0,max=6"`
	StartTime   string `json:"start_time" validate:"required"`
	EndTime     string `json:"end_time" validate:"required"`
	MaxCapacity int    `json:"max_capacity" validate:"min=1"`
}

// SlotRangeRequest bounds a slot expansion query.
type SlotRangeRequest struct {
	TeacherID string `validate:"required"`
	From      string `validate:"required"`
	To        string `validate:"required"`
}

// AvailabilityService manages teacher availability patterns and expands them
// into concrete bookable slots.
type AvailabilityService struct {
	repo      availabilityRepository
	usage     slotUsageReader
	teachers  teacherReader
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger

	maxRangeDays int
	cacheTTL     time.Duration
	location     *time.Location
}

// NewAvailabilityService constructs an AvailabilityService.
func NewAvailabilityService(repo availabilityRepository, usage slotUsageReader, teachers teacherReader, cache *CacheService, validate *validator.Validate, logger *zap.Logger, maxRangeDays int, cacheTTL time.Duration, loc *time.Location) *AvailabilityService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRangeDays <= 0 {
		maxRangeDays = 31
	}
	if loc == nil {
		loc = time.UTC
	}
	return &AvailabilityService{
		repo:         repo,
		usage:        usage,
		teachers:     teachers,
		cache:        cache,
		validator:    validate,
		logger:       logger,
		maxRangeDays: maxRangeDays,
		cacheTTL:     cacheTTL,
		location:     loc,
	}
}

// Define registers a new recurring availability window for a teacher. Only the
// owning teacher or an admin may define windows; overlapping an existing
// active window of the same teacher and weekday is rejected.
func (s *AvailabilityService) Define(ctx context.Context, req DefineAvailabilityRequest, actor *models.JWTClaims) (*models.AvailabilityPattern, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.IsAdmin() && (actor.Role != models.RoleTeacher || actor.UserID != req.TeacherID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the owning teacher or an admin may define availability")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid availability payload")
	}

	startMin, err := parseClock(req.StartTime)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	endMin, err := parseClock(req.EndTime)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	if startMin >= endMin {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_time must be before end_time")
	}

	teacher, err := s.teachers.FindByID(ctx, req.TeacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Storage(err, "failed to load teacher")
	}
	if teacher.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrValidation, "availability can only be defined for teachers")
	}

	overlapping, err := s.repo.FindOverlapping(ctx, req.TeacherID, req.DayOfWeek, req.StartTime, req.EndTime)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to check for overlapping windows")
	}
	if len(overlapping) > 0 {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("window overlaps existing availability %s-%s", overlapping[0].StartTime, overlapping[0].EndTime))
	}

	pattern := &models.AvailabilityPattern{
		TeacherID:   req.TeacherID,
		DayOfWeek:   req.DayOfWeek,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		MaxCapacity: req.MaxCapacity,
		Active:      true,
	}
	if err := s.repo.Create(ctx, pattern); err != nil {
		return nil, appErrors.Storage(err, "failed to create availability")
	}

	s.invalidateSlots(ctx, req.TeacherID)
	s.logger.Info("availability defined",
		zap.String("teacher_id", req.TeacherID),
		zap.Int("day_of_week", req.DayOfWeek),
		zap.String("window", req.StartTime+"-"+req.EndTime),
	)
	return pattern, nil
}

// List returns a teacher's active availability patterns.
func (s *AvailabilityService) List(ctx context.Context, teacherID string) ([]models.AvailabilityPattern, error) {
	patterns, err := s.repo.ListByTeacher(ctx, teacherID, false)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to list availability")
	}
	return patterns, nil
}

// Slots expands a teacher's patterns against the calendar dates in
// [from, to] and annotates each instance with remaining capacity. The result
// is cached briefly; writes invalidate the teacher's slot keys, so staleness
// never affects admission correctness.
func (s *AvailabilityService) Slots(ctx context.Context, req SlotRangeRequest) ([]models.Slot, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid slot query")
	}
	from, err := parseDate(req.From, s.location)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid from date, expected YYYY-MM-DD")
	}
	to, err := parseDate(req.To, s.location)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid to date, expected YYYY-MM-DD")
	}
	if to.Before(from) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "to must not precede from")
	}
	if int(to.Sub(from).Hours()/24) >= s.maxRangeDays {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("range exceeds %d days", s.maxRangeDays))
	}

	cacheKey := fmt.Sprintf("slots:%s:%s:%s", req.TeacherID, req.From, req.To)
	var cached []models.Slot
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return cached, nil
	}

	patterns, err := s.repo.ListByTeacher(ctx, req.TeacherID, false)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to load availability")
	}

	usage, err := s.usage.ActiveCountsByRange(ctx, req.TeacherID, req.From, req.To)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to load slot usage")
	}
	booked := make(map[string]int, len(usage))
	for _, u := range usage {
		booked[u.Date+"|"+u.StartTime] = u.Count
	}

	byWeekday := make(map[int][]models.AvailabilityPattern)
	for _, p := range patterns {
		byWeekday[p.DayOfWeek] = append(byWeekday[p.DayOfWeek], p)
	}

	slots := make([]models.Slot, 0)
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		date := day.Format(dateLayout)
		for _, p := range byWeekday[int(day.Weekday())] {
			count := booked[date+"|"+p.StartTime]
			available := p.MaxCapacity - count
			if available < 0 {
				available = 0
			}
			slots = append(slots, models.Slot{
				TeacherID: req.TeacherID,
				Date:      date,
				StartTime: p.StartTime,
				EndTime:   p.EndTime,
				Capacity:  p.MaxCapacity,
				Booked:    count,
				Available: available,
			})
		}
	}

	if err := s.cache.Set(ctx, cacheKey, slots, s.cacheTTL); err != nil {
		s.logger.Warn("failed to cache slots", zap.String("key", cacheKey), zap.Error(err))
	}
	return slots, nil
}

// Deactivate soft-invalidates a pattern. Future bookings referencing the
// window remain intact; new admissions stop matching it.
func (s *AvailabilityService) Deactivate(ctx context.Context, id string, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	pattern, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "availability not found")
		}
		return appErrors.Storage(err, "failed to load availability")
	}
	if !actor.IsAdmin() && actor.UserID != pattern.TeacherID {
		return appErrors.Clone(appErrors.ErrForbidden, "only the owning teacher or an admin may deactivate availability")
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "availability not found")
		}
		return appErrors.Storage(err, "failed to deactivate availability")
	}
	s.invalidateSlots(ctx, pattern.TeacherID)
	return nil
}

func (s *AvailabilityService) invalidateSlots(ctx context.Context, teacherID string) {
	if err := s.cache.Invalidate(ctx, fmt.Sprintf("slots:%s:*", teacherID)); err != nil {
		s.logger.Warn("slot cache invalidation failed", zap.String("teacher_id", teacherID), zap.Error(err))
	}
}
