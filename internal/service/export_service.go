package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iqraspace/iqra-api/internal/models"
	appErrors "github.com/iqraspace/iqra-api/pkg/errors"
	"github.com/iqraspace/iqra-api/pkg/export"
)

type exportBookingReader interface {
	ListByTeacherRange(ctx context.Context, teacherID, fromDate, toDate string) ([]models.BookingDetail, error)
}

// ExportFormat identifies a supported export encoding.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportResult carries rendered bytes with the metadata needed to serve them.
type ExportResult struct {
	FileName    string
	ContentType string
	Data        []byte
}

// ExportService renders teacher booking schedules into downloadable files.
type ExportService struct {
	bookings exportBookingReader
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	logger   *zap.Logger
	location *time.Location
}

// NewExportService constructs an ExportService.
func NewExportService(bookings exportBookingReader, logger *zap.Logger, location *time.Location) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if location == nil {
		location = time.UTC
	}
	return &ExportService{
		bookings: bookings,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		logger:   logger,
		location: location,
	}
}

var exportHeaders = []string{"Date", "Start", "End", "Student", "Status", "Created"}

// TeacherSchedule exports a teacher's bookings in a date range. Teachers may
// export their own schedule, admins anyone's.
func (s *ExportService) TeacherSchedule(ctx context.Context, actor *models.JWTClaims, teacherID, fromDate, toDate string, format ExportFormat) (*ExportResult, error) {
	if !actor.IsAdmin() && actor.UserID != teacherID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot export another teacher's schedule")
	}

	from, err := parseDate(fromDate, s.location)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "from date must be YYYY-MM-DD")
	}
	to, err := parseDate(toDate, s.location)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "to date must be YYYY-MM-DD")
	}
	if to.Before(from) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "to date precedes from date")
	}

	bookings, err := s.bookings.ListByTeacherRange(ctx, teacherID, fromDate, toDate)
	if err != nil {
		return nil, appErrors.Storage(err, "failed to load bookings for export")
	}

	dataset := export.Dataset{Headers: exportHeaders}
	for _, b := range bookings {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Date":    b.Date,
			"Start":   b.StartTime,
			"End":     b.EndTime,
			"Student": b.StudentName,
			"Status":  string(b.Status),
			"Created": b.CreatedAt.In(s.location).Format(time.RFC3339),
		})
	}

	base := fmt.Sprintf("schedule_%s_%s_%s", teacherID, fromDate, toDate)
	switch format {
	case ExportFormatCSV:
		data, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ExportResult{FileName: base + ".csv", ContentType: "text/csv", Data: data}, nil
	case ExportFormatPDF:
		title := fmt.Sprintf("Teaching schedule %s to %s", fromDate, toDate)
		data, err := s.pdf.Render(dataset, title)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &ExportResult{FileName: base + ".pdf", ContentType: "application/pdf", Data: data}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be one of: "+strings.Join([]string{string(ExportFormatCSV), string(ExportFormatPDF)}, ", "))
	}
}
