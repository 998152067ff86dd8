package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/recetas-tracker/internal/entity"
)

const sheet = "Recetas"

// Lister is the slice of the record store the export needs.
type Lister interface {
	ListByUser(ctx context.Context, userID uuid.UUID, from, to *time.Time) ([]*entity.Prescription, error)
}

// Service produces XLSX bytes for prescription exports.
type Service struct {
	records Lister
	logger  *slog.Logger
}

func NewService(records Lister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{records: records, logger: logger}
}

// ExportPrescriptionsXLSX returns a workbook for the user's records created in [from, to].
// If only from is provided -> from..today (inclusive).
// If only to is provided   -> beginning..to (inclusive).
// If neither is provided   -> all records.
func (s *Service) ExportPrescriptionsXLSX(ctx context.Context, userID uuid.UUID, from, to *time.Time) ([]byte, error) {
	start := time.Now()

	// date-only bounds, UTC; to covers the whole day
	var fromDate, toDate *time.Time
	if from != nil {
		f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
		fromDate = &f
	}
	if to != nil {
		t := time.Date(to.Year(), to.Month(), to.Day(), 23, 59, 59, 0, time.UTC)
		toDate = &t
	}
	if fromDate != nil && toDate == nil {
		today := time.Now().UTC()
		t := time.Date(today.Year(), today.Month(), today.Day(), 23, 59, 59, 0, time.UTC)
		toDate = &t
	}

	recs, err := s.records.ListByUser(ctx, userID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("query prescriptions: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	// rename the default sheet rather than leaving an empty "Sheet1"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, err
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Fecha de emisión",
		"Médico",
		"Especialidad",
		"Estudios",
		"Diagnóstico",
		"Estado",
		"Origen",
		"PDF",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(sheet, 1, 1, style)
	}

	row := 2
	for _, r := range recs {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, value(r.IssuedOn))
		write(2, value(r.Physician))
		write(3, value(r.Specialty))
		write(4, truncate(strings.Join(r.Studies, "; "), 500))
		write(5, value(r.Diagnosis))
		write(6, string(r.State))
		write(7, origin(r))
		write(8, r.PDFURL)
		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 16) // date
	_ = f.SetColWidth(sheet, "B", "C", 26) // physician, specialty
	_ = f.SetColWidth(sheet, "D", "D", 60) // studies
	_ = f.SetColWidth(sheet, "E", "E", 36) // diagnosis
	_ = f.SetColWidth(sheet, "F", "G", 12) // state, origin
	_ = f.SetColWidth(sheet, "H", "H", 60) // url

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"user_id", userID.String(),
		"rows", len(recs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func origin(r *entity.Prescription) string {
	if r.FromMailbox() {
		return "mail"
	}
	return "subida"
}

func value(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
