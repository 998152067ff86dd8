// Package recetas is the application service behind the prescription HTTP routes.
package recetas

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/recetas-tracker/constants"
	"github.com/joseph-ayodele/recetas-tracker/internal/common"
	"github.com/joseph-ayodele/recetas-tracker/internal/entity"
	"github.com/joseph-ayodele/recetas-tracker/internal/fetch"
	"github.com/joseph-ayodele/recetas-tracker/internal/pipeline"
	"github.com/joseph-ayodele/recetas-tracker/internal/repository"
	"github.com/joseph-ayodele/recetas-tracker/internal/storage"
)

// ErrFileTooLarge rejects uploads above constants.MaxUploadBytes.
var ErrFileTooLarge = common.NewAppError("FILE_TOO_LARGE", "el archivo supera los 10 MB", common.ErrInvalidInput)

const maxFieldLen = 200

type Processor interface {
	Process(ctx context.Context, rec *entity.Prescription, pdf []byte) (*entity.Prescription, error)
}

type Service struct {
	records   repository.PrescriptionRepository
	store     storage.Store
	processor Processor
	logger    *slog.Logger
}

func NewService(records repository.PrescriptionRepository, store storage.Store, processor Processor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{records: records, store: store, processor: processor, logger: logger}
}

// Upload stores a user-supplied PDF and processes it. A document whose text
// cannot be extracted is not an error: the record comes back in ocr_error.
func (s *Service) Upload(ctx context.Context, userID uuid.UUID, fileName string, data []byte) (*entity.Prescription, error) {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(fileName), "\\", "/"))
	switch {
	case name == "" || name == "." || name == "/":
		return nil, common.NewAppError("INVALID_FILE", "fileName is required", common.ErrInvalidInput)
	case !constants.HasPDFExt(name):
		return nil, common.NewAppError("INVALID_FILE", "solo se aceptan archivos .pdf", common.ErrInvalidInput)
	case len(data) == 0:
		return nil, common.NewAppError("INVALID_FILE", "el archivo está vacío", common.ErrInvalidInput)
	case len(data) > constants.MaxUploadBytes:
		return nil, ErrFileTooLarge
	case !fetch.IsPDF(data):
		return nil, common.NewAppError("INVALID_FILE", "el contenido no es un PDF", common.ErrInvalidInput)
	}

	obj, err := s.store.Put(ctx, data, name, userID)
	if err != nil {
		s.logger.Error("upload store failed", "user_id", userID, "file_name", name, "error", err)
		return nil, common.Persistence("store object", err)
	}
	rec := &entity.Prescription{
		UserID:          userID,
		PDFURL:          obj.URL,
		PDFObjectKey:    obj.Key,
		PDFOriginalName: name,
		State:           constants.StateProcessing,
	}
	if err := s.records.Create(ctx, rec); err != nil {
		return nil, err
	}

	updated, err := s.processor.Process(ctx, rec, data)
	if errors.Is(err, pipeline.ErrExtraction) {
		s.logger.Warn("uploaded document unreadable", "user_id", userID, "record_id", rec.ID, "error", err)
		return updated, nil
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("upload processed", "user_id", userID, "record_id", updated.ID, "bytes", len(data))
	return updated, nil
}

// List returns the user's records newest first, optionally bounded by creation date.
func (s *Service) List(ctx context.Context, userID uuid.UUID, from, to *time.Time) ([]*entity.Prescription, error) {
	return s.records.ListByUser(ctx, userID, from, to)
}

// Get returns the record if it belongs to userID, otherwise common.ErrNotFound.
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*entity.Prescription, error) {
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, common.ErrNotFound
	}
	return rec, nil
}

// Correct applies a manual edit guarded by version; a stale version yields common.ErrConflict.
func (s *Service) Correct(ctx context.Context, userID, id uuid.UUID, version int, c repository.Correction) (*entity.Prescription, error) {
	v := common.NewValidator().
		Field("physician", c.Physician, common.MaxLength(maxFieldLen)).
		Field("specialty", c.Specialty, common.MaxLength(maxFieldLen)).
		Field("diagnosis", c.Diagnosis, common.MaxLength(maxFieldLen)).
		Field("issued_on", c.IssuedOn, common.ISODate)
	for i, study := range c.Studies {
		v.Field(fmt.Sprintf("studies[%d]", i), study, common.Required, common.MaxLength(maxFieldLen))
	}
	if version < 1 {
		return nil, common.NewAppError("VALIDATION_ERROR", "version is required", common.ErrInvalidInput)
	}
	if err := v.Err(); err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	rec, err := s.records.ApplyCorrection(ctx, id, version, c)
	if err != nil {
		return nil, err
	}
	s.logger.Info("prescription corrected", "user_id", userID, "record_id", id, "version", rec.Version)
	return rec, nil
}
