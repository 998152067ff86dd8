package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/recetas-tracker/internal/entity"
	"github.com/joseph-ayodele/recetas-tracker/internal/ocr"
	"github.com/joseph-ayodele/recetas-tracker/internal/parse"
)

// ErrExtraction marks a document whose text could not be recovered. The
// record has been moved to ocr_error when this is returned.
var ErrExtraction = errors.New("text extraction failed")

// TextExtractor turns PDF bytes into text.
type TextExtractor interface {
	ExtractPDF(ctx context.Context, data []byte) (ocr.ExtractionResult, error)
}

// Recorder persists the outcome of processing a record.
type Recorder interface {
	MarkParsed(ctx context.Context, id uuid.UUID, version int, parsed entity.Parsed) (*entity.Prescription, error)
	MarkFailed(ctx context.Context, id uuid.UUID, version int, message string) (*entity.Prescription, error)
}

type Processor struct {
	extractor TextExtractor
	records   Recorder
	logger    *slog.Logger
}

func NewProcessor(tx TextExtractor, records Recorder, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{extractor: tx, records: records, logger: logger}
}

// Process extracts, parses and validates pdf, then applies exactly one state
// transition to rec. On extraction failure the ocr_error record is returned
// together with an error wrapping ErrExtraction.
func (p *Processor) Process(ctx context.Context, rec *entity.Prescription, pdf []byte) (*entity.Prescription, error) {
	start := time.Now()
	log := p.logger.With("record_id", rec.ID, "user_id", rec.UserID)

	res, err := p.extractor.ExtractPDF(ctx, pdf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Warn("text extraction failed", "error", err, "warnings", len(res.Warnings))
		return p.fail(ctx, rec, err)
	}
	log.Info("text extracted",
		"method", res.Method,
		"pages", res.Pages,
		"chars", len(res.Text),
		"duration_ms", res.Duration.Milliseconds(),
	)

	fields := parse.Parse(res.Text)
	raw, err := fields.JSON()
	if err == nil {
		err = parse.ValidateFields(raw)
	}
	if err != nil {
		log.Error("parsed fields rejected", "error", err)
		return p.fail(ctx, rec, err)
	}

	updated, err := p.records.MarkParsed(ctx, rec.ID, rec.Version, entity.Parsed{
		Physician: fields.Physician,
		Specialty: fields.Specialty,
		IssuedOn:  fields.IssuedOn,
		Studies:   fields.Studies,
		Diagnosis: fields.Diagnosis,
		RawJSON:   raw,
	})
	if err != nil {
		return nil, fmt.Errorf("mark parsed: %w", err)
	}
	log.Info("prescription processed",
		"state", updated.State,
		"physician_found", fields.Physician != nil,
		"issued_on_found", fields.IssuedOn != nil,
		"studies", len(fields.Studies),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return updated, nil
}

func (p *Processor) fail(ctx context.Context, rec *entity.Prescription, cause error) (*entity.Prescription, error) {
	updated, err := p.records.MarkFailed(ctx, rec.ID, rec.Version, cause.Error())
	if err != nil {
		return nil, fmt.Errorf("mark failed: %w", err)
	}
	return updated, fmt.Errorf("%w: %v", ErrExtraction, cause)
}
