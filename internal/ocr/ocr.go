package ocr

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// MinTextLen is the number of trimmed characters a strategy must produce to be accepted.
const MinTextLen = 10

const (
	MethodPDFText = "pdf-text"
	MethodPDFOCR  = "pdf-ocr"
)

type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "spa"
	DPI           int    // rasterization DPI for scanned PDFs, default 300
	MaxPages      int    // 0 = no limit

	TessdataDir string
	PSM         int // e.g., 6 is good for uniform block of text
}

type ExtractionResult struct {
	Text     string
	Pages    int
	Method   string // MethodPDFText | MethodPDFOCR
	Language string
	Duration time.Duration
	Warnings []string
}

// ExtractionError means neither the text layer nor OCR yielded usable text.
type ExtractionError struct {
	Attempts []string
}

func (e *ExtractionError) Error() string {
	if len(e.Attempts) == 0 {
		return "no text could be extracted"
	}
	return "no text could be extracted: " + strings.Join(e.Attempts, "; ")
}

type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

type Option func(*Extractor)

// WithRunner replaces the command runner, mostly for tests.
func WithRunner(r Runner) Option {
	return func(e *Extractor) {
		if r != nil {
			e.runner = r
		}
	}
}

func NewExtractor(cfg Config, logger *slog.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "spa"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	e := &Extractor{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractPDF tries the embedded text layer first and falls back to OCR of the
// rendered pages.
func (e *Extractor) ExtractPDF(ctx context.Context, data []byte) (ExtractionResult, error) {
	start := time.Now()
	res := ExtractionResult{Language: e.cfg.TesseractLang}

	if n, err := pageCount(data); err != nil {
		res.Warnings = append(res.Warnings, "pdf validation: "+err.Error())
		e.logger.Warn("pdf validation failed", "error", err)
	} else {
		res.Pages = n
	}

	f, err := os.CreateTemp("", "recetas-*.pdf")
	if err != nil {
		return res, fmt.Errorf("create temp pdf: %w", err)
	}
	path := f.Name()
	defer func() {
		if err := os.Remove(path); err != nil {
			e.logger.Warn("failed to remove temp pdf", "path", path, "error", err)
		}
	}()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return res, fmt.Errorf("write temp pdf: %w", err)
	}
	if err := f.Close(); err != nil {
		return res, fmt.Errorf("close temp pdf: %w", err)
	}

	var attempts []string

	txt, pages, warns, err := e.pdfToText(ctx, path)
	res.Warnings = append(res.Warnings, warns...)
	switch {
	case err != nil:
		attempts = append(attempts, "pdftotext: "+err.Error())
	default:
		txt = Normalize(txt)
		if utf8.RuneCountInString(txt) > MinTextLen {
			res.Text, res.Method = txt, MethodPDFText
			if res.Pages == 0 {
				res.Pages = pages
			}
			res.Duration = time.Since(start)
			e.logger.Debug("pdf text layer accepted", "chars", len(txt), "pages", res.Pages)
			return res, nil
		}
		attempts = append(attempts, fmt.Sprintf("pdftotext: %d chars", len(txt)))
	}

	e.logger.Info("pdf text layer too short, running ocr", "dpi", e.cfg.DPI, "lang", e.cfg.TesseractLang)
	txt, pages, warns, err = e.pdfToOCR(ctx, path)
	res.Warnings = append(res.Warnings, warns...)
	res.Duration = time.Since(start)
	if err != nil {
		attempts = append(attempts, "ocr: "+err.Error())
		return res, &ExtractionError{Attempts: attempts}
	}
	txt = Normalize(txt)
	if utf8.RuneCountInString(txt) <= MinTextLen {
		attempts = append(attempts, fmt.Sprintf("ocr: %d chars", len(txt)))
		return res, &ExtractionError{Attempts: attempts}
	}
	res.Text, res.Method = txt, MethodPDFOCR
	if res.Pages == 0 {
		res.Pages = pages
	}
	return res, nil
}

func pageCount(data []byte) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("pdfcpu: %v", r)
		}
	}()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.PageCount(bytes.NewReader(data), conf)
}
