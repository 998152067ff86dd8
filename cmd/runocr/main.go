package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/recetas-tracker/internal/common"
	"github.com/joseph-ayodele/recetas-tracker/internal/ocr"
	"github.com/joseph-ayodele/recetas-tracker/internal/parse"
)

type output struct {
	File       string          `json:"file"`
	Method     string          `json:"method"`
	Pages      int             `json:"pages"`
	DurationMS int64           `json:"duration_ms"`
	Warnings   []string        `json:"warnings,omitempty"`
	Text       string          `json:"text"`
	Fields     json.RawMessage `json:"fields"`
	Valid      bool            `json:"valid"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if len(os.Args) != 2 {
		logger.Error("usage", "cmd", "runocr <file.pdf>")
		os.Exit(2)
	}
	path := os.Args[1]
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("read file", "path", path, "error", err)
		os.Exit(1)
	}

	_ = godotenv.Load()
	cfg := common.LoadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	x := ocr.NewExtractor(ocr.Config{
		Pdftotext:     cfg.OCR.Pdftotext,
		Pdftoppm:      cfg.OCR.Pdftoppm,
		Tesseract:     cfg.OCR.Tesseract,
		TesseractLang: cfg.OCR.TesseractLang,
		DPI:           cfg.OCR.DPI,
		MaxPages:      cfg.OCR.MaxPages,
		TessdataDir:   cfg.OCR.TessdataDir,
	}, logger)

	res, err := x.ExtractPDF(ctx, data)
	if err != nil {
		logger.Error("text extraction failed", "path", path, "error", err)
		os.Exit(1)
	}
	fields, err := parse.Parse(res.Text).JSON()
	if err != nil {
		logger.Error("encode fields", "error", err)
		os.Exit(1)
	}
	valid := true
	if err := parse.ValidateFields(fields); err != nil {
		logger.Warn("parsed fields failed schema validation", "error", err)
		valid = false
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(output{
		File:       path,
		Method:     res.Method,
		Pages:      res.Pages,
		DurationMS: res.Duration.Milliseconds(),
		Warnings:   res.Warnings,
		Text:       res.Text,
		Fields:     fields,
		Valid:      valid,
	}); err != nil {
		logger.Error("encode output", "error", err)
		os.Exit(1)
	}
}
