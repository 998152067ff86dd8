package ocr

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
)

type stubRunner struct {
	text  string // pdftotext stdout
	ocr   string // tesseract stdout per page
	pages int    // pngs written by pdftoppm
	calls []string
}

func (s *stubRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	s.calls = append(s.calls, name)
	switch name {
	case "pdftotext":
		return []byte(s.text), nil, nil
	case "pdftoppm":
		prefix := args[len(args)-1]
		for i := 1; i <= s.pages; i++ {
			if err := os.WriteFile(prefix+"-"+string(rune('0'+i))+".png", []byte("png"), 0o600); err != nil {
				return nil, nil, err
			}
		}
		return nil, nil, nil
	case "tesseract":
		if s.ocr == "" {
			return nil, []byte("empty page"), errors.New("exit status 1")
		}
		return []byte(s.ocr), nil, nil
	}
	return nil, nil, errors.New("unexpected command " + name)
}

func (s *stubRunner) ran(name string) bool {
	for _, c := range s.calls {
		if c == name {
			return true
		}
	}
	return false
}

var fakePDF = []byte("%PDF-1.4\n%%EOF\n")

func TestExtractPDFUsesTextLayer(t *testing.T) {
	r := &stubRunner{text: "Dr. Juan Pérez\r\nFecha:  05/03/2024\n\n\n\nEcografía"}
	e := NewExtractor(Config{}, nil, WithRunner(r))
	res, err := e.ExtractPDF(context.Background(), fakePDF)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Method != MethodPDFText {
		t.Fatalf("expected pdf-text, got %q", res.Method)
	}
	if r.ran("pdftoppm") || r.ran("tesseract") {
		t.Fatalf("ocr must not run when the text layer is usable: %v", r.calls)
	}
	if !strings.Contains(res.Text, "05/03/2024") || strings.Contains(res.Text, "\r") {
		t.Fatalf("unexpected normalized text %q", res.Text)
	}
}

func TestExtractPDFFallsBackToOCR(t *testing.T) {
	r := &stubRunner{text: "  \f ", ocr: "Especialidad: Cardiología\n", pages: 2}
	e := NewExtractor(Config{MaxPages: 5}, nil, WithRunner(r))
	res, err := e.ExtractPDF(context.Background(), fakePDF)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Method != MethodPDFOCR {
		t.Fatalf("expected pdf-ocr, got %q", res.Method)
	}
	if strings.Count(res.Text, "Cardiología") != 2 {
		t.Fatalf("expected both pages in text, got %q", res.Text)
	}
	if res.Language != "spa" {
		t.Fatalf("expected spa default, got %q", res.Language)
	}
}

func TestExtractPDFBothStrategiesFail(t *testing.T) {
	r := &stubRunner{text: "short", pages: 1}
	e := NewExtractor(Config{}, nil, WithRunner(r))
	_, err := e.ExtractPDF(context.Background(), fakePDF)
	var xe *ExtractionError
	if !errors.As(err, &xe) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if len(xe.Attempts) != 2 {
		t.Fatalf("expected two attempts recorded, got %v", xe.Attempts)
	}
}

func TestExtractPDFNoPagesRendered(t *testing.T) {
	r := &stubRunner{text: ""}
	e := NewExtractor(Config{}, nil, WithRunner(r))
	_, err := e.ExtractPDF(context.Background(), fakePDF)
	var xe *ExtractionError
	if !errors.As(err, &xe) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
}

func TestNormalizeKeepsDigits(t *testing.T) {
	in := "Fecha:\t01/02/2024\r\n\r\n\r\n\r\nOrden  08  de   3   "
	got := Normalize(in)
	want := "Fecha: 01/02/2024\n\nOrden 08 de 3"
	if got != want {
		t.Fatalf("Normalize() = %q, want %q", got, want)
	}
}
