package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/joseph-ayodele/recetas-tracker/constants"
)

var (
	ErrNotPDF   = errors.New("payload is not a PDF")
	ErrTooLarge = errors.New("payload exceeds size limit")
)

// FetchError is a failed document download: transport failure, non-2xx status or bad payload.
type FetchError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type Config struct {
	Timeout      time.Duration // per request, default 30s
	MaxBytes     int64         // default 20 MiB
	MaxRedirects int           // default 10
}

// Fetcher downloads PDFs from capability URLs. It never retries.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

func NewFetcher(cfg Config, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 20 << 20
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 10
	}
	maxRedirects := cfg.MaxRedirects
	client := &http.Client{
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	return &Fetcher{client: client, maxBytes: cfg.MaxBytes, logger: logger}
}

// Fetch GETs url, following redirects, and returns the body when it is a PDF.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/pdf,*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("document fetch failed", "url", truncate(url, 100), "error", err)
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	finalURL := resp.Request.URL.String()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		f.logger.Warn("document fetch bad status", "url", truncate(url, 100), "final_url", truncate(finalURL, 100), "status", resp.StatusCode)
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Err: err}
	}
	if int64(len(data)) > f.maxBytes {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Err: ErrTooLarge}
	}
	if !IsPDF(data) {
		f.logger.Warn("document fetch returned non-pdf payload",
			"url", truncate(url, 100),
			"content_type", resp.Header.Get("Content-Type"),
			"detected", mimetype.Detect(data).String(),
		)
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Err: ErrNotPDF}
	}

	f.logger.Info("document fetched",
		"final_url", truncate(finalURL, 100),
		"status", resp.StatusCode,
		"bytes", len(data),
		"content_type", resp.Header.Get("Content-Type"),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return data, nil
}

// IsPDF sniffs the payload; the server's Content-Type is not trusted.
func IsPDF(data []byte) bool {
	return len(data) > 0 && mimetype.Detect(data).Is(constants.PDFMimeType)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
