package ocr

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"path/filepath"
	"time"
	"unicode/utf8"
)

// Runner executes poppler and tesseract. Tests substitute a stub.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

const (
	stderrLogLimit = 4 << 10
	// a killed tool gets this long to close its pipes
	toolWaitDelay = 5 * time.Second
)

type execRunner struct {
	logger *slog.Logger
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	cmd.WaitDelay = toolWaitDelay

	start := time.Now()
	err := cmd.Run()
	attrs := []slog.Attr{
		slog.String("tool", filepath.Base(name)),
		slog.Int("argc", len(args)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	}
	if err == nil {
		r.logger.LogAttrs(ctx, slog.LevelDebug, "tool finished",
			append(attrs, slog.Int("stdout_bytes", stdout.Len()))...)
		return stdout.Bytes(), stderr.Bytes(), nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		attrs = append(attrs, slog.Int("exit_code", exitErr.ExitCode()))
	}
	// callers fall back to the next extraction step
	r.logger.LogAttrs(ctx, slog.LevelWarn, "tool failed",
		append(attrs,
			slog.String("error", err.Error()),
			slog.String("stderr", truncate(stderr.String(), stderrLogLimit)))...)
	return stdout.Bytes(), stderr.Bytes(), err
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
