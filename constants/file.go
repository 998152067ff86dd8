package constants

import "strings"

const (
	PDFExt      = "pdf"
	PDFMimeType = "application/pdf"

	// MaxUploadBytes caps direct uploads.
	MaxUploadBytes = 10 << 20
)

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// HasPDFExt reports whether name ends in .pdf, case-insensitively.
func HasPDFExt(name string) bool {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return false
	}
	return NormalizeExt(name[i:]) == PDFExt
}
