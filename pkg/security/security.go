// Package security provides validation, sanitization, and limits for docflow.
package security

import (
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/jdziat/docflow/pkg/core"
)

// Security limits and configuration
const (
	// MaxFilenameLength is the maximum length for uploaded file names
	MaxFilenameLength = 255

	// MaxUploadSize is the maximum size in bytes for a single upload (100MB)
	MaxUploadSize = 100 << 20

	// MaxBatchFiles is the maximum number of files in one batch submission
	MaxBatchFiles = 50

	// MaxConcurrency is the hard limit for concurrent conversions
	MaxConcurrency = 64

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096

	// MaxSessionIDLength is the maximum length for session identifiers
	MaxSessionIDLength = 255

	// MaxHistoryPageSize caps history listing page sizes
	MaxHistoryPageSize = 200
)

// validSessionID matches alphanumeric, hyphens, underscores, and dots
var validSessionID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-\.]*$`)

// extensionFormats maps lower-case file extensions to input formats.
var extensionFormats = map[string]core.InputFormat{
	".pdf":      core.FormatPDF,
	".docx":     core.FormatDOCX,
	".pptx":     core.FormatPPTX,
	".xlsx":     core.FormatXLSX,
	".html":     core.FormatHTML,
	".htm":      core.FormatHTML,
	".xhtml":    core.FormatHTML,
	".md":       core.FormatMarkdown,
	".markdown": core.FormatMarkdown,
	".adoc":     core.FormatAsciiDoc,
	".asciidoc": core.FormatAsciiDoc,
	".csv":      core.FormatCSV,
	".png":      core.FormatImage,
	".jpg":      core.FormatImage,
	".jpeg":     core.FormatImage,
	".tif":      core.FormatImage,
	".tiff":     core.FormatImage,
	".bmp":      core.FormatImage,
	".webp":     core.FormatImage,
}

// mimeFormats maps sniffed media types to input formats when the extension is unknown.
var mimeFormats = []struct {
	mime   string
	format core.InputFormat
}{
	{"application/pdf", core.FormatPDF},
	{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", core.FormatDOCX},
	{"application/vnd.openxmlformats-officedocument.presentationml.presentation", core.FormatPPTX},
	{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", core.FormatXLSX},
	{"text/html", core.FormatHTML},
	{"text/csv", core.FormatCSV},
	{"image/png", core.FormatImage},
	{"image/jpeg", core.FormatImage},
	{"image/tiff", core.FormatImage},
	{"image/bmp", core.FormatImage},
	{"image/webp", core.FormatImage},
}

// ValidateFilename validates an uploaded file name and returns its base name.
func ValidateFilename(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", core.ErrInvalidFilename
	}
	if strings.ContainsAny(name, "\x00") {
		return "", core.ErrInvalidFilename
	}
	// Browsers on Windows may send full paths.
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if base == "." || base == ".." || base == "/" {
		return "", core.ErrInvalidFilename
	}
	if len(base) > MaxFilenameLength {
		return "", core.ErrInvalidFilename
	}
	return base, nil
}

// DetectFormat determines the input format from the file name, falling back
// to content sniffing when the extension is missing or unknown.
func DetectFormat(filename string, head []byte) (core.InputFormat, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if f, ok := extensionFormats[ext]; ok {
		return f, nil
	}
	if len(head) > 0 {
		m := mimetype.Detect(head)
		for _, mf := range mimeFormats {
			if m.Is(mf.mime) {
				return mf.format, nil
			}
		}
	}
	if ext == "" {
		return "", fmt.Errorf("%w: cannot determine format of %q", core.ErrUnsupportedFormat, filename)
	}
	return "", fmt.Errorf("%w: %s", core.ErrUnsupportedFormat, ext)
}

// SupportedExtensions returns the accepted file extensions, sorted.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(extensionFormats))
	for ext := range extensionFormats {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// ValidateSessionID validates a settings session identifier
func ValidateSessionID(id string) error {
	if id == "" || len(id) > MaxSessionIDLength {
		return core.ErrInvalidSessionID
	}
	if !validSessionID.MatchString(id) {
		return core.ErrInvalidSessionID
	}
	return nil
}

// ValidateUploadSize checks a declared upload size against the limits.
func ValidateUploadSize(size int64) error {
	if size == 0 {
		return core.ErrEmptyFile
	}
	if size > MaxUploadSize {
		return core.ErrFileTooLarge
	}
	return nil
}

// SafeJoin joins name onto base and rejects results that escape base.
func SafeJoin(base, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) {
		return "", core.ErrInvalidArtifactDir
	}
	joined := filepath.Join(base, name)
	rel, err := filepath.Rel(base, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", core.ErrInvalidArtifactDir
	}
	return joined, nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampConcurrency ensures concurrency is within limits
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}

// ClampPageSize bounds a requested listing page size.
func ClampPageSize(n, def int) int {
	if n <= 0 {
		return def
	}
	if n > MaxHistoryPageSize {
		return MaxHistoryPageSize
	}
	return n
}
