package security

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/docflow/pkg/core"
)

func TestValidateFilename_Valid(t *testing.T) {
	tests := map[string]string{
		"report.pdf":                     "report.pdf",
		"  spaced name.docx ":            "spaced name.docx",
		`C:\Users\me\Desktop\slides.pptx`: "slides.pptx",
		"nested/dir/table.xlsx":          "table.xlsx",
	}
	for in, want := range tests {
		got, err := ValidateFilename(in)
		require.NoError(t, err, "Expected %q to be valid", in)
		assert.Equal(t, want, got)
	}
}

func TestValidateFilename_Invalid(t *testing.T) {
	invalid := []string{
		"",
		"   ",
		"..",
		"bad\x00name.pdf",
		strings.Repeat("a", 300) + ".pdf",
	}
	for _, name := range invalid {
		_, err := ValidateFilename(name)
		assert.ErrorIs(t, err, core.ErrInvalidFilename, "Expected %q to be invalid", name)
	}
}

func TestDetectFormat_ByExtension(t *testing.T) {
	tests := map[string]core.InputFormat{
		"a.pdf":      core.FormatPDF,
		"a.PDF":      core.FormatPDF,
		"a.docx":     core.FormatDOCX,
		"a.pptx":     core.FormatPPTX,
		"a.xlsx":     core.FormatXLSX,
		"a.htm":      core.FormatHTML,
		"a.md":       core.FormatMarkdown,
		"a.adoc":     core.FormatAsciiDoc,
		"a.csv":      core.FormatCSV,
		"scan.jpeg":  core.FormatImage,
		"scan.tiff":  core.FormatImage,
	}
	for name, want := range tests {
		got, err := DetectFormat(name, nil)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
}

func TestDetectFormat_SniffsContentWithoutExtension(t *testing.T) {
	got, err := DetectFormat("upload", []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n1 0 obj\n"))
	require.NoError(t, err)
	assert.Equal(t, core.FormatPDF, got)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	got, err = DetectFormat("image.bin", png)
	require.NoError(t, err)
	assert.Equal(t, core.FormatImage, got)
}

func TestDetectFormat_Unsupported(t *testing.T) {
	_, err := DetectFormat("archive.zip", nil)
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)

	_, err = DetectFormat("noext", []byte{0x00, 0x01, 0x02})
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)
}

func TestValidateSessionID(t *testing.T) {
	assert.NoError(t, ValidateSessionID("default"))
	assert.NoError(t, ValidateSessionID("user-42.tab_1"))
	assert.ErrorIs(t, ValidateSessionID(""), core.ErrInvalidSessionID)
	assert.ErrorIs(t, ValidateSessionID("-lead"), core.ErrInvalidSessionID)
	assert.ErrorIs(t, ValidateSessionID("has space"), core.ErrInvalidSessionID)
	assert.ErrorIs(t, ValidateSessionID(strings.Repeat("x", 300)), core.ErrInvalidSessionID)
}

func TestValidateUploadSize(t *testing.T) {
	assert.NoError(t, ValidateUploadSize(1))
	assert.ErrorIs(t, ValidateUploadSize(0), core.ErrEmptyFile)
	assert.ErrorIs(t, ValidateUploadSize(MaxUploadSize+1), core.ErrFileTooLarge)
}

func TestSafeJoin(t *testing.T) {
	base := filepath.Join("var", "out", "job-1")

	p, err := SafeJoin(base, "images/fig-1.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "images", "fig-1.png"), p)

	for _, bad := range []string{"", "../job-2/doc.md", "images/../../x", "/etc/passwd"} {
		_, err := SafeJoin(base, bad)
		assert.ErrorIs(t, err, core.ErrInvalidArtifactDir, bad)
	}
}

func TestSanitizeErrorMessage(t *testing.T) {
	assert.Equal(t, "", SanitizeErrorMessage(""))
	assert.Equal(t, "line1\nline2", SanitizeErrorMessage("line1\nline2\x00\x07"))

	long := strings.Repeat("e", MaxErrorMessageLength+100)
	out := SanitizeErrorMessage(long)
	assert.Equal(t, MaxErrorMessageLength, len([]rune(out)))
	assert.True(t, strings.HasSuffix(out, "..."))
}

func TestClampConcurrency(t *testing.T) {
	assert.Equal(t, 1, ClampConcurrency(0))
	assert.Equal(t, 1, ClampConcurrency(-5))
	assert.Equal(t, 4, ClampConcurrency(4))
	assert.Equal(t, MaxConcurrency, ClampConcurrency(MaxConcurrency+1))
}

func TestClampPageSize(t *testing.T) {
	assert.Equal(t, 50, ClampPageSize(0, 50))
	assert.Equal(t, 10, ClampPageSize(10, 50))
	assert.Equal(t, MaxHistoryPageSize, ClampPageSize(1000, 50))
}
