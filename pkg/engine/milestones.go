package engine

import (
	"fmt"
	"strings"

	"github.com/jdziat/docflow/pkg/core"
)

// Milestone is an estimated checkpoint used when the engine reports nothing.
type Milestone struct {
	Progress int
	Message  string
}

// Milestones returns the fixed checkpoints for a conversion with the given
// settings, in increasing progress order. The last one never exceeds 90.
func Milestones(format core.InputFormat, s core.ConversionSettings) []Milestone {
	ms := []Milestone{
		{Progress: 10, Message: fmt.Sprintf("Loading %s document", strings.ToUpper(string(format)))},
		{Progress: 25, Message: "Analyzing page layout"},
	}
	if s.OCREnabled && needsOCR(format) {
		ms = append(ms, Milestone{Progress: 45, Message: DescribeOCR(s)})
	}
	if s.ExtractTables {
		ms = append(ms, Milestone{Progress: 60, Message: fmt.Sprintf("Recognizing table structure (%s mode)", orDefault(s.TableMode, "accurate"))})
	}
	if s.ExtractImages {
		ms = append(ms, Milestone{Progress: 70, Message: "Extracting images"})
	}
	if s.ChunkingEnabled {
		ms = append(ms, Milestone{Progress: 80, Message: "Chunking document"})
	}
	ms = append(ms, Milestone{Progress: 90, Message: "Generating exports: " + joinFormats(s.ExportFormats)})
	return ms
}

// DescribeOCR names the active OCR backend and languages.
func DescribeOCR(s core.ConversionSettings) string {
	langs := "auto"
	if len(s.OCRLanguages) > 0 {
		langs = strings.Join(s.OCRLanguages, ", ")
	}
	msg := fmt.Sprintf("Analyzing document with OCR (%s: %s)", orDefault(s.OCREngine, "easyocr"), langs)
	if s.ForceFullPageOCR {
		msg += ", full page"
	}
	return msg
}

func needsOCR(f core.InputFormat) bool {
	return f == core.FormatPDF || f == core.FormatImage
}

func joinFormats(fs []core.ExportFormat) string {
	if len(fs) == 0 {
		return "none"
	}
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = string(f)
	}
	return strings.Join(parts, ", ")
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
