package core

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// ExportFormat identifies one of the document exports the engine can produce.
type ExportFormat string

const (
	ExportMarkdown ExportFormat = "markdown"
	ExportHTML     ExportFormat = "html"
	ExportJSON     ExportFormat = "json"
	ExportText     ExportFormat = "text"
	ExportDocTags  ExportFormat = "doctags"
)

// ConversionSettings controls OCR, table and image extraction, exports and chunking.
type ConversionSettings struct {
	OCREnabled       bool           `json:"ocr_enabled"`
	OCREngine        string         `json:"ocr_engine" validate:"omitempty,oneof=easyocr tesseract rapidocr ocrmac"`
	OCRLanguages     []string       `json:"ocr_languages" validate:"omitempty,max=10,dive,min=2,max=8"`
	ForceFullPageOCR bool           `json:"force_full_page_ocr"`
	ExtractTables    bool           `json:"extract_tables"`
	TableMode        string         `json:"table_mode" validate:"omitempty,oneof=fast accurate"`
	ExtractImages    bool           `json:"extract_images"`
	ImageScale       float64        `json:"image_scale" validate:"omitempty,gte=0.5,lte=4"`
	ExportFormats    []ExportFormat `json:"export_formats" validate:"required,min=1,unique,dive,oneof=markdown html json text doctags"`
	ChunkingEnabled  bool           `json:"chunking_enabled"`
	ChunkMaxTokens   int            `json:"chunk_max_tokens" validate:"omitempty,gte=64,lte=8192"`
	TimeoutSeconds   int            `json:"timeout_seconds" validate:"gte=0,lte=3600"`
}

// DefaultSettings returns the settings used when a session has none stored.
func DefaultSettings() ConversionSettings {
	return ConversionSettings{
		OCREnabled:     true,
		OCREngine:      "easyocr",
		OCRLanguages:   []string{"en"},
		ExtractTables:  true,
		TableMode:      "accurate",
		ExtractImages:  true,
		ImageScale:     2.0,
		ExportFormats:  []ExportFormat{ExportMarkdown, ExportJSON},
		ChunkMaxTokens: 512,
	}
}

// Timeout returns the per-job timeout requested by the settings, or zero.
func (s ConversionSettings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Clone returns a copy that shares no slices with s.
func (s ConversionSettings) Clone() ConversionSettings {
	s.OCRLanguages = slices.Clone(s.OCRLanguages)
	s.ExportFormats = slices.Clone(s.ExportFormats)
	return s
}

// SettingsOverride carries per-request changes. Nil fields keep the base value.
type SettingsOverride struct {
	OCREnabled       *bool          `json:"ocr_enabled,omitempty"`
	OCREngine        *string        `json:"ocr_engine,omitempty"`
	OCRLanguages     []string       `json:"ocr_languages,omitempty"`
	ForceFullPageOCR *bool          `json:"force_full_page_ocr,omitempty"`
	ExtractTables    *bool          `json:"extract_tables,omitempty"`
	TableMode        *string        `json:"table_mode,omitempty"`
	ExtractImages    *bool          `json:"extract_images,omitempty"`
	ImageScale       *float64       `json:"image_scale,omitempty"`
	ExportFormats    []ExportFormat `json:"export_formats,omitempty"`
	ChunkingEnabled  *bool          `json:"chunking_enabled,omitempty"`
	ChunkMaxTokens   *int           `json:"chunk_max_tokens,omitempty"`
	TimeoutSeconds   *int           `json:"timeout_seconds,omitempty"`
}

// Merge applies an override on top of s and returns the result.
func (s ConversionSettings) Merge(o *SettingsOverride) ConversionSettings {
	out := s.Clone()
	if o == nil {
		return out
	}
	setIf(&out.OCREnabled, o.OCREnabled)
	setIf(&out.OCREngine, o.OCREngine)
	setIf(&out.ForceFullPageOCR, o.ForceFullPageOCR)
	setIf(&out.ExtractTables, o.ExtractTables)
	setIf(&out.TableMode, o.TableMode)
	setIf(&out.ExtractImages, o.ExtractImages)
	setIf(&out.ImageScale, o.ImageScale)
	setIf(&out.ChunkingEnabled, o.ChunkingEnabled)
	setIf(&out.ChunkMaxTokens, o.ChunkMaxTokens)
	setIf(&out.TimeoutSeconds, o.TimeoutSeconds)
	if len(o.OCRLanguages) > 0 {
		out.OCRLanguages = slices.Clone(o.OCRLanguages)
	}
	if len(o.ExportFormats) > 0 {
		out.ExportFormats = slices.Clone(o.ExportFormats)
	}
	return out
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator instance.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the settings against their constraints.
func (s ConversionSettings) Validate() error {
	if err := Validator().Struct(s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSettings, describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("field '%s' failed on the '%s' tag", fe.Field(), fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s (value: %s)", msg, fe.Param())
		}
		parts = append(parts, msg)
	}
	return strings.Join(parts, "; ")
}

// SessionSettings is the persisted per-session settings row.
type SessionSettings struct {
	SessionID string             `gorm:"primaryKey;size:255"`
	Settings  ConversionSettings `gorm:"serializer:json;type:text"`
	CreatedAt time.Time          `gorm:"autoCreateTime"`
	UpdatedAt time.Time          `gorm:"autoUpdateTime"`
}
