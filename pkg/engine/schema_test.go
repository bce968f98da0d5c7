package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateResult_Valid(t *testing.T) {
	payload := `{
		"exports": {"markdown": {"name": "doc.md", "path": "doc.md"}},
		"images": [{"name": "fig-1.png", "path": "images/fig-1.png", "page": 1}],
		"chunks": [{"index": 0, "text": "Hello", "headings": ["Intro"]}],
		"confidence": 0.93,
		"page_count": 4
	}`
	require.NoError(t, ValidateResult([]byte(payload)))
}

func TestValidateResult_Invalid(t *testing.T) {
	tests := map[string]string{
		"not json":            `{`,
		"missing exports":     `{"confidence": 0.5}`,
		"empty exports":       `{"exports": {}, "confidence": 0.5}`,
		"unknown format":      `{"exports": {"pdf": {"name": "a", "path": "a"}}, "confidence": 0.5}`,
		"confidence too high": `{"exports": {"text": {"name": "a", "path": "a"}}, "confidence": 1.5}`,
		"artifact no path":    `{"exports": {"text": {"name": "a"}}, "confidence": 0.5}`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, ValidateResult([]byte(payload)))
		})
	}
}
