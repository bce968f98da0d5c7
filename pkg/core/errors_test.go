package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversionError_MatchesConversionFailed(t *testing.T) {
	for _, kind := range []FailureKind{FailureConversion, FailureTimeout, FailureInternal, FailureCancelled} {
		err := Failed(kind, errors.New("boom"))
		assert.ErrorIs(t, err, ErrConversionFailed, string(kind))
	}
}

func TestConversionError_Unwrap(t *testing.T) {
	cause := errors.New("corrupt pdf")
	err := fmt.Errorf("wrapped: %w", Failed(FailureConversion, cause))

	assert.ErrorIs(t, err, cause)

	var ce *ConversionError
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, FailureConversion, ce.Kind)
	assert.Equal(t, "conversion_failed: corrupt pdf", ce.Error())
}

func TestConversionError_NilCause(t *testing.T) {
	assert.Equal(t, "cancelled", Failed(FailureCancelled, nil).Error())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, FailureTimeout, KindOf(Failed(FailureTimeout, nil)))
	assert.Equal(t, FailureConversion, KindOf(errors.New("plain")))
}

func TestInvalidSubmission_WrapsBoth(t *testing.T) {
	err := InvalidSubmission(ErrUnsupportedFormat)
	assert.ErrorIs(t, err, ErrInvalidSubmission)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
