package api

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/jdziat/docflow/pkg/core"
)

// respondError sends a JSON error envelope.
func respondError(c *fiber.Ctx, statusCode int, message string) error {
	return c.Status(statusCode).JSON(fiber.Map{
		"status":  "error",
		"message": message,
	})
}

// respondJSON sends a JSON success envelope.
func respondJSON(c *fiber.Ctx, statusCode int, data any) error {
	return c.Status(statusCode).JSON(fiber.Map{
		"status": "success",
		"data":   data,
	})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, core.ErrFileTooLarge):
		return fiber.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrInvalidSubmission),
		errors.Is(err, core.ErrInvalidSettings),
		errors.Is(err, core.ErrInvalidSessionID),
		errors.Is(err, core.ErrInvalidArtifactDir):
		return fiber.StatusBadRequest
	case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrArtifactNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, core.ErrNotReady), errors.Is(err, core.ErrInvalidTransition):
		return fiber.StatusConflict
	case errors.Is(err, core.ErrConversionFailed):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, core.ErrQueueClosed):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// formatValidationErrors lists validator failures one per field.
func formatValidationErrors(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("Field '%s' failed on the '%s' tag", fe.Field(), fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s (value: %s)", msg, fe.Param())
		}
		out = append(out, msg)
	}
	return out
}
