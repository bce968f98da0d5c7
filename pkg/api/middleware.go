package api

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/jdziat/docflow/pkg/service"
)

// SessionHeader carries the settings session of a request.
const SessionHeader = "X-Session-ID"

// requestLogger logs one line per request.
func requestLogger(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		requestID := uuid.NewString()
		c.Locals("requestid", requestID)

		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = statusFor(err)
		}
		attrs := []any{
			"request_id", requestID,
			"method", c.Method(),
			"uri", c.OriginalURL(),
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.IP(),
		}
		switch {
		case status >= 500:
			logger.Error("request failed", attrs...)
		case status >= 400:
			logger.Warn("request rejected", attrs...)
		default:
			logger.Debug("request completed", attrs...)
		}
		return err
	}
}

// rateLimit rejects requests once the token bucket is empty.
func rateLimit(l *rate.Limiter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !l.Allow() {
			return respondError(c, fiber.StatusTooManyRequests, "rate limit exceeded")
		}
		return c.Next()
	}
}

// sessionID returns the request's session, or the default session.
func sessionID(c *fiber.Ctx) string {
	if id := c.Get(SessionHeader); id != "" {
		return id
	}
	return service.DefaultSession
}
