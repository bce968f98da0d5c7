// Package api exposes the docflow service over HTTP using Fiber.
package api

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/time/rate"

	"github.com/jdziat/docflow/pkg/security"
	"github.com/jdziat/docflow/pkg/service"
)

// Default upload rate limits.
const (
	DefaultUploadRate  = 10
	DefaultUploadBurst = 20
)

// Option configures a Server.
type Option interface {
	apply(*Server)
}

type optionFunc func(*Server)

func (f optionFunc) apply(s *Server) { f(s) }

// WithLogger sets the logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(s *Server) {
		if l != nil {
			s.logger = l
		}
	})
}

// WithUploadRate limits upload requests to r per second with the given burst.
// rate.Inf disables the limit.
func WithUploadRate(r rate.Limit, burst int) Option {
	return optionFunc(func(s *Server) {
		s.limiter = rate.NewLimiter(r, burst)
	})
}

// WithAllowOrigins sets the CORS allowed origins.
func WithAllowOrigins(origins string) Option {
	return optionFunc(func(s *Server) {
		s.allowOrigins = origins
	})
}

// WithBodyLimit sets the maximum request body size in bytes.
func WithBodyLimit(n int) Option {
	return optionFunc(func(s *Server) {
		if n > 0 {
			s.bodyLimit = n
		}
	})
}

// Server is the HTTP front end.
type Server struct {
	svc          *service.Service
	app          *fiber.App
	limiter      *rate.Limiter
	logger       *slog.Logger
	allowOrigins string
	bodyLimit    int
}

// New creates a server with all routes registered.
func New(svc *service.Service, opts ...Option) *Server {
	s := &Server{
		svc:          svc,
		limiter:      rate.NewLimiter(DefaultUploadRate, DefaultUploadBurst),
		logger:       slog.Default(),
		allowOrigins: "*",
		// Room for a small batch of maximum-size documents.
		bodyLimit: 4 * security.MaxUploadSize,
	}
	for _, opt := range opts {
		opt.apply(s)
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "docflow",
		BodyLimit:             s.bodyLimit,
		DisableStartupMessage: true,
		Immutable:             true,
		ErrorHandler:          s.handleError,
	})
	s.app.Use(recover.New())
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: s.allowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, " + SessionHeader,
	}))
	s.app.Use(requestLogger(s.logger))
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/healthz", s.health)

	api := s.app.Group("/api")

	upload := rateLimit(s.limiter)
	api.Post("/convert", upload, s.convert)
	api.Post("/convert/batch", upload, s.convertBatch)

	jobs := api.Group("/jobs/:id")
	jobs.Get("", s.jobStatus)
	jobs.Get("/result", s.jobResult)
	jobs.Get("/artifacts/:kind", s.jobArtifacts)
	jobs.Get("/files/*", s.jobFile)
	jobs.Delete("", s.cancelJob)

	api.Get("/queue", s.queueStats)
	api.Get("/formats", s.formats)

	api.Get("/settings", s.getSettings)
	api.Put("/settings", s.putSettings)
	api.Delete("/settings", s.resetSettings)

	api.Get("/history", s.listHistory)
	api.Get("/history/stats", s.historyStats)
	api.Get("/history/export.xlsx", s.exportHistory)
	api.Get("/history/:id", s.getHistory)
	api.Delete("/history/:id", s.deleteHistory)

	api.Get("/stats/timeline", s.timeline)
}

// App returns the underlying Fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves HTTP on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	s.logger.Info("http server listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	if code >= fiber.StatusInternalServerError && code != fiber.StatusServiceUnavailable {
		s.logger.Error("request error", "path", c.Path(), "error", err)
		return respondError(c, code, "internal server error")
	}
	return respondError(c, code, err.Error())
}
