package service

import (
	"log/slog"

	"github.com/jdziat/docflow/pkg/cache"
	"github.com/jdziat/docflow/pkg/export"
	"github.com/jdziat/docflow/pkg/stats"
)

// Option configures a Service.
type Option interface {
	apply(*Service)
}

type optionFunc func(*Service)

func (f optionFunc) apply(s *Service) { f(s) }

// WithUploadDir sets the root directory uploads are staged under.
func WithUploadDir(dir string) Option {
	return optionFunc(func(s *Service) {
		if dir != "" {
			s.uploadDir = dir
		}
	})
}

// WithOutputDir sets the root directory engines write artifacts under.
func WithOutputDir(dir string) Option {
	return optionFunc(func(s *Service) {
		if dir != "" {
			s.outputDir = dir
		}
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(s *Service) {
		if l != nil {
			s.logger = l
		}
	})
}

// WithMirror enables status lookups in the Redis mirror for jobs this
// process no longer holds.
func WithMirror(m *cache.Mirror) Option {
	return optionFunc(func(s *Service) {
		s.mirror = m
	})
}

// WithStats enables the conversion timeline.
func WithStats(st stats.Storage) Option {
	return optionFunc(func(s *Service) {
		s.stats = st
	})
}

// WithExporter replaces the default history exporter.
func WithExporter(e *export.Exporter) Option {
	return optionFunc(func(s *Service) {
		s.exporter = e
	})
}
