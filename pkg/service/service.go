package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/docflow/pkg/cache"
	"github.com/jdziat/docflow/pkg/core"
	"github.com/jdziat/docflow/pkg/export"
	"github.com/jdziat/docflow/pkg/queue"
	"github.com/jdziat/docflow/pkg/security"
	"github.com/jdziat/docflow/pkg/stats"
)

// DefaultSession is used when a request carries no session id.
const DefaultSession = "default"

// sniffLen is how much of an upload is read before format detection.
const sniffLen = 512

var (
	// ErrUnknownArtifactKind is returned for artifact kinds other than
	// images, tables and chunks.
	ErrUnknownArtifactKind = errors.New("docflow: unknown artifact kind")

	// ErrNoFiles is returned for an empty batch.
	ErrNoFiles = errors.New("docflow: no files in batch")

	// ErrTooManyFiles is returned when a batch exceeds security.MaxBatchFiles.
	ErrTooManyFiles = errors.New("docflow: too many files in batch")
)

// ArtifactKind names a listable group of conversion artifacts.
type ArtifactKind string

const (
	ArtifactImages ArtifactKind = "images"
	ArtifactTables ArtifactKind = "tables"
	ArtifactChunks ArtifactKind = "chunks"
)

// Upload is one document handed to Submit.
type Upload struct {
	Filename  string
	Size      int64
	Reader    io.Reader
	SessionID string
	Override  *core.SettingsOverride
}

// BatchResult is the outcome of one file in a batch submission.
type BatchResult struct {
	Filename string
	Job      *core.Job
	Err      error
}

// ArtifactList holds the artifacts of one kind for a completed job.
type ArtifactList struct {
	Kind   ArtifactKind    `json:"kind"`
	Files  []core.Artifact `json:"files,omitempty"`
	Chunks []core.Chunk    `json:"chunks,omitempty"`
}

// Service stages uploads on disk and fronts the queue, history and settings.
type Service struct {
	queue     *queue.Queue
	history   core.HistoryStore
	settings  core.SettingsStore
	uploadDir string
	outputDir string
	mirror    *cache.Mirror
	stats     stats.Storage
	exporter  *export.Exporter
	logger    *slog.Logger
}

// New creates a service over a running queue and its stores.
func New(q *queue.Queue, history core.HistoryStore, settings core.SettingsStore, opts ...Option) *Service {
	s := &Service{
		queue:     q,
		history:   history,
		settings:  settings,
		uploadDir: filepath.Join(os.TempDir(), "docflow", "uploads"),
		outputDir: filepath.Join(os.TempDir(), "docflow", "outputs"),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt.apply(s)
	}
	if s.exporter == nil && history != nil {
		s.exporter = export.New(history, s.logger)
	}
	return s
}

// Submit stages an upload and enqueues it. The returned job is a snapshot
// taken right after submission.
func (s *Service) Submit(ctx context.Context, up Upload) (*core.Job, error) {
	name, err := security.ValidateFilename(up.Filename)
	if err != nil {
		return nil, core.InvalidSubmission(err)
	}
	if up.Size > security.MaxUploadSize {
		return nil, core.InvalidSubmission(core.ErrFileTooLarge)
	}
	session := up.SessionID
	if session == "" {
		session = DefaultSession
	}
	if err := security.ValidateSessionID(session); err != nil {
		return nil, core.InvalidSubmission(err)
	}
	if up.Reader == nil {
		return nil, core.InvalidSubmission(core.ErrEmptyFile)
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(up.Reader, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return nil, core.InvalidSubmission(core.ErrEmptyFile)
	}
	format, err := security.DetectFormat(name, head)
	if err != nil {
		return nil, core.InvalidSubmission(err)
	}

	settings, err := s.sessionSettings(ctx, session)
	if err != nil {
		return nil, err
	}
	settings = settings.Merge(up.Override)

	stageID := uuid.New().String()
	inDir := filepath.Join(s.uploadDir, stageID)
	outDir := filepath.Join(s.outputDir, stageID)
	cleanup := func() {
		_ = os.RemoveAll(inDir)
		_ = os.RemoveAll(outDir)
	}

	inputPath, size, err := s.stage(inDir, name, head, up.Reader)
	if err != nil {
		cleanup()
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		cleanup()
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	id, err := s.queue.Submit(ctx, core.Descriptor{
		Filename:  name,
		Format:    format,
		InputPath: inputPath,
		OutputDir: outDir,
		SizeBytes: size,
		SessionID: session,
		Settings:  settings,
	})
	if err != nil {
		cleanup()
		return nil, err
	}

	s.logger.Info("document submitted",
		"job_id", id,
		"filename", name,
		"format", format,
		"size_bytes", size,
		"session_id", session)

	return s.queue.Status(id)
}

// stage writes the upload to dir/name and returns its path and size.
func (s *Service) stage(dir, name string, head []byte, rest io.Reader) (string, int64, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("create upload file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(head); err != nil {
		return "", 0, fmt.Errorf("write upload: %w", err)
	}
	limit := int64(security.MaxUploadSize) + 1 - int64(len(head))
	copied, err := io.Copy(f, io.LimitReader(rest, limit))
	if err != nil {
		return "", 0, fmt.Errorf("write upload: %w", err)
	}
	size := int64(len(head)) + copied
	if err := security.ValidateUploadSize(size); err != nil {
		return "", 0, core.InvalidSubmission(err)
	}
	if err := f.Sync(); err != nil {
		return "", 0, fmt.Errorf("sync upload: %w", err)
	}
	return path, size, nil
}

// SubmitBatch submits each upload independently. A rejected file does not
// affect its siblings; only an empty or oversized batch is an error.
func (s *Service) SubmitBatch(ctx context.Context, uploads []Upload) ([]BatchResult, error) {
	if len(uploads) == 0 {
		return nil, core.InvalidSubmission(ErrNoFiles)
	}
	if len(uploads) > security.MaxBatchFiles {
		return nil, core.InvalidSubmission(fmt.Errorf("%w: %d > %d", ErrTooManyFiles, len(uploads), security.MaxBatchFiles))
	}

	results := make([]BatchResult, len(uploads))
	for i, up := range uploads {
		job, err := s.Submit(ctx, up)
		results[i] = BatchResult{Filename: up.Filename, Job: job, Err: err}
		if err != nil {
			s.logger.Warn("batch file rejected", "filename", up.Filename, "error", err)
		}
	}
	return results, nil
}

// Status returns the current record for a job. Ids the queue no longer
// holds are looked up in history and then in the mirror.
func (s *Service) Status(ctx context.Context, jobID string) (*core.Job, error) {
	job, err := s.queue.Status(jobID)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	// History holds the terminal record; the mirror may lag behind it when
	// an event was dropped.
	histErr := core.ErrNotFound
	if s.history != nil {
		job, err := s.history.Get(ctx, jobID)
		if err == nil {
			return job, nil
		}
		histErr = err
	}
	if s.mirror != nil {
		if job, err := s.mirror.Get(ctx, jobID); err == nil {
			return job, nil
		}
	}
	return nil, histErr
}

// Result returns the conversion result of a completed job.
func (s *Service) Result(ctx context.Context, jobID string) (*core.ConversionResult, error) {
	res, err := s.queue.Result(jobID)
	if !errors.Is(err, core.ErrNotFound) || s.history == nil {
		return res, err
	}
	job, err := s.history.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return resultOf(job)
}

// terminal job records only; anything else is not ready
func resultOf(job *core.Job) (*core.ConversionResult, error) {
	switch job.Status {
	case core.StatusCompleted:
		return job.Result.Clone(), nil
	case core.StatusFailed:
		msg := job.Error
		if msg == "" {
			msg = string(job.ErrorKind)
		}
		return nil, core.Failed(job.ErrorKind, errors.New(msg))
	}
	return nil, core.ErrNotReady
}

// Cancel cancels a pending or processing job.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	err := s.queue.Cancel(ctx, jobID)
	if !errors.Is(err, core.ErrNotFound) || s.history == nil {
		return err
	}
	if _, herr := s.history.Get(ctx, jobID); herr == nil {
		return fmt.Errorf("%w: job %s already finished", core.ErrInvalidTransition, jobID)
	}
	return err
}

// completedJob returns the record of a job whose artifacts may be read.
func (s *Service) completedJob(ctx context.Context, jobID string) (*core.Job, error) {
	job, err := s.queue.Status(jobID)
	if errors.Is(err, core.ErrNotFound) && s.history != nil {
		job, err = s.history.Get(ctx, jobID)
	}
	if err != nil {
		return nil, err
	}
	if _, err := resultOf(job); err != nil {
		return nil, err
	}
	if job.Result == nil {
		return nil, core.ErrNotReady
	}
	return job, nil
}

// Artifacts lists the images, tables or chunks of a completed job.
func (s *Service) Artifacts(ctx context.Context, jobID string, kind ArtifactKind) (*ArtifactList, error) {
	switch kind {
	case ArtifactImages, ArtifactTables, ArtifactChunks:
	default:
		return nil, core.InvalidSubmission(fmt.Errorf("%w: %q", ErrUnknownArtifactKind, kind))
	}
	job, err := s.completedJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	list := &ArtifactList{Kind: kind}
	switch kind {
	case ArtifactImages:
		list.Files = job.Result.Images
	case ArtifactTables:
		list.Files = job.Result.Tables
	case ArtifactChunks:
		list.Chunks = job.Result.Chunks
	}
	return list, nil
}

// ArtifactPath resolves name to a file inside a completed job's output dir.
func (s *Service) ArtifactPath(ctx context.Context, jobID, name string) (string, error) {
	job, err := s.completedJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.OutputDir == "" {
		return "", core.ErrArtifactNotFound
	}
	path, err := security.SafeJoin(job.OutputDir, name)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", core.ErrArtifactNotFound
	}
	return path, nil
}

// QueueStats returns a snapshot of queue depth and counters.
func (s *Service) QueueStats() queue.Stats {
	return s.queue.Stats()
}

func (s *Service) sessionSettings(ctx context.Context, session string) (core.ConversionSettings, error) {
	if s.settings == nil {
		return core.DefaultSettings(), nil
	}
	settings, err := s.settings.GetSettings(ctx, session)
	if err != nil {
		return core.ConversionSettings{}, fmt.Errorf("load settings: %w", err)
	}
	return settings, nil
}

// Settings returns the stored settings for a session, or the defaults.
func (s *Service) Settings(ctx context.Context, session string) (core.ConversionSettings, error) {
	if session == "" {
		session = DefaultSession
	}
	if err := security.ValidateSessionID(session); err != nil {
		return core.ConversionSettings{}, core.InvalidSubmission(err)
	}
	return s.sessionSettings(ctx, session)
}

// SaveSettings validates and stores settings for a session.
func (s *Service) SaveSettings(ctx context.Context, session string, settings core.ConversionSettings) error {
	if session == "" {
		session = DefaultSession
	}
	if err := security.ValidateSessionID(session); err != nil {
		return core.InvalidSubmission(err)
	}
	if err := settings.Validate(); err != nil {
		return core.InvalidSubmission(err)
	}
	if s.settings == nil {
		return errors.New("settings store not configured")
	}
	return s.settings.SaveSettings(ctx, session, settings)
}

// ResetSettings removes stored settings so the session uses the defaults.
func (s *Service) ResetSettings(ctx context.Context, session string) error {
	if session == "" {
		session = DefaultSession
	}
	if err := security.ValidateSessionID(session); err != nil {
		return core.InvalidSubmission(err)
	}
	if s.settings == nil {
		return nil
	}
	return s.settings.DeleteSettings(ctx, session)
}

// History lists terminal jobs matching filter.
func (s *Service) History(ctx context.Context, filter core.HistoryFilter) ([]*core.Job, int64, error) {
	return s.history.List(ctx, filter)
}

// HistoryStats summarises history, optionally for one session.
func (s *Service) HistoryStats(ctx context.Context, session string) (*core.HistoryStats, error) {
	return s.history.Stats(ctx, session)
}

// HistoryJob returns one terminal job from history.
func (s *Service) HistoryJob(ctx context.Context, jobID string) (*core.Job, error) {
	return s.history.Get(ctx, jobID)
}

// DeleteHistory removes a job from history together with its upload and
// output directories and any in-memory record.
func (s *Service) DeleteHistory(ctx context.Context, jobID string) error {
	job, err := s.history.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if err := s.history.Delete(ctx, jobID); err != nil {
		return err
	}
	s.removeFiles(job)
	s.queue.Evict(jobID)
	if s.mirror != nil {
		if err := s.mirror.Delete(ctx, jobID); err != nil {
			s.logger.Warn("failed to delete mirrored status", "job_id", jobID, "error", err)
		}
	}
	s.logger.Info("history entry deleted", "job_id", jobID)
	return nil
}

// removeFiles deletes the staged input and output of a job. Paths outside
// the configured roots are left alone.
func (s *Service) removeFiles(job *core.Job) {
	if job.InputPath != "" {
		s.removeUnder(s.uploadDir, filepath.Dir(job.InputPath))
	}
	if job.OutputDir != "" {
		s.removeUnder(s.outputDir, job.OutputDir)
	}
}

func (s *Service) removeUnder(root, dir string) {
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		s.logger.Warn("refusing to remove directory outside root", "dir", dir, "root", root)
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		s.logger.Warn("failed to remove job files", "dir", dir, "error", err)
	}
}

// ExportHistory renders history matching filter as an XLSX workbook.
func (s *Service) ExportHistory(ctx context.Context, filter core.HistoryFilter) ([]byte, error) {
	if s.exporter == nil {
		return nil, errors.New("history export not configured")
	}
	return s.exporter.HistoryXLSX(ctx, filter)
}

// Timeline returns per-minute conversion counters. It is empty when stats
// collection is disabled.
func (s *Service) Timeline(ctx context.Context, format string, since, until time.Time) ([]stats.ConversionStat, error) {
	if s.stats == nil {
		return []stats.ConversionStat{}, nil
	}
	if format == "" {
		format = stats.AllFormats
	}
	return s.stats.History(ctx, format, since, until)
}

// SweepArtifacts removes staged upload and output directories last modified
// before the cutoff. Directories belonging to pending or processing jobs are
// kept. It returns the number of directories removed.
func (s *Service) SweepArtifacts(ctx context.Context, before time.Time) (int, error) {
	active := make(map[string]struct{})
	for _, job := range s.queue.List() {
		if job.Status.IsTerminal() {
			continue
		}
		if job.InputPath != "" {
			active[filepath.Dir(job.InputPath)] = struct{}{}
		}
		if job.OutputDir != "" {
			active[job.OutputDir] = struct{}{}
		}
	}

	removed := 0
	for _, root := range []string{s.uploadDir, s.outputDir} {
		entries, err := os.ReadDir(root)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("read %s: %w", root, err)
		}
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return removed, err
			}
			if !entry.IsDir() {
				continue
			}
			dir := filepath.Join(root, entry.Name())
			if _, ok := active[dir]; ok {
				continue
			}
			info, err := entry.Info()
			if err != nil || !info.ModTime().Before(before) {
				continue
			}
			if err := os.RemoveAll(dir); err != nil {
				s.logger.Warn("failed to remove stale directory", "dir", dir, "error", err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("swept stale artifacts", "removed", removed)
	}
	return removed, nil
}
