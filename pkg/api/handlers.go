package api

import (
	"encoding/json"
	"fmt"
	"mime/multipart"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jdziat/docflow/pkg/core"
	"github.com/jdziat/docflow/pkg/security"
	"github.com/jdziat/docflow/pkg/service"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// jobView is the status payload returned for a job.
type jobView struct {
	ID            string              `json:"job_id"`
	Filename      string              `json:"filename"`
	Format        core.InputFormat    `json:"format"`
	Status        core.JobStatus      `json:"status"`
	Progress      int                 `json:"progress"`
	Message       string              `json:"message"`
	SessionID     string              `json:"session_id,omitempty"`
	SizeBytes     int64               `json:"size_bytes"`
	Confidence    *float64            `json:"confidence,omitempty"`
	ExportFormats []core.ExportFormat `json:"export_formats,omitempty"`
	PageCount     int                 `json:"page_count,omitempty"`
	Error         string              `json:"error,omitempty"`
	ErrorKind     core.FailureKind    `json:"error_kind,omitempty"`
	SubmittedAt   time.Time           `json:"submitted_at"`
	StartedAt     *time.Time          `json:"started_at,omitempty"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
	DurationMS    int64               `json:"duration_ms,omitempty"`
}

func viewOf(job *core.Job) jobView {
	v := jobView{
		ID:          job.ID,
		Filename:    job.Filename,
		Format:      job.Format,
		Status:      job.Status,
		Progress:    job.Progress,
		Message:     job.Message,
		SessionID:   job.SessionID,
		SizeBytes:   job.SizeBytes,
		Error:       job.Error,
		ErrorKind:   job.ErrorKind,
		SubmittedAt: job.SubmittedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		DurationMS:  job.DurationMS,
	}
	if job.Status == core.StatusCompleted && job.Result != nil {
		conf := job.Confidence
		v.Confidence = &conf
		v.ExportFormats = job.Result.ExportFormats()
		v.PageCount = job.Result.PageCount
	}
	return v
}

func viewsOf(jobs []*core.Job) []jobView {
	out := make([]jobView, len(jobs))
	for i, job := range jobs {
		out[i] = viewOf(job)
	}
	return out
}

func (s *Server) health(c *fiber.Ctx) error {
	return respondJSON(c, fiber.StatusOK, fiber.Map{
		"healthy": true,
		"queue":   s.svc.QueueStats(),
	})
}

func (s *Server) formats(c *fiber.Ctx) error {
	return respondJSON(c, fiber.StatusOK, fiber.Map{
		"extensions":      security.SupportedExtensions(),
		"max_upload_size": security.MaxUploadSize,
		"max_batch_files": security.MaxBatchFiles,
	})
}

// parseOverride reads the optional "settings" form field.
func parseOverride(c *fiber.Ctx) (*core.SettingsOverride, error) {
	raw := c.FormValue("settings")
	if raw == "" {
		return nil, nil
	}
	var o core.SettingsOverride
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid settings: %v", err))
	}
	return &o, nil
}

func (s *Server) convert(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "missing form file \"file\"")
	}
	override, err := parseOverride(c)
	if err != nil {
		return err
	}
	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	job, err := s.svc.Submit(c.UserContext(), service.Upload{
		Filename:  fh.Filename,
		Size:      fh.Size,
		Reader:    f,
		SessionID: sessionID(c),
		Override:  override,
	})
	if err != nil {
		return err
	}
	return respondJSON(c, fiber.StatusAccepted, viewOf(job))
}

type batchItem struct {
	Filename string         `json:"filename"`
	JobID    string         `json:"job_id,omitempty"`
	Status   core.JobStatus `json:"status,omitempty"`
	Error    string         `json:"error,omitempty"`
}

func (s *Server) convertBatch(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "expected multipart form")
	}
	files := form.File["files"]
	if len(files) > security.MaxBatchFiles {
		return fiber.NewError(fiber.StatusBadRequest,
			fmt.Sprintf("too many files: %d (max %d)", len(files), security.MaxBatchFiles))
	}
	override, err := parseOverride(c)
	if err != nil {
		return err
	}

	session := sessionID(c)
	uploads := make([]service.Upload, 0, len(files))
	opened := make([]multipart.File, 0, len(files))
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return fmt.Errorf("open upload %s: %w", fh.Filename, err)
		}
		opened = append(opened, f)
		uploads = append(uploads, service.Upload{
			Filename:  fh.Filename,
			Size:      fh.Size,
			Reader:    f,
			SessionID: session,
			Override:  override,
		})
	}

	results, err := s.svc.SubmitBatch(c.UserContext(), uploads)
	if err != nil {
		return err
	}
	items := make([]batchItem, len(results))
	accepted := 0
	for i, r := range results {
		items[i] = batchItem{Filename: r.Filename}
		if r.Err != nil {
			items[i].Error = r.Err.Error()
			continue
		}
		items[i].JobID = r.Job.ID
		items[i].Status = r.Job.Status
		accepted++
	}
	return respondJSON(c, fiber.StatusAccepted, fiber.Map{
		"accepted": accepted,
		"rejected": len(items) - accepted,
		"results":  items,
	})
}

func (s *Server) jobStatus(c *fiber.Ctx) error {
	job, err := s.svc.Status(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return respondJSON(c, fiber.StatusOK, viewOf(job))
}

func (s *Server) jobResult(c *fiber.Ctx) error {
	res, err := s.svc.Result(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return respondJSON(c, fiber.StatusOK, res)
}

func (s *Server) jobArtifacts(c *fiber.Ctx) error {
	list, err := s.svc.Artifacts(c.UserContext(), c.Params("id"), service.ArtifactKind(c.Params("kind")))
	if err != nil {
		return err
	}
	return respondJSON(c, fiber.StatusOK, list)
}

func (s *Server) jobFile(c *fiber.Ctx) error {
	path, err := s.svc.ArtifactPath(c.UserContext(), c.Params("id"), c.Params("*"))
	if err != nil {
		return err
	}
	return c.SendFile(path)
}

func (s *Server) cancelJob(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.svc.Cancel(c.UserContext(), id); err != nil {
		return err
	}
	job, err := s.svc.Status(c.UserContext(), id)
	if err != nil {
		return err
	}
	return respondJSON(c, fiber.StatusOK, viewOf(job))
}

func (s *Server) queueStats(c *fiber.Ctx) error {
	return respondJSON(c, fiber.StatusOK, s.svc.QueueStats())
}

func (s *Server) getSettings(c *fiber.Ctx) error {
	settings, err := s.svc.Settings(c.UserContext(), sessionID(c))
	if err != nil {
		return err
	}
	return respondJSON(c, fiber.StatusOK, settings)
}

func (s *Server) putSettings(c *fiber.Ctx) error {
	var settings core.ConversionSettings
	if err := c.BodyParser(&settings); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	}
	if err := core.Validator().Struct(settings); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status":  "error",
			"message": "invalid settings",
			"errors":  formatValidationErrors(err),
		})
	}
	if err := s.svc.SaveSettings(c.UserContext(), sessionID(c), settings); err != nil {
		return err
	}
	return respondJSON(c, fiber.StatusOK, settings)
}

func (s *Server) resetSettings(c *fiber.Ctx) error {
	if err := s.svc.ResetSettings(c.UserContext(), sessionID(c)); err != nil {
		return err
	}
	return respondJSON(c, fiber.StatusOK, core.DefaultSettings())
}

// historyFilter builds a filter from status, format, q, session, since,
// until, page and limit query parameters.
func historyFilter(c *fiber.Ctx) (core.HistoryFilter, int, error) {
	f := core.HistoryFilter{
		Status:    core.JobStatus(c.Query("status")),
		Format:    core.InputFormat(c.Query("format")),
		SessionID: c.Query("session"),
		Search:    c.Query("q"),
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, 0, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("unknown status %q", f.Status))
	}
	if f.Format != "" && !f.Format.Valid() {
		return f, 0, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("unknown format %q", f.Format))
	}
	var err error
	if f.Since, err = queryTime(c, "since"); err != nil {
		return f, 0, err
	}
	if f.Until, err = queryTime(c, "until"); err != nil {
		return f, 0, err
	}

	page := max(c.QueryInt("page", 1), 1)
	f.Limit = security.ClampPageSize(c.QueryInt("limit", 50), 50)
	f.Offset = (page - 1) * f.Limit
	return f, page, nil
}

func queryTime(c *fiber.Ctx, key string) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("invalid %s: expected RFC3339", key))
	}
	return t, nil
}

func (s *Server) listHistory(c *fiber.Ctx) error {
	filter, page, err := historyFilter(c)
	if err != nil {
		return err
	}
	jobs, total, err := s.svc.History(c.UserContext(), filter)
	if err != nil {
		return err
	}
	return respondJSON(c, fiber.StatusOK, fiber.Map{
		"items": viewsOf(jobs),
		"total": total,
		"page":  page,
		"limit": filter.Limit,
	})
}

func (s *Server) historyStats(c *fiber.Ctx) error {
	st, err := s.svc.HistoryStats(c.UserContext(), c.Query("session"))
	if err != nil {
		return err
	}
	return respondJSON(c, fiber.StatusOK, st)
}

func (s *Server) exportHistory(c *fiber.Ctx) error {
	filter, _, err := historyFilter(c)
	if err != nil {
		return err
	}
	data, err := s.svc.ExportHistory(c.UserContext(), filter)
	if err != nil {
		return err
	}
	name := "docflow-history-" + time.Now().UTC().Format("20060102-150405") + ".xlsx"
	c.Set(fiber.HeaderContentType, xlsxContentType)
	c.Set(fiber.HeaderContentDisposition, "attachment; filename="+strconv.Quote(name))
	return c.Send(data)
}

func (s *Server) getHistory(c *fiber.Ctx) error {
	job, err := s.svc.HistoryJob(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return respondJSON(c, fiber.StatusOK, job)
}

func (s *Server) deleteHistory(c *fiber.Ctx) error {
	if err := s.svc.DeleteHistory(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return respondJSON(c, fiber.StatusOK, fiber.Map{"deleted": c.Params("id")})
}

func (s *Server) timeline(c *fiber.Ctx) error {
	until, err := queryTime(c, "until")
	if err != nil {
		return err
	}
	if until.IsZero() {
		until = time.Now()
	}
	since, err := queryTime(c, "since")
	if err != nil {
		return err
	}
	if since.IsZero() {
		since = until.Add(-time.Hour)
	}
	points, err := s.svc.Timeline(c.UserContext(), c.Query("format"), since, until)
	if err != nil {
		return err
	}
	return respondJSON(c, fiber.StatusOK, points)
}
