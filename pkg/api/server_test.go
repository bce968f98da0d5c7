package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/docflow/pkg/core"
	"github.com/jdziat/docflow/pkg/engine"
	"github.com/jdziat/docflow/pkg/queue"
	"github.com/jdziat/docflow/pkg/security"
	"github.com/jdziat/docflow/pkg/service"
	"github.com/jdziat/docflow/pkg/storage"
)

const pdfBody = "%PDF-1.7\n1 0 obj\n<< /Type /Catalog >>\nendobj\n%%EOF\n"

type holdEngine struct {
	mu    sync.Mutex
	holds map[string]chan struct{}
}

func (h *holdEngine) hold(name string) chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan struct{})
	h.holds[name] = ch
	return ch
}

func (h *holdEngine) Convert(ctx context.Context, in engine.Input) (*core.ConversionResult, error) {
	h.mu.Lock()
	hold := h.holds[in.Filename]
	h.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if strings.HasPrefix(in.Filename, "broken") {
		return nil, errors.New("document is encrypted")
	}
	if err := os.MkdirAll(filepath.Join(in.OutputDir, "images"), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(in.OutputDir, "images", "fig-1.png"), []byte("png"), 0o644); err != nil {
		return nil, err
	}
	return &core.ConversionResult{
		Exports: map[core.ExportFormat]core.Artifact{
			core.ExportMarkdown: {Name: "document.md", Path: "document.md"},
		},
		Images:     []core.Artifact{{Name: "fig-1.png", Path: "images/fig-1.png"}},
		Confidence: 0.75,
		PageCount:  2,
	}, nil
}

type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Errors  []string        `json:"errors"`
}

type testServer struct {
	srv    *Server
	engine *holdEngine
	store  *storage.GormStorage
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	store, err := storage.Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	eng := &holdEngine{holds: make(map[string]chan struct{})}
	q := queue.New(eng, store, queue.WithLogger(quietLogger()), queue.WithProgressInterval(0))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = q.Close(ctx)
	})

	root := t.TempDir()
	svc := service.New(q, store, store,
		service.WithUploadDir(filepath.Join(root, "uploads")),
		service.WithOutputDir(filepath.Join(root, "outputs")),
		service.WithLogger(quietLogger()))

	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return &testServer{srv: New(svc, opts...), engine: eng, store: store}
}

func (ts *testServer) do(t *testing.T, req *http.Request) (*http.Response, envelope) {
	t.Helper()
	resp, err := ts.srv.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(body, &env), string(body))
	} else {
		env.Data = body
	}
	return resp, env
}

func (ts *testServer) get(t *testing.T, path string) (*http.Response, envelope) {
	t.Helper()
	return ts.do(t, httptest.NewRequest(http.MethodGet, path, nil))
}

type part struct {
	field, filename, body string
}

func multipartRequest(t *testing.T, path string, parts []part, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range parts {
		fw, err := w.CreateFormFile(p.field, p.filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(p.body))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func (ts *testServer) convert(t *testing.T, filename string) string {
	t.Helper()
	resp, env := ts.do(t, multipartRequest(t, "/api/convert", []part{{"file", filename, pdfBody}}, nil))
	require.Equal(t, http.StatusAccepted, resp.StatusCode, env.Message)
	var view jobView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	return view.ID
}

func (ts *testServer) waitPersisted(t *testing.T, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, err := ts.store.Get(context.Background(), id)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, env := ts.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", env.Status)
}

func TestFormats(t *testing.T) {
	ts := newTestServer(t)
	resp, env := ts.get(t, "/api/formats")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Extensions    []string `json:"extensions"`
		MaxUploadSize int64    `json:"max_upload_size"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Contains(t, body.Extensions, ".pdf")
	assert.Contains(t, body.Extensions, ".docx")
	assert.IsNonDecreasing(t, body.Extensions)
	assert.Equal(t, int64(security.MaxUploadSize), body.MaxUploadSize)
}

func TestConvert_EndToEnd(t *testing.T) {
	ts := newTestServer(t)
	id := ts.convert(t, "report.pdf")
	ts.waitPersisted(t, id)

	resp, env := ts.get(t, "/api/jobs/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view jobView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, core.StatusCompleted, view.Status)
	assert.Equal(t, 100, view.Progress)
	require.NotNil(t, view.Confidence)
	assert.Equal(t, 0.75, *view.Confidence)
	assert.Equal(t, []core.ExportFormat{core.ExportMarkdown}, view.ExportFormats)

	resp, env = ts.get(t, "/api/jobs/"+id+"/result")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res core.ConversionResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 2, res.PageCount)

	resp, env = ts.get(t, "/api/jobs/"+id+"/artifacts/images")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list service.ArtifactList
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Files, 1)

	resp, env = ts.get(t, "/api/jobs/"+id+"/files/images/fig-1.png")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "png", string(env.Data))

	resp, _ = ts.get(t, "/api/jobs/"+id+"/files/missing.png")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.get(t, "/api/jobs/"+id+"/artifacts/audio")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConvert_Rejections(t *testing.T) {
	ts := newTestServer(t)

	resp, env := ts.do(t, multipartRequest(t, "/api/convert", nil, map[string]string{"note": "x"}))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "error", env.Status)

	resp, _ = ts.do(t, multipartRequest(t, "/api/convert", []part{{"file", "tool.exe", "MZ\x90"}}, nil))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, multipartRequest(t, "/api/convert", []part{{"file", "a.pdf", pdfBody}},
		map[string]string{"settings": "{not json"}))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, multipartRequest(t, "/api/convert", []part{{"file", "a.pdf", pdfBody}},
		map[string]string{"settings": `{"export_formats":["rtf"]}`}))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConvert_FailedJobResult(t *testing.T) {
	ts := newTestServer(t)
	id := ts.convert(t, "broken.pdf")
	ts.waitPersisted(t, id)

	resp, env := ts.get(t, "/api/jobs/"+id+"/result")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, env.Message, "document is encrypted")
}

func TestJobs_NotFoundAndNotReady(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.get(t, "/api/jobs/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	release := ts.engine.hold("slow.pdf")
	defer close(release)
	id := ts.convert(t, "slow.pdf")

	resp, _ = ts.get(t, "/api/jobs/"+id+"/result")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCancelJob(t *testing.T) {
	ts := newTestServer(t)
	release := ts.engine.hold("slow.pdf")
	defer close(release)
	id := ts.convert(t, "slow.pdf")

	resp, env := ts.do(t, httptest.NewRequest(http.MethodDelete, "/api/jobs/"+id, nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view jobView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, core.StatusFailed, view.Status)
	assert.Equal(t, core.FailureCancelled, view.ErrorKind)

	resp, _ = ts.do(t, httptest.NewRequest(http.MethodDelete, "/api/jobs/"+id, nil))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestConvertBatch(t *testing.T) {
	ts := newTestServer(t)

	req := multipartRequest(t, "/api/convert/batch", []part{
		{"files", "one.pdf", pdfBody},
		{"files", "bad.exe", "MZ"},
	}, nil)
	resp, env := ts.do(t, req)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out struct {
		Accepted int         `json:"accepted"`
		Rejected int         `json:"rejected"`
		Results  []batchItem `json:"results"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, 1, out.Accepted)
	assert.Equal(t, 1, out.Rejected)
	assert.NotEmpty(t, out.Results[0].JobID)
	assert.NotEmpty(t, out.Results[1].Error)

	resp, _ = ts.do(t, multipartRequest(t, "/api/convert/batch", nil, map[string]string{"x": "y"}))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadRateLimit(t *testing.T) {
	ts := newTestServer(t, WithUploadRate(0, 1))

	ts.convert(t, "first.pdf")
	resp, env := ts.do(t, multipartRequest(t, "/api/convert", []part{{"file", "second.pdf", pdfBody}}, nil))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate limit exceeded", env.Message)

	resp, _ = ts.get(t, "/api/queue")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func settingsRequest(t *testing.T, method, session string, body any) *http.Request {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, "/api/settings", r)
	req.Header.Set("Content-Type", "application/json")
	if session != "" {
		req.Header.Set(SessionHeader, session)
	}
	return req
}

func TestSettings(t *testing.T) {
	ts := newTestServer(t)

	resp, env := ts.do(t, settingsRequest(t, http.MethodGet, "", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got core.ConversionSettings
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, core.DefaultSettings(), got)

	bad := core.DefaultSettings()
	bad.TableMode = "slow"
	resp, env = ts.do(t, settingsRequest(t, http.MethodPut, "team-a", bad))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Len(t, env.Errors, 1)
	assert.Contains(t, env.Errors[0], "TableMode")

	custom := core.DefaultSettings()
	custom.ChunkingEnabled = true
	resp, _ = ts.do(t, settingsRequest(t, http.MethodPut, "team-a", custom))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, env = ts.do(t, settingsRequest(t, http.MethodGet, "team-a", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.True(t, got.ChunkingEnabled)

	resp, env = ts.do(t, settingsRequest(t, http.MethodGet, "", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.False(t, got.ChunkingEnabled)

	resp, _ = ts.do(t, settingsRequest(t, http.MethodDelete, "team-a", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, env = ts.do(t, settingsRequest(t, http.MethodGet, "team-a", nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.False(t, got.ChunkingEnabled)

	resp, _ = ts.do(t, settingsRequest(t, http.MethodGet, "bad session!", nil))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistory(t *testing.T) {
	ts := newTestServer(t)
	id := ts.convert(t, "report.pdf")
	ts.waitPersisted(t, id)

	resp, env := ts.get(t, "/api/history?status=completed&q=report")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page struct {
		Items []jobView `json:"items"`
		Total int64     `json:"total"`
		Page  int       `json:"page"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, int64(1), page.Total)
	assert.Equal(t, 1, page.Page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, id, page.Items[0].ID)

	resp, env = ts.get(t, "/api/history?status=failed")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, int64(0), page.Total)

	resp, _ = ts.get(t, "/api/history?status=bogus")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = ts.get(t, "/api/history?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, env = ts.get(t, "/api/history/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st core.HistoryStats
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, int64(1), st.Completed)

	resp, env = ts.get(t, "/api/history/export.xlsx")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
	assert.True(t, bytes.HasPrefix(env.Data, []byte("PK")))

	resp, _ = ts.get(t, "/api/history/"+id)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.do(t, httptest.NewRequest(http.MethodDelete, "/api/history/"+id, nil))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.get(t, "/api/history/"+id)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTimeline(t *testing.T) {
	ts := newTestServer(t)
	resp, env := ts.get(t, "/api/stats/timeline?format=pdf")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(env.Data))

	resp, _ = ts.get(t, "/api/stats/timeline?since=nope")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.InvalidSubmission(core.ErrInvalidFilename), http.StatusBadRequest},
		{core.InvalidSubmission(core.ErrFileTooLarge), http.StatusRequestEntityTooLarge},
		{core.ErrNotFound, http.StatusNotFound},
		{core.ErrArtifactNotFound, http.StatusNotFound},
		{core.ErrNotReady, http.StatusConflict},
		{core.ErrInvalidTransition, http.StatusConflict},
		{core.Failed(core.FailureTimeout, errors.New("slow")), http.StatusUnprocessableEntity},
		{core.ErrQueueClosed, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
