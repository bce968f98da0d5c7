package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jdziat/docflow/pkg/core"
	"github.com/jdziat/docflow/pkg/jobctx"
	"github.com/jdziat/docflow/pkg/security"
)

// bridgeLine is one JSON line written by the conversion bridge on stdout.
type bridgeLine struct {
	Event    string          `json:"event"`
	Progress int             `json:"progress,omitempty"`
	Message  string          `json:"message,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// CommandEngine runs each conversion in a separate OS process.
//
// The request (an Input encoded as JSON) is written to the process stdin.
// The process answers with JSON lines on stdout:
//
//	{"event":"progress","progress":40,"message":"Running OCR"}
//	{"event":"result","result":{...}}
//	{"event":"error","message":"not a PDF"}
//
// Cancelling ctx kills the whole process group, so timeouts and
// cancellation actually stop the conversion work.
type CommandEngine struct {
	command   string
	args      []string
	env       []string
	dir       string
	waitDelay time.Duration
	maxStderr int
	maxLine   int
	logger    *slog.Logger
}

// CommandOption configures a CommandEngine.
type CommandOption interface {
	applyCommand(*CommandEngine)
}

type commandOptionFunc func(*CommandEngine)

func (f commandOptionFunc) applyCommand(e *CommandEngine) { f(e) }

// WithArgs sets the arguments passed to the command.
func WithArgs(args ...string) CommandOption {
	return commandOptionFunc(func(e *CommandEngine) {
		e.args = args
	})
}

// WithEnv appends environment variables (KEY=VALUE) for the process.
func WithEnv(env ...string) CommandOption {
	return commandOptionFunc(func(e *CommandEngine) {
		e.env = append(e.env, env...)
	})
}

// WithDir sets the working directory of the process.
func WithDir(dir string) CommandOption {
	return commandOptionFunc(func(e *CommandEngine) {
		e.dir = dir
	})
}

// WithWaitDelay bounds how long to wait for I/O after the process is killed.
func WithWaitDelay(d time.Duration) CommandOption {
	return commandOptionFunc(func(e *CommandEngine) {
		e.waitDelay = d
	})
}

// WithLogger sets the logger used for bridge diagnostics.
func WithLogger(l *slog.Logger) CommandOption {
	return commandOptionFunc(func(e *CommandEngine) {
		if l != nil {
			e.logger = l
		}
	})
}

// NewCommandEngine creates an engine that runs command for every conversion.
func NewCommandEngine(command string, opts ...CommandOption) *CommandEngine {
	e := &CommandEngine{
		command:   command,
		waitDelay: 5 * time.Second,
		maxStderr: 8 << 10,
		maxLine:   64 << 20,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt.applyCommand(e)
	}
	return e
}

// Convert runs the bridge process for one document.
func (e *CommandEngine) Convert(ctx context.Context, in Input) (*core.ConversionResult, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.command, e.args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Dir = e.dir
	if len(e.env) > 0 {
		cmd.Env = append(cmd.Environ(), e.env...)
	}
	cmd.WaitDelay = e.waitDelay
	configureProcess(cmd)

	stderr := &tailBuffer{max: e.maxStderr}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, core.Failed(core.FailureConversion, fmt.Errorf("start engine: %w", err))
	}

	var (
		rawResult json.RawMessage
		engineErr string
	)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64<<10), e.maxLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg bridgeLine
		if err := json.Unmarshal(line, &msg); err != nil {
			e.logger.Debug("ignoring engine output", "job_id", in.JobID, "line", truncate(string(line), 200))
			continue
		}
		switch msg.Event {
		case "progress":
			jobctx.ReportProgress(ctx, msg.Progress, msg.Message)
		case "result":
			rawResult = append(json.RawMessage(nil), msg.Result...)
		case "error":
			engineErr = msg.Message
		}
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		// Keep the pipe drained so the process can exit.
		_, _ = io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if engineErr != "" {
		return nil, core.Failed(core.FailureConversion, errors.New(engineErr))
	}
	if waitErr != nil {
		return nil, core.Failed(core.FailureConversion, withStderr(fmt.Errorf("engine exited: %w", waitErr), stderr))
	}
	if scanErr != nil {
		return nil, core.Failed(core.FailureConversion, fmt.Errorf("read engine output: %w", scanErr))
	}
	if rawResult == nil {
		return nil, core.Failed(core.FailureConversion, withStderr(errors.New("engine produced no result"), stderr))
	}
	return decodeResult(rawResult, in.OutputDir)
}

// decodeResult validates the payload and normalises artifact paths so they
// are relative to outputDir.
func decodeResult(raw json.RawMessage, outputDir string) (*core.ConversionResult, error) {
	if err := ValidateResult(raw); err != nil {
		return nil, core.Failed(core.FailureConversion, err)
	}
	var res core.ConversionResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, core.Failed(core.FailureConversion, fmt.Errorf("decode result: %w", err))
	}

	fix := func(a *core.Artifact) error {
		rel, err := relativeArtifact(outputDir, a.Path)
		if err != nil {
			return fmt.Errorf("artifact %q: %w", a.Name, err)
		}
		a.Path = rel
		return nil
	}
	for f, a := range res.Exports {
		if err := fix(&a); err != nil {
			return nil, core.Failed(core.FailureConversion, err)
		}
		res.Exports[f] = a
	}
	for i := range res.Images {
		if err := fix(&res.Images[i]); err != nil {
			return nil, core.Failed(core.FailureConversion, err)
		}
	}
	for i := range res.Tables {
		if err := fix(&res.Tables[i]); err != nil {
			return nil, core.Failed(core.FailureConversion, err)
		}
	}
	return &res, nil
}

func relativeArtifact(outputDir, p string) (string, error) {
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(outputDir, p)
		if err != nil {
			return "", core.ErrInvalidArtifactDir
		}
		p = rel
	}
	if _, err := security.SafeJoin(outputDir, p); err != nil {
		return "", err
	}
	return filepath.ToSlash(filepath.Clean(p)), nil
}

func withStderr(err error, stderr *tailBuffer) error {
	tail := strings.TrimSpace(stderr.String())
	if tail == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, tail)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
