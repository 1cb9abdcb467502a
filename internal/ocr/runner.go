package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Runner executes an external tool (tesseract, an image converter, the
// tier-3 recognizer). Tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ToolError is a tool that started but exited non-zero. Stderr keeps the
// tail of the tool's output, where the reason usually is.
type ToolError struct {
	Tool     string
	ExitCode int
	Stderr   string
}

func (e *ToolError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with status %d", e.Tool, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Tool, e.ExitCode, e.Stderr)
}

const stderrTail = 2 << 10

// ExecRunner runs tools with os/exec. Killed tools get a short grace period
// to flush their pipes.
func ExecRunner(logger *slog.Logger) Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &execRunner{logger: logger, waitDelay: 2 * time.Second}
}

type execRunner struct {
	logger    *slog.Logger
	waitDelay time.Duration
}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = r.waitDelay

	start := time.Now()
	err := cmd.Run()
	tool := filepath.Base(name)
	attrs := []any{"tool", tool, "elapsed_ms", time.Since(start).Milliseconds()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		r.logger.Debug("ocr.exec.ok", append(attrs, "stdout_bytes", stdout.Len())...)
	case errors.As(err, &exitErr) && ctx.Err() == nil:
		err = &ToolError{Tool: tool, ExitCode: exitErr.ExitCode(), Stderr: tail(stderr.String(), stderrTail)}
		r.logger.Warn("ocr.exec.failed", append(attrs, "args", strings.Join(args, " "), "error", err)...)
	default:
		r.logger.Warn("ocr.exec.failed", append(attrs, "error", err)...)
	}
	return stdout.Bytes(), stderr.Bytes(), err
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
