// Package wrapper runs external tools (ffmpeg, the RIFE inference script)
// as child processes. Arguments are always passed as an argv slice; nothing
// goes through a shell.
package wrapper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/psantana5/ffmpeg-rife/pkg/logging"
)

// maxCapturedOutput caps how much combined stdout/stderr is kept per run
const maxCapturedOutput = 256 * 1024

// Result is the immutable outcome of one tool invocation
type Result struct {
	Command   string        `json:"command"`
	Args      []string      `json:"args"`
	ExitCode  int           `json:"exit_code"`
	Output    string        `json:"output,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// CommandLine renders the invocation for logs
func (r *Result) CommandLine() string {
	return strings.Join(append([]string{r.Command}, r.Args...), " ")
}

// Runner executes a tool to completion.
// A non-nil error is returned when the tool could not be started or exited
// non-zero; the Result is still populated with whatever was captured.
type Runner interface {
	Run(ctx context.Context, command string, args ...string) (*Result, error)
}

// ExecRunner runs tools with os/exec
type ExecRunner struct {
	logger *logging.Logger
}

// NewExecRunner creates a runner. logger may be nil.
func NewExecRunner(logger *logging.Logger) *ExecRunner {
	return &ExecRunner{logger: logger}
}

// Run spawns command and waits for it
func (r *ExecRunner) Run(ctx context.Context, command string, args ...string) (*Result, error) {
	result := &Result{
		Command:   command,
		Args:      append([]string(nil), args...),
		StartedAt: time.Now(),
	}

	cmd := exec.CommandContext(ctx, command, args...)
	// own process group so the tool's children are not tied to our terminal
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	out := &cappedBuffer{limit: maxCapturedOutput}
	cmd.Stdout = out
	cmd.Stderr = out

	if r.logger != nil {
		r.logger.Debug("exec", logging.Fields{"cmd": result.CommandLine()})
	}

	err := cmd.Run()
	result.Duration = time.Since(result.StartedAt)
	result.Output = out.String()

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			err = fmt.Errorf("%s exited with code %d", command, result.ExitCode)
		} else {
			result.ExitCode = -1
			err = fmt.Errorf("failed to start %s: %w", command, err)
		}
		if r.logger != nil {
			r.logger.Warn("tool failed", logging.Fields{
				"cmd":       result.CommandLine(),
				"exit_code": result.ExitCode,
				"duration":  result.Duration.String(),
			})
		}
		return result, err
	}

	if r.logger != nil {
		r.logger.Debug("tool finished", logging.Fields{
			"cmd":      command,
			"duration": result.Duration.String(),
		})
	}
	return result, nil
}

// cappedBuffer keeps the last limit bytes written to it
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) >= c.limit {
		c.buf.Reset()
		c.buf.Write(p[len(p)-c.limit:])
		c.truncated = true
		return n, nil
	}
	if over := c.buf.Len() + len(p) - c.limit; over > 0 {
		c.buf.Next(over)
		c.truncated = true
	}
	c.buf.Write(p)
	return n, nil
}

func (c *cappedBuffer) String() string {
	if c.truncated {
		return "[output truncated]\n" + c.buf.String()
	}
	return c.buf.String()
}
