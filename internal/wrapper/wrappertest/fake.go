// Package wrappertest provides a scripted wrapper.Runner for tests that
// must not spawn ffmpeg or python.
package wrappertest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/psantana5/ffmpeg-rife/internal/wrapper"
)

// Call records one invocation
type Call struct {
	Command string
	Args    []string
}

// Flag returns the value following name in the argv, or "".
func (c Call) Flag(name string) string {
	for i := 0; i < len(c.Args)-1; i++ {
		if c.Args[i] == name {
			return c.Args[i+1]
		}
	}
	return ""
}

// Has reports whether name appears anywhere in the argv
func (c Call) Has(name string) bool {
	for _, a := range c.Args {
		if a == name {
			return true
		}
	}
	return false
}

// HandlerFunc decides what a fake tool does. A non-zero exit code makes
// Run return an error like the real runner does.
type HandlerFunc func(call Call) (output string, exitCode int)

// Runner is a concurrency-safe fake
type Runner struct {
	mu      sync.Mutex
	calls   []Call
	Handler HandlerFunc
}

// NewRunner returns a fake that dispatches to h. A nil h succeeds silently.
func NewRunner(h HandlerFunc) *Runner {
	return &Runner{Handler: h}
}

// Run implements wrapper.Runner
func (r *Runner) Run(ctx context.Context, command string, args ...string) (*wrapper.Result, error) {
	call := Call{Command: command, Args: append([]string(nil), args...)}
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()

	res := &wrapper.Result{Command: command, Args: call.Args}
	if r.Handler == nil {
		return res, nil
	}
	res.Output, res.ExitCode = r.Handler(call)
	if res.ExitCode != 0 {
		return res, fmt.Errorf("%s exited with code %d", command, res.ExitCode)
	}
	return res, nil
}

// Calls returns a copy of every invocation so far
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// WriteFrames creates n numbered PNG placeholders in dir, starting at start
func WriteFrames(dir string, start, n int) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for i := start; i < start+n; i++ {
		name := filepath.Join(dir, fmt.Sprintf("%06d.png", i))
		if err := os.WriteFile(name, []byte("png"), 0644); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile writes placeholder content at path, creating parents
func WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("mp4"), 0644)
}

// Tools emulates ffmpeg and the RIFE script well enough for pipeline tests:
// extraction writes extractFrames frames, interpolation writes
// (2^exp)*(inputs-1)+1 frames, encoding writes the output file.
func Tools(extractFrames int) HandlerFunc {
	return func(call Call) (string, int) {
		switch {
		case strings.HasSuffix(call.Command, "ffmpeg") && call.Has("-vf"):
			out := call.Args[len(call.Args)-1]
			if err := WriteFrames(filepath.Dir(out), 1, extractFrames); err != nil {
				return err.Error(), 1
			}
		case call.Flag("--exp") != "":
			in, out := call.Flag("--img"), call.Flag("--output")
			entries, err := os.ReadDir(in)
			if err != nil {
				return err.Error(), 1
			}
			inputs := 0
			for _, e := range entries {
				if !e.IsDir() && strings.HasSuffix(e.Name(), ".png") {
					inputs++
				}
			}
			var exp int
			fmt.Sscanf(call.Flag("--exp"), "%d", &exp)
			total := (1<<exp)*(inputs-1) + 1
			if err := WriteFrames(out, 0, total); err != nil {
				return err.Error(), 1
			}
		case strings.HasSuffix(call.Command, "ffmpeg"):
			if err := WriteFile(call.Args[len(call.Args)-1]); err != nil {
				return err.Error(), 1
			}
		}
		return "", 0
	}
}
