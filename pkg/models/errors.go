package models

import (
	"fmt"
	"strings"
)

// maxOutputTail bounds how much tool output is folded into an error message
const maxOutputTail = 2048

// PipelineError reports an external tool invocation that failed or produced
// no usable output.
type PipelineError struct {
	Stage  string // extract, interpolate, encode, prepare
	Tool   string
	Err    error
	Output string
}

func (e *PipelineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s failed", e.Stage)
	if e.Tool != "" {
		fmt.Fprintf(&b, " (%s)", e.Tool)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if out := tail(strings.TrimSpace(e.Output), maxOutputTail); out != "" {
		fmt.Fprintf(&b, "\n%s", out)
	}
	return b.String()
}

func (e *PipelineError) Unwrap() error { return e.Err }

// UploadError reports an uploaded file that could not be persisted
type UploadError struct {
	Field string
	Err   error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("failed to save upload %q: %v", e.Field, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
