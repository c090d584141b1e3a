package models

import (
	"errors"
	"fmt"
	"time"
)

// JobKind identifies which pipeline produces a job's output
type JobKind string

const (
	JobKindVideo     JobKind = "video"      // whole-video interpolation
	JobKindFramePair JobKind = "frame-pair" // two stills -> in-between clip
)

// JobStatus represents the status of a job
type JobStatus string

const (
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusError   JobStatus = "error"
)

// ErrJobTerminal is returned when a transition is attempted on a finished job
var ErrJobTerminal = errors.New("job already reached a terminal state")

// validTransitions maps from-state to allowed to-states.
// done and error are terminal.
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusRunning: {
		JobStatusDone:  true,
		JobStatusError: true,
	},
	JobStatusDone:  {},
	JobStatusError: {},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to JobStatus) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if len(allowed) == 0 {
		return ErrJobTerminal
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// JobParams echoes the knobs a job was submitted with
type JobParams struct {
	Exp    int `json:"exp,omitempty"`
	FPS    int `json:"fps,omitempty"`
	Scale  int `json:"scale,omitempty"`
	NumMid int `json:"num_mid,omitempty"`
}

// Job is an immutable snapshot of one submission. Transitions return a new
// value; the registry swaps it in whole.
type Job struct {
	ID          string     `json:"id"`
	Kind        JobKind    `json:"kind"`
	Status      JobStatus  `json:"status"`
	OutputURL   string     `json:"output_url,omitempty"`
	FramesURL   string     `json:"frames_url,omitempty"`
	Error       string     `json:"error,omitempty"`
	Params      JobParams  `json:"params"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewJob returns a job in the running state
func NewJob(id string, kind JobKind, params JobParams, now time.Time) Job {
	return Job{
		ID:        id,
		Kind:      kind,
		Status:    JobStatusRunning,
		Params:    params,
		CreatedAt: now,
	}
}

// IsTerminal reports whether the job has finished, successfully or not
func (j Job) IsTerminal() bool {
	return j.Status == JobStatusDone || j.Status == JobStatusError
}

// Done returns the successful successor of j. framesURL may be empty.
func (j Job) Done(outputURL, framesURL string, at time.Time) (Job, error) {
	if err := ValidateTransition(j.Status, JobStatusDone); err != nil {
		return j, err
	}
	if outputURL == "" {
		return j, errors.New("done job requires an output url")
	}
	next := j
	next.Status = JobStatusDone
	next.OutputURL = outputURL
	next.FramesURL = framesURL
	next.Error = ""
	next.CompletedAt = &at
	return next, nil
}

// Failed returns the failed successor of j
func (j Job) Failed(message string, at time.Time) (Job, error) {
	if err := ValidateTransition(j.Status, JobStatusError); err != nil {
		return j, err
	}
	if message == "" {
		message = "unknown error"
	}
	next := j
	next.Status = JobStatusError
	next.OutputURL = ""
	next.FramesURL = ""
	next.Error = message
	next.CompletedAt = &at
	return next, nil
}

// OutputURL is the download locator for a job's video
func OutputURL(jobID string) string {
	return "/jobs/" + jobID + "/download"
}

// FramesURL is the download locator for a job's intermediate-frames archive
func FramesURL(jobID string) string {
	return "/jobs/" + jobID + "/frames.zip"
}
