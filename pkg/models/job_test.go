package models

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobStartsRunning(t *testing.T) {
	now := time.Now()
	job := NewJob("abc", JobKindVideo, JobParams{Exp: 2, FPS: 30, Scale: 1}, now)

	assert.Equal(t, JobStatusRunning, job.Status)
	assert.False(t, job.IsTerminal())
	assert.Empty(t, job.OutputURL)
	assert.Empty(t, job.Error)
	assert.Nil(t, job.CompletedAt)
}

func TestJobDone(t *testing.T) {
	job := NewJob("abc", JobKindFramePair, JobParams{NumMid: 6, FPS: 30}, time.Now())

	done, err := job.Done(OutputURL("abc"), FramesURL("abc"), time.Now())
	require.NoError(t, err)

	assert.Equal(t, JobStatusDone, done.Status)
	assert.Equal(t, "/jobs/abc/download", done.OutputURL)
	assert.Equal(t, "/jobs/abc/frames.zip", done.FramesURL)
	assert.Empty(t, done.Error)
	assert.NotNil(t, done.CompletedAt)

	// the original value is untouched
	assert.Equal(t, JobStatusRunning, job.Status)
	assert.Empty(t, job.OutputURL)
}

func TestJobDoneRequiresOutput(t *testing.T) {
	job := NewJob("abc", JobKindVideo, JobParams{}, time.Now())
	_, err := job.Done("", "", time.Now())
	assert.Error(t, err)
}

func TestJobFailed(t *testing.T) {
	job := NewJob("abc", JobKindVideo, JobParams{}, time.Now())

	failed, err := job.Failed("ffmpeg exited 1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, JobStatusError, failed.Status)
	assert.Equal(t, "ffmpeg exited 1", failed.Error)
	assert.Empty(t, failed.OutputURL)
	assert.Empty(t, failed.FramesURL)

	blank, err := job.Failed("", time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, blank.Error)
}

func TestTerminalJobsDoNotTransition(t *testing.T) {
	job := NewJob("abc", JobKindVideo, JobParams{}, time.Now())
	done, err := job.Done(OutputURL("abc"), "", time.Now())
	require.NoError(t, err)

	_, err = done.Failed("late failure", time.Now())
	assert.True(t, errors.Is(err, ErrJobTerminal))

	_, err = done.Done(OutputURL("abc"), "", time.Now())
	assert.True(t, errors.Is(err, ErrJobTerminal))

	failed, err := job.Failed("boom", time.Now())
	require.NoError(t, err)
	_, err = failed.Done(OutputURL("abc"), "", time.Now())
	assert.True(t, errors.Is(err, ErrJobTerminal))
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		wantErr  bool
	}{
		{JobStatusRunning, JobStatusDone, false},
		{JobStatusRunning, JobStatusError, false},
		{JobStatusRunning, JobStatusRunning, true},
		{JobStatusDone, JobStatusError, true},
		{JobStatusError, JobStatusDone, true},
		{JobStatus("paused"), JobStatusDone, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPipelineErrorMessage(t *testing.T) {
	err := &PipelineError{
		Stage:  "encode",
		Tool:   "ffmpeg",
		Err:    errors.New("exit status 1"),
		Output: strings.Repeat("x", 5000) + "Invalid data found",
	}
	msg := err.Error()
	assert.True(t, strings.HasPrefix(msg, "encode failed (ffmpeg): exit status 1"))
	assert.Contains(t, msg, "Invalid data found")
	assert.Less(t, len(msg), 2200)

	var pe *PipelineError
	assert.True(t, errors.As(error(err), &pe))
}
