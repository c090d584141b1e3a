package store

import (
	"errors"

	"github.com/psantana5/ffmpeg-rife/pkg/models"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already exists")
	ErrJobTerminal = models.ErrJobTerminal
)

// Store is the job registry. Jobs are handed out by value; callers never
// see the backing map.
type Store interface {
	CreateJob(id string, kind models.JobKind, params models.JobParams) (models.Job, error)
	GetJob(id string) (models.Job, error)
	GetAllJobs() []models.Job
	SetDone(id, outputURL, framesURL string) (models.Job, error)
	SetError(id, message string) (models.Job, error)
}
