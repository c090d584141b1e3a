package api

import (
	"errors"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"github.com/psantana5/ffmpeg-rife/pkg/archive"
	"github.com/psantana5/ffmpeg-rife/pkg/logging"
	"github.com/psantana5/ffmpeg-rife/pkg/models"
	"github.com/psantana5/ffmpeg-rife/pkg/store"
)

// DownloadVideo streams a finished job's video
func (h *Handler) DownloadVideo(w http.ResponseWriter, r *http.Request) {
	job, ok := h.finishedJob(w, r)
	if !ok {
		return
	}

	f, info, err := openArtifact(h.ws.VideoPath(job.ID))
	if err != nil {
		h.artifactError(w, job.ID, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", `attachment; filename="`+job.ID+`.mp4"`)
	http.ServeContent(w, r, job.ID+".mp4", info.ModTime(), f)
}

// DownloadFrames streams a zip of a finished job's interpolated frames.
// Only jobs whose record carries frames_url have one. The archive is built
// on first request and reused afterwards.
func (h *Handler) DownloadFrames(w http.ResponseWriter, r *http.Request) {
	job, ok := h.finishedJob(w, r)
	if !ok {
		return
	}
	if job.FramesURL == "" {
		h.artifactError(w, job.ID, ErrArtifactNotFound)
		return
	}

	path, err := h.archives.Ensure(r.Context(), h.ws.OutputDir(job.ID), h.ws.ArchivePath(job.ID))
	if err != nil {
		if errors.Is(err, archive.ErrEmpty) || errors.Is(err, os.ErrNotExist) {
			err = ErrArtifactNotFound
		}
		h.artifactError(w, job.ID, err)
		return
	}

	f, info, err := openArtifact(path)
	if err != nil {
		h.artifactError(w, job.ID, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+job.ID+`_frames.zip"`)
	http.ServeContent(w, r, job.ID+"_frames.zip", info.ModTime(), f)
}

// finishedJob resolves the route id to a done job, writing 404 otherwise
func (h *Handler) finishedJob(w http.ResponseWriter, r *http.Request) (models.Job, bool) {
	job, err := h.store.GetJob(mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return job, false
		}
		http.Error(w, "Failed to get job", http.StatusInternalServerError)
		return job, false
	}
	if job.Status != models.JobStatusDone {
		http.Error(w, "Output not available", http.StatusNotFound)
		return job, false
	}
	return job, true
}

func (h *Handler) artifactError(w http.ResponseWriter, jobID string, err error) {
	if errors.Is(err, ErrArtifactNotFound) {
		http.Error(w, "Output not found", http.StatusNotFound)
		return
	}
	h.logger.Error("failed to serve artifact", logging.Fields{"job_id": jobID, "error": err})
	http.Error(w, "Failed to read output", http.StatusInternalServerError)
}

func openArtifact(path string) (*os.File, os.FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrArtifactNotFound
		}
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, ErrArtifactNotFound
	}
	return f, info, nil
}
