// Package api exposes job submission, polling and artifact downloads over
// HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/psantana5/ffmpeg-rife/pkg/archive"
	"github.com/psantana5/ffmpeg-rife/pkg/logging"
	"github.com/psantana5/ffmpeg-rife/pkg/models"
	"github.com/psantana5/ffmpeg-rife/pkg/pipeline"
	"github.com/psantana5/ffmpeg-rife/pkg/store"
)

// DefaultMaxUploadBytes bounds a multipart submission
const DefaultMaxUploadBytes = 2048 << 20

// ErrArtifactNotFound means a job has no downloadable output (yet)
var ErrArtifactNotFound = errors.New("artifact not found")

// MetricsRecorder is an interface for recording submissions
type MetricsRecorder interface {
	JobSubmitted(kind models.JobKind)
}

// Handler serves the job API
type Handler struct {
	store           store.Store
	orch            *pipeline.Orchestrator
	ws              *pipeline.Workspace
	archives        *archive.Builder
	logger          *logging.Logger
	metricsRecorder MetricsRecorder
	maxUploadBytes  int64
	newID           func() string
}

// NewHandler creates a handler that runs pipelines through orch
func NewHandler(s store.Store, orch *pipeline.Orchestrator, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		store:          s,
		orch:           orch,
		ws:             orch.Workspace(),
		archives:       archive.NewBuilder(),
		logger:         logger,
		maxUploadBytes: DefaultMaxUploadBytes,
		newID:          NewJobID,
	}
}

// SetMetricsRecorder sets the metrics recorder for the handler
func (h *Handler) SetMetricsRecorder(recorder MetricsRecorder) {
	h.metricsRecorder = recorder
}

// SetMaxUploadBytes caps the size of a submission body
func (h *Handler) SetMaxUploadBytes(n int64) {
	if n > 0 {
		h.maxUploadBytes = n
	}
}

// NewJobID returns a 32-character lowercase hex id
func NewJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// idPattern matches ids produced by NewJobID
const idPattern = "{id:[0-9a-f]{32}}"

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/jobs/video", h.SubmitVideo).Methods("POST")
	r.HandleFunc("/jobs/frames", h.SubmitFramePair).Methods("POST")
	r.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	r.HandleFunc("/jobs/"+idPattern, h.GetJob).Methods("GET")
	r.HandleFunc("/jobs/"+idPattern+"/download", h.DownloadVideo).Methods("GET")
	r.HandleFunc("/jobs/"+idPattern+"/frames.zip", h.DownloadFrames).Methods("GET")

	// routes of the first release, still used by the web frontend
	legacy := r.PathPrefix("/api").Subrouter()
	legacy.HandleFunc("/interpolate/video", h.SubmitVideo).Methods("POST")
	legacy.HandleFunc("/interpolate/frames", h.SubmitFramePair).Methods("POST")
	legacy.HandleFunc("/jobs/"+idPattern, h.GetJob).Methods("GET")
	legacy.HandleFunc("/download/"+idPattern, h.DownloadVideo).Methods("GET")
	legacy.HandleFunc("/download_frames/"+idPattern, h.DownloadFrames).Methods("GET")

	r.HandleFunc("/health", h.Health).Methods("GET")
}

// GetJob returns one job
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.GetJob(mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to get job", logging.Fields{"error": err})
		http.Error(w, "Failed to get job", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListJobs returns every job, newest first. ?status= filters.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.store.GetAllJobs()

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := jobs[:0]
		for _, j := range jobs {
			if string(j.Status) == status {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	if jobs == nil {
		jobs = []models.Job{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
