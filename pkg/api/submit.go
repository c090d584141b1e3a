package api

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/psantana5/ffmpeg-rife/pkg/interp"
	"github.com/psantana5/ffmpeg-rife/pkg/logging"
	"github.com/psantana5/ffmpeg-rife/pkg/media"
	"github.com/psantana5/ffmpeg-rife/pkg/models"
	"github.com/psantana5/ffmpeg-rife/pkg/pipeline"
)

// multipart parts above this size spill to temp files
const maxMemory = 32 << 20

// formError is a client mistake in the submitted form
type formError struct {
	field string
	msg   string
}

func (e *formError) Error() string { return e.field + ": " + e.msg }

// SubmitVideo accepts a video and runs the whole-video pipeline before
// responding
func (h *Handler) SubmitVideo(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	params, err := videoParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	file, header, err := formFile(r, "file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	id := h.newID()
	input, err := h.saveUpload("file", id+"_in"+uploadExt(header.Filename, ".mp4"), file)
	if err != nil {
		h.uploadFailed(w, err)
		return
	}

	if !h.createJob(w, id, models.JobKindVideo, params) {
		return
	}
	job := h.orch.RunVideo(context.WithoutCancel(r.Context()), pipeline.VideoRequest{
		JobID:     id,
		InputPath: input,
		Exp:       params.Exp,
		FPS:       params.FPS,
		Scale:     params.Scale,
	})
	writeJSON(w, http.StatusOK, job)
}

// SubmitFramePair accepts two stills and runs the frame-pair pipeline
// before responding
func (h *Handler) SubmitFramePair(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	params, err := framePairParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fileA, _, err := formFile(r, "frame_a")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer fileA.Close()
	fileB, _, err := formFile(r, "frame_b")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer fileB.Close()

	id := h.newID()
	pathA, err := h.saveUpload("frame_a", id+"_a.png", fileA)
	if err != nil {
		h.uploadFailed(w, err)
		return
	}
	pathB, err := h.saveUpload("frame_b", id+"_b.png", fileB)
	if err != nil {
		h.uploadFailed(w, err)
		return
	}

	if !h.createJob(w, id, models.JobKindFramePair, params) {
		return
	}
	job := h.orch.RunFramePair(context.WithoutCancel(r.Context()), pipeline.FramePairRequest{
		JobID:  id,
		FrameA: pathA,
		FrameB: pathB,
		NumMid: params.NumMid,
		FPS:    params.FPS,
	})
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) bool {
	if r.ContentLength > h.maxUploadBytes {
		http.Error(w, fmt.Sprintf("Upload exceeds %d bytes", h.maxUploadBytes), http.StatusRequestEntityTooLarge)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, fmt.Sprintf("Upload exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return false
		}
		http.Error(w, "Invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) createJob(w http.ResponseWriter, id string, kind models.JobKind, params models.JobParams) bool {
	if _, err := h.store.CreateJob(id, kind, params); err != nil {
		h.logger.Error("failed to create job", logging.Fields{"job_id": id, "error": err})
		http.Error(w, "Failed to create job", http.StatusInternalServerError)
		return false
	}
	if h.metricsRecorder != nil {
		h.metricsRecorder.JobSubmitted(kind)
	}
	h.logger.Info("job created", logging.Fields{"job_id": id, "kind": string(kind)})
	return true
}

func (h *Handler) saveUpload(field, name string, file multipart.File) (string, error) {
	path, err := h.ws.SaveUpload(name, file)
	if err != nil {
		return "", &models.UploadError{Field: field, Err: err}
	}
	return path, nil
}

func (h *Handler) uploadFailed(w http.ResponseWriter, err error) {
	h.logger.Error("upload failed", logging.Fields{"error": err})
	http.Error(w, "Failed to store upload", http.StatusInternalServerError)
}

func formFile(r *http.Request, field string) (multipart.File, *multipart.FileHeader, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, nil, &formError{field: field, msg: "file is required"}
	}
	return file, header, nil
}

func videoParams(r *http.Request) (models.JobParams, error) {
	exp, err := formInt(r, "exp", interp.DefaultExp)
	if err != nil {
		return models.JobParams{}, err
	}
	if exp < 1 {
		return models.JobParams{}, &formError{field: "exp", msg: "must be at least 1"}
	}
	fps, err := formInt(r, "fps", media.DefaultFPS)
	if err != nil {
		return models.JobParams{}, err
	}
	if fps < 1 {
		return models.JobParams{}, &formError{field: "fps", msg: "must be at least 1"}
	}
	scale, err := formInt(r, "scale", 1)
	if err != nil {
		return models.JobParams{}, err
	}
	if !interp.ValidScale(scale) {
		return models.JobParams{}, &formError{field: "scale", msg: "must be 1, 2 or 4"}
	}
	return models.JobParams{Exp: exp, FPS: fps, Scale: scale}, nil
}

func framePairParams(r *http.Request) (models.JobParams, error) {
	numMid, err := formInt(r, "num_mid", pipeline.DefaultNumMid)
	if err != nil {
		return models.JobParams{}, err
	}
	if numMid < 0 {
		return models.JobParams{}, &formError{field: "num_mid", msg: "must not be negative"}
	}
	fps, err := formInt(r, "fps", media.DefaultFPS)
	if err != nil {
		return models.JobParams{}, err
	}
	if fps < 1 {
		return models.JobParams{}, &formError{field: "fps", msg: "must be at least 1"}
	}
	return models.JobParams{NumMid: numMid, FPS: fps, Exp: interp.ExpForMiddleFrames(numMid)}, nil
}

// formInt reads an optional integer form value
func formInt(r *http.Request, field string, def int) (int, error) {
	raw := strings.TrimSpace(r.FormValue(field))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &formError{field: field, msg: "must be an integer"}
	}
	return v, nil
}

// uploadExt keeps a short alphanumeric extension from the client's file name
func uploadExt(filename, def string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) < 2 || len(ext) > 8 {
		return def
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return def
		}
	}
	return ext
}
