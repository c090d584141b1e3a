package api

import (
	"net/http"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/psantana5/ffmpeg-rife/pkg/logging"
	"github.com/psantana5/ffmpeg-rife/pkg/models"
)

// StorageStatus reports free space on the volume holding job data
type StorageStatus struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status      string         `json:"status"`
	RunningJobs int            `json:"running_jobs"`
	Storage     *StorageStatus `json:"storage,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Health reports liveness plus storage capacity. An unreadable storage
// root makes the service degraded.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy"}
	for _, j := range h.store.GetAllJobs() {
		if j.Status == models.JobStatusRunning {
			resp.RunningJobs++
		}
	}

	usage, err := disk.UsageWithContext(r.Context(), h.ws.Root())
	if err != nil {
		h.logger.Warn("storage health check failed", logging.Fields{"error": err})
		resp.Status = "degraded"
		resp.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Storage = &StorageStatus{
		Path:        usage.Path,
		TotalBytes:  usage.Total,
		FreeBytes:   usage.Free,
		UsedPercent: usage.UsedPercent,
	}
	writeJSON(w, http.StatusOK, resp)
}
