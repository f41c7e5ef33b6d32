package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/vegchange/internal/aoi"
	mw "github.com/kiranshivaraju/vegchange/internal/api/middleware"
	"github.com/kiranshivaraju/vegchange/internal/api/response"
	"github.com/kiranshivaraju/vegchange/internal/orchestrator"
	"github.com/kiranshivaraju/vegchange/pkg/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// JobService is the job side of the orchestrator.
type JobService interface {
	CreateJob(cfg models.AnalysisConfig) (string, error)
	GetJob(id string) (*models.AnalysisJob, bool)
	CancelJob(id string) bool
	ListJobs(status models.JobStatus, limit int) []*models.AnalysisJob
}

// JobQueue hands a created job to the background workers.
type JobQueue interface {
	Submit(jobID string, region aoi.AOI) bool
}

// Analysis serves /api/v1/analysis.
type Analysis struct {
	jobs  JobService
	queue JobQueue
	sites *Sites
}

func NewAnalysis(jobs JobService, queue JobQueue, sites *Sites) *Analysis {
	return &Analysis{jobs: jobs, queue: queue, sites: sites}
}

type createAnalysisRequest struct {
	AOI    aoiRequest            `json:"aoi"`
	Config models.AnalysisConfig `json:"config"`
}

type createAnalysisResponse struct {
	JobID     string           `json:"job_id"`
	Status    models.JobStatus `json:"status"`
	Message   string           `json:"message"`
	CreatedAt time.Time        `json:"created_at"`
}

// Create handles POST /api/v1/analysis. Omitted config fields take the
// server defaults. When the AOI is a saved site and no site_name is given,
// the site's name is used.
func (h *Analysis) Create(w http.ResponseWriter, r *http.Request) {
	var req createAnalysisRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AOI.forms() != 1 {
		response.Error(w, http.StatusBadRequest, "INVALID_AOI", errAmbiguousAOI.Error(), nil)
		return
	}

	var region aoi.AOI
	if req.AOI.SiteID != "" {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
			return
		}
		reg, site, err := h.sites.region(r.Context(), tenantID, req.AOI.SiteID)
		if err != nil {
			if errors.Is(err, aoi.ErrInvalidGeometry) {
				response.Error(w, http.StatusUnprocessableEntity, "INVALID_AOI", err.Error(), nil)
				return
			}
			writeSiteError(w, err)
			return
		}
		region = reg
		if req.Config.SiteName == "" {
			req.Config.SiteName = site.Name
		}
	} else {
		reg, err := req.AOI.inline()
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_AOI", err.Error(), nil)
			return
		}
		region = reg
	}

	jobID, err := h.jobs.CreateJob(req.Config)
	if err != nil {
		if errors.Is(err, orchestrator.ErrInvalidConfig) {
			response.Error(w, http.StatusBadRequest, "INVALID_CONFIG", err.Error(), nil)
			return
		}
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create job", nil)
		return
	}

	job, ok := h.jobs.GetJob(jobID)
	if !ok {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Job disappeared after creation", nil)
		return
	}

	if !h.queue.Submit(jobID, region) {
		// The job stays PENDING and can still be cancelled.
		response.Error(w, http.StatusServiceUnavailable, "QUEUE_FULL",
			"Analysis queue is full, try again later", map[string]string{"job_id": jobID})
		return
	}

	response.Accepted(w, createAnalysisResponse{
		JobID:     jobID,
		Status:    job.Status,
		Message:   "Analysis job queued",
		CreatedAt: job.CreatedAt,
	})
}

// Get handles GET /api/v1/analysis/{jobID}.
func (h *Analysis) Get(w http.ResponseWriter, r *http.Request) {
	job, ok := h.jobs.GetJob(chi.URLParam(r, "jobID"))
	if !ok {
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
		return
	}
	response.JSON(w, job)
}

// Cancel handles DELETE /api/v1/analysis/{jobID}. Only PENDING jobs can be cancelled.
func (h *Analysis) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if h.jobs.CancelJob(id) {
		job, _ := h.jobs.GetJob(id)
		response.JSON(w, job)
		return
	}
	job, ok := h.jobs.GetJob(id)
	if !ok {
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
		return
	}
	response.Error(w, http.StatusConflict, "JOB_NOT_CANCELLABLE",
		"Only pending jobs can be cancelled", map[string]string{"status": string(job.Status)})
}

// List handles GET /api/v1/analysis?status=&limit=.
func (h *Analysis) List(w http.ResponseWriter, r *http.Request) {
	var status models.JobStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, ok := models.ParseJobStatus(raw)
		if !ok {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"status must be one of pending, running, completed, failed, cancelled", nil)
			return
		}
		status = st
	}
	limit, err := intParam(r, "limit", defaultListLimit, 1, maxListLimit)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	jobs := h.jobs.ListJobs(status, limit)
	if jobs == nil {
		jobs = []*models.AnalysisJob{}
	}
	response.JSON(w, jobs)
}
