package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/internal/dto"
	"github.com/prohmpiriya/ticket-monitor/internal/proxy"
	"github.com/prohmpiriya/ticket-monitor/pkg/response"
)

// JobQueue is the part of the scraping job queue exposed over HTTP
type JobQueue interface {
	Enqueue(ctx context.Context, platform domain.Platform, eventID domain.EventID, criteria domain.SearchCriteria) (*domain.ScrapingJob, bool, error)
	Cancel(ctx context.Context, id domain.JobID) (*domain.ScrapingJob, bool, error)
	Get(ctx context.Context, id domain.JobID) (*domain.ScrapingJob, error)
	Stats(ctx context.Context) (map[domain.JobStatus]int, error)
	List(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.ScrapingJob, error)
	Proxies() *proxy.Pool
}

// JobHandler handles scraping job HTTP requests
type JobHandler struct {
	queue JobQueue
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(queue JobQueue) *JobHandler {
	return &JobHandler{queue: queue}
}

// Enqueue handles POST /jobs - schedules a scrape, coalescing into an active job
func (h *JobHandler) Enqueue(c *gin.Context) {
	var req dto.EnqueueJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	if valid, msg := req.Validate(); !valid {
		response.BadRequest(c, msg)
		return
	}

	platform, _ := domain.ParsePlatform(req.Platform)
	eventID, _ := domain.ParseEventID(req.EventID)
	job, coalesced, err := h.queue.Enqueue(c.Request.Context(), platform, eventID, req.ToCriteria())
	if err != nil {
		respondError(c, err, "Event not found")
		return
	}

	resp := dto.ToJobResponse(job)
	if coalesced {
		resp.Coalesced = true
		response.Accepted(c, resp)
		return
	}
	response.Created(c, resp)
}

// List handles GET /jobs - lists recent jobs by status
func (h *JobHandler) List(c *gin.Context) {
	var filter dto.JobListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters")
		return
	}
	filter.SetDefaults()

	jobs, err := h.queue.List(c.Request.Context(), domain.JobStatus(filter.Status), filter.Limit)
	if err != nil {
		respondError(c, err, "")
		return
	}

	out := make([]*dto.JobResponse, len(jobs))
	for i, job := range jobs {
		out[i] = dto.ToJobResponse(job)
	}
	response.List(c, out, response.ListMeta{Count: len(out), Limit: filter.Limit})
}

// Stats handles GET /jobs/stats
func (h *JobHandler) Stats(c *gin.Context) {
	counts, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}

	resp := dto.JobStatsResponse{Counts: make(map[string]int, len(counts))}
	for status, n := range counts {
		resp.Counts[string(status)] = n
		resp.Total += n
	}
	response.Success(c, resp)
}

// Get handles GET /jobs/:id
func (h *JobHandler) Get(c *gin.Context) {
	id, err := domain.ParseJobID(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "ID is required")
		return
	}

	job, err := h.queue.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Job not found")
		return
	}
	response.Success(c, dto.ToJobResponse(job))
}

// Cancel handles DELETE /jobs/:id. Pending jobs are removed; processing
// jobs are flagged and answered with 202.
func (h *JobHandler) Cancel(c *gin.Context) {
	id, err := domain.ParseJobID(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "ID is required")
		return
	}

	job, removed, err := h.queue.Cancel(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Job not found")
		return
	}

	resp := dto.CancelJobResponse{Job: dto.ToJobResponse(job), Removed: removed}
	if !removed {
		response.Accepted(c, resp)
		return
	}
	response.Success(c, resp)
}

// Proxies handles GET /platforms/:platform/proxies
func (h *JobHandler) Proxies(c *gin.Context) {
	platform, err := domain.ParsePlatform(c.Param("platform"))
	if err != nil {
		response.BadRequest(c, "Unknown platform")
		return
	}
	statuses := h.queue.Proxies().Statuses(platform)
	response.List(c, statuses, response.ListMeta{Count: len(statuses)})
}
