package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/pkg/response"
)

// respondError maps domain errors to HTTP statuses
func respondError(c *gin.Context, err error, notFound string) {
	var conflict *domain.SchedulingConflictError
	switch {
	case domain.IsNotFoundError(err):
		response.NotFound(c, notFound)
	case domain.IsValidationError(err):
		response.BadRequest(c, err.Error())
	case errors.As(err, &conflict):
		response.Error(c, http.StatusConflict, "SCHEDULING_CONFLICT", "Event overlaps another event at the same venue", err.Error())
	case errors.Is(err, domain.ErrJobTerminal):
		response.Conflict(c, "JOB_TERMINAL", "Job already finished")
	case errors.Is(err, domain.ErrVersionConflict):
		response.Conflict(c, "VERSION_CONFLICT", "Resource was modified concurrently, retry the request")
	default:
		response.InternalError(c, err)
	}
}
