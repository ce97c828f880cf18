package handler

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/internal/dto"
	"github.com/prohmpiriya/ticket-monitor/pkg/response"
)

const defaultUpcomingHorizon = 30 * 24 * time.Hour

// Catalog is the monitored-events service exposed over HTTP
type Catalog interface {
	ScheduleEvent(ctx context.Context, params domain.ScheduleEventParams) (*domain.SportsEvent, error)
	GetEvent(ctx context.Context, id domain.EventID) (*domain.SportsEvent, error)
	UpcomingEvents(ctx context.Context, horizon time.Duration) ([]*domain.SportsEvent, error)
	Tickets(ctx context.Context, eventID domain.EventID) ([]*domain.MonitoredTicket, error)
	GetTicket(ctx context.Context, id domain.TicketID) (*domain.MonitoredTicket, error)
	CreateAlertRule(ctx context.Context, params domain.AlertRuleParams) (*domain.AlertRule, error)
	DeactivateAlertRule(ctx context.Context, id domain.RuleID) (*domain.AlertRule, error)
	Stream(ctx context.Context, aggregateID string) ([]domain.DomainEvent, error)
}

// EventHandler handles sports event and ticket HTTP requests
type EventHandler struct {
	catalog Catalog
}

// NewEventHandler creates a new EventHandler
func NewEventHandler(catalog Catalog) *EventHandler {
	return &EventHandler{catalog: catalog}
}

// Schedule handles POST /events - starts monitoring an event
func (h *EventHandler) Schedule(c *gin.Context) {
	var req dto.ScheduleEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	if valid, msg := req.Validate(); !valid {
		response.BadRequest(c, msg)
		return
	}

	event, err := h.catalog.ScheduleEvent(c.Request.Context(), req.ToParams())
	if err != nil {
		respondError(c, err, "Event not found")
		return
	}
	response.Created(c, dto.ToEventResponse(event))
}

// Upcoming handles GET /events?horizon=720h
func (h *EventHandler) Upcoming(c *gin.Context) {
	horizon := defaultUpcomingHorizon
	if raw := c.Query("horizon"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			response.BadRequest(c, "horizon must be a positive duration")
			return
		}
		horizon = d
	}

	events, err := h.catalog.UpcomingEvents(c.Request.Context(), horizon)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	out := make([]*dto.EventResponse, len(events))
	for i, e := range events {
		out[i] = dto.ToEventResponse(e)
	}
	response.List(c, out, response.ListMeta{Count: len(out)})
}

// Get handles GET /events/:id
func (h *EventHandler) Get(c *gin.Context) {
	id, err := domain.ParseEventID(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "ID is required")
		return
	}
	event, err := h.catalog.GetEvent(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Event not found")
		return
	}
	response.Success(c, dto.ToEventResponse(event))
}

// Tickets handles GET /events/:id/tickets?platform=&availability=
func (h *EventHandler) Tickets(c *gin.Context) {
	id, err := domain.ParseEventID(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "ID is required")
		return
	}
	platform := strings.ToLower(c.Query("platform"))
	availability := strings.ToLower(c.Query("availability"))

	tickets, err := h.catalog.Tickets(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Event not found")
		return
	}

	out := make([]*dto.TicketResponse, 0, len(tickets))
	for _, t := range tickets {
		if platform != "" && string(t.Source().Platform()) != platform {
			continue
		}
		if availability != "" && string(t.Availability()) != availability {
			continue
		}
		out = append(out, dto.ToTicketResponse(t))
	}
	response.List(c, out, response.ListMeta{Count: len(out)})
}

// GetTicket handles GET /tickets/:id
func (h *EventHandler) GetTicket(c *gin.Context) {
	id, err := domain.ParseTicketID(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "ID is required")
		return
	}
	ticket, err := h.catalog.GetTicket(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Ticket not found")
		return
	}
	response.Success(c, dto.ToTicketResponse(ticket))
}

// Stream handles GET /streams/:id - the event history of any aggregate
func (h *EventHandler) Stream(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.BadRequest(c, "ID is required")
		return
	}

	events, err := h.catalog.Stream(c.Request.Context(), id)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if len(events) == 0 {
		response.NotFound(c, "Stream not found")
		return
	}

	out := make([]*dto.StreamEventResponse, 0, len(events))
	for _, e := range events {
		item, err := dto.ToStreamEventResponse(e)
		if err != nil {
			response.InternalError(c, err)
			return
		}
		out = append(out, item)
	}
	response.List(c, out, response.ListMeta{Count: len(out)})
}
