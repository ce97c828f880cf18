package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/internal/dto"
	"github.com/prohmpiriya/ticket-monitor/pkg/response"
)

// AlertRuleHandler handles alert subscription HTTP requests
type AlertRuleHandler struct {
	catalog Catalog
}

// NewAlertRuleHandler creates a new AlertRuleHandler
func NewAlertRuleHandler(catalog Catalog) *AlertRuleHandler {
	return &AlertRuleHandler{catalog: catalog}
}

// Create handles POST /alert-rules
func (h *AlertRuleHandler) Create(c *gin.Context) {
	var req dto.CreateAlertRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	if valid, msg := req.Validate(); !valid {
		response.BadRequest(c, msg)
		return
	}
	params, err := req.ToParams()
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	rule, err := h.catalog.CreateAlertRule(c.Request.Context(), params)
	if err != nil {
		respondError(c, err, "Event not found")
		return
	}
	response.Created(c, dto.ToAlertRuleResponse(rule))
}

// Deactivate handles DELETE /alert-rules/:id
func (h *AlertRuleHandler) Deactivate(c *gin.Context) {
	id, err := domain.ParseRuleID(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "ID is required")
		return
	}
	rule, err := h.catalog.DeactivateAlertRule(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Alert rule not found")
		return
	}
	response.Success(c, dto.ToAlertRuleResponse(rule))
}
