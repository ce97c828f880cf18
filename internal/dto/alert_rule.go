package dto

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
)

// CreateAlertRuleRequest represents the request to subscribe to ticket changes
type CreateAlertRuleRequest struct {
	UserID            string          `json:"user_id" binding:"required"`
	EventID           string          `json:"event_id" binding:"required"`
	TicketID          string          `json:"ticket_id"`
	Platform          string          `json:"platform"`
	Kind              string          `json:"kind" binding:"required"`
	TargetPrice       decimal.Decimal `json:"target_price"`
	Currency          string          `json:"currency"`
	Operator          string          `json:"operator"`
	MinSavingsPercent decimal.Decimal `json:"min_savings_percent"`
}

// Validate validates the CreateAlertRuleRequest
func (r *CreateAlertRuleRequest) Validate() (bool, string) {
	if strings.TrimSpace(r.UserID) == "" {
		return false, "User ID is required"
	}
	if strings.TrimSpace(r.EventID) == "" {
		return false, "Event ID is required"
	}
	kind := domain.AlertKind(r.Kind)
	if !kind.IsValid() {
		return false, "Kind must be price_threshold or sold_out"
	}
	if r.Platform != "" {
		if _, err := domain.ParsePlatform(r.Platform); err != nil {
			return false, "Unknown platform"
		}
	}
	if kind == domain.AlertPriceThreshold {
		if r.Currency == "" {
			return false, "Currency is required for price alerts"
		}
		if _, err := domain.ParseComparison(r.Operator); err != nil {
			return false, "Operator must be one of lt, lte, gt, gte"
		}
	}
	if r.MinSavingsPercent.IsNegative() {
		return false, "min_savings_percent must not be negative"
	}
	return true, ""
}

// ToParams converts the request to domain parameters
func (r *CreateAlertRuleRequest) ToParams() (domain.AlertRuleParams, error) {
	params := domain.AlertRuleParams{
		UserID:            r.UserID,
		EventID:           domain.EventID(strings.TrimSpace(r.EventID)),
		TicketID:          domain.TicketID(strings.TrimSpace(r.TicketID)),
		Kind:              domain.AlertKind(r.Kind),
		MinSavingsPercent: r.MinSavingsPercent,
	}
	if r.Platform != "" {
		platform, err := domain.ParsePlatform(r.Platform)
		if err != nil {
			return params, err
		}
		params.Platform = platform
	}
	if params.Kind == domain.AlertPriceThreshold {
		price, err := domain.NewPrice(r.TargetPrice, r.Currency)
		if err != nil {
			return params, err
		}
		op, err := domain.ParseComparison(r.Operator)
		if err != nil {
			return params, err
		}
		params.TargetPrice = price
		params.Operator = op
	}
	return params, nil
}

// AlertRuleResponse represents an alert rule
type AlertRuleResponse struct {
	ID                string          `json:"id"`
	UserID            string          `json:"user_id"`
	EventID           string          `json:"event_id"`
	TicketID          string          `json:"ticket_id,omitempty"`
	Platform          string          `json:"platform,omitempty"`
	Kind              string          `json:"kind"`
	TargetPrice       *domain.Price   `json:"target_price,omitempty"`
	Operator          string          `json:"operator,omitempty"`
	MinSavingsPercent decimal.Decimal `json:"min_savings_percent"`
	Active            bool            `json:"active"`
	CreatedAt         time.Time       `json:"created_at"`
}

// ToAlertRuleResponse converts an alert rule to its response
func ToAlertRuleResponse(r *domain.AlertRule) *AlertRuleResponse {
	s := r.State()
	resp := &AlertRuleResponse{
		ID:                string(s.ID),
		UserID:            s.UserID,
		EventID:           string(s.EventID),
		TicketID:          string(s.TicketID),
		Platform:          string(s.Platform),
		Kind:              string(s.Kind),
		Operator:          string(s.Operator),
		MinSavingsPercent: s.MinSavingsPercent,
		Active:            s.Active,
		CreatedAt:         s.CreatedAt,
	}
	if !s.TargetPrice.IsEmpty() {
		price := s.TargetPrice
		resp.TargetPrice = &price
	}
	return resp
}
