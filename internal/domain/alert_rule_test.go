package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPriceRule(t *testing.T, target string, op Comparison, minSavings int64) *AlertRule {
	t.Helper()
	rule, err := NewAlertRule(AlertRuleParams{
		UserID:            "user-1",
		EventID:           "evt-1",
		Kind:              AlertPriceThreshold,
		TargetPrice:       MustPrice(target, "USD"),
		Operator:          op,
		MinSavingsPercent: decimal.NewFromInt(minSavings),
	}, t0)
	require.NoError(t, err)
	return rule
}

func TestNewAlertRule_Validation(t *testing.T) {
	_, err := NewAlertRule(AlertRuleParams{UserID: "u", EventID: "e", Kind: AlertPriceThreshold, Operator: CompareLess}, t0)
	assert.True(t, IsValidationError(err), "target price required")

	_, err = NewAlertRule(AlertRuleParams{UserID: "u", EventID: "e", Kind: AlertPriceThreshold, TargetPrice: MustPrice("1", "USD"), Operator: "~"}, t0)
	assert.True(t, IsValidationError(err))

	_, err = NewAlertRule(AlertRuleParams{UserID: "u", EventID: "e", Kind: AlertSoldOut}, t0)
	assert.NoError(t, err)

	_, err = NewAlertRule(AlertRuleParams{UserID: "u", EventID: "e", Kind: AlertSoldOut, Platform: "ticketbarn"}, t0)
	assert.True(t, IsValidationError(err))
}

func TestAlertRule_PriceConditionMet(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		op         Comparison
		minSavings int64
		oldPrice   string
		newPrice   string
		want       bool
	}{
		{"below target", "100", CompareLess, 0, "150", "90", true},
		{"equal not below", "100", CompareLess, 0, "150", "100", false},
		{"equal with lte", "100", CompareLessOrEqual, 0, "150", "100", true},
		{"above with gt", "100", CompareGreater, 0, "90", "120", true},
		{"savings too small", "100", CompareLess, 20, "95", "90", false},
		{"savings enough", "100", CompareLess, 20, "150", "90", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := newPriceRule(t, tt.target, tt.op, tt.minSavings)
			got := rule.PriceConditionMet(MustPrice(tt.oldPrice, "USD"), MustPrice(tt.newPrice, "USD"))
			assert.Equal(t, tt.want, got)
		})
	}

	rule := newPriceRule(t, "100", CompareLess, 0)
	assert.False(t, rule.PriceConditionMet(MustPrice("150", "EUR"), MustPrice("50", "EUR")))
}

func TestAlertRule_Matches(t *testing.T) {
	rule, err := NewAlertRule(AlertRuleParams{
		UserID:   "user-1",
		EventID:  "evt-1",
		Platform: PlatformStubHub,
		Kind:     AlertSoldOut,
	}, t0)
	require.NoError(t, err)

	assert.True(t, rule.Matches(AlertSoldOut, "evt-1", "tkt-1", PlatformStubHub))
	assert.False(t, rule.Matches(AlertSoldOut, "evt-1", "tkt-1", PlatformViagogo))
	assert.False(t, rule.Matches(AlertPriceThreshold, "evt-1", "tkt-1", PlatformStubHub))
	assert.False(t, rule.Matches(AlertSoldOut, "evt-2", "tkt-1", PlatformStubHub))

	rule.Deactivate(t0)
	assert.False(t, rule.Matches(AlertSoldOut, "evt-1", "tkt-1", PlatformStubHub))
}

func TestAlertRule_TriggerIsDeterministic(t *testing.T) {
	rule := newPriceRule(t, "100", CompareLess, 0)

	e1 := rule.Trigger(AlertTriggered{TicketID: "tkt-1", TriggeringEventID: "ev-9"}, t0)
	assert.Equal(t, TriggerEventID(rule.ID(), "ev-9"), e1.EventID)
	assert.Equal(t, 1, e1.Version)

	payload := e1.Payload.(AlertTriggered)
	assert.Equal(t, rule.ID(), payload.RuleID)
	assert.Equal(t, "user-1", payload.UserID)
	assert.Equal(t, AlertPriceThreshold, payload.Kind)

	assert.NotEqual(t, TriggerEventID(rule.ID(), "ev-10"), e1.EventID)
}
