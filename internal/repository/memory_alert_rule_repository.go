package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/internal/eventstore"
)

// MemoryAlertRuleRepository implements AlertRuleRepository in process
type MemoryAlertRuleRepository struct {
	mu     sync.Mutex
	events eventstore.Store
	rules  map[domain.RuleID]domain.AlertRuleState
}

func NewMemoryAlertRuleRepository(events eventstore.Store) *MemoryAlertRuleRepository {
	return &MemoryAlertRuleRepository{
		events: events,
		rules:  make(map[domain.RuleID]domain.AlertRuleState),
	}
}

func (r *MemoryAlertRuleRepository) Create(ctx context.Context, rule *domain.AlertRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rules[rule.ID()]; exists {
		return domain.NewValidationError("id", "rule %s already exists", rule.ID())
	}
	r.rules[rule.ID()] = rule.State()
	return nil
}

func (r *MemoryAlertRuleRepository) Save(ctx context.Context, rule *domain.AlertRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.rules[rule.ID()]
	if !ok {
		return domain.ErrAlertRuleNotFound
	}
	if stored.Version != rule.ExpectedVersion() {
		return &domain.VersionConflictError{AggregateID: string(rule.ID()), Expected: rule.ExpectedVersion(), Actual: stored.Version}
	}
	if rule.HasPendingEvents() {
		if err := r.events.Append(ctx, string(rule.ID()), rule.ExpectedVersion(), rule.PendingEvents()); err != nil {
			return err
		}
	}
	rule.DrainEvents()
	r.rules[rule.ID()] = rule.State()
	return nil
}

func (r *MemoryAlertRuleRepository) FindByID(ctx context.Context, id domain.RuleID) (*domain.AlertRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.rules[id]
	if !ok {
		return nil, domain.ErrAlertRuleNotFound
	}
	return domain.RestoreAlertRule(state)
}

func (r *MemoryAlertRuleRepository) FindActiveByEvent(ctx context.Context, eventID domain.EventID, kind domain.AlertKind) ([]*domain.AlertRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var states []domain.AlertRuleState
	for _, s := range r.rules {
		if s.Active && s.EventID == eventID && s.Kind == kind {
			states = append(states, s)
		}
	}
	sort.Slice(states, func(i, j int) bool { return states[i].CreatedAt.Before(states[j].CreatedAt) })

	rules := make([]*domain.AlertRule, 0, len(states))
	for _, s := range states {
		rule, err := domain.RestoreAlertRule(s)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
