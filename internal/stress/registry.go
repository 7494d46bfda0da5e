package stress

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/risk-engine/internal/apperrors"
	"github.com/atmx/risk-engine/internal/model"
)

const entityScenario = "scenario"

// ScenarioRequest defines a new scenario. Active defaults to true.
type ScenarioRequest struct {
	ID              string             `json:"id,omitempty"`
	Name            string             `json:"name"`
	Description     string             `json:"description"`
	Type            model.ScenarioType `json:"type"`
	Severity        model.Severity     `json:"severity"`
	EquityShocks    model.ShockMap     `json:"equity_shocks,omitempty"`
	FXShocks        model.ShockMap     `json:"fx_shocks,omitempty"`
	RateShocks      model.ShockMap     `json:"ir_shocks,omitempty"`
	CreditShocks    model.ShockMap     `json:"credit_shocks,omitempty"`
	CommodityShocks model.ShockMap     `json:"commodity_shocks,omitempty"`
	VolShocks       model.ShockMap     `json:"vol_shocks,omitempty"`
	Active          *bool              `json:"active,omitempty"`
	EventStart      *time.Time         `json:"event_start,omitempty"`
	EventEnd        *time.Time         `json:"event_end,omitempty"`
}

// Registry holds scenario definitions. Definitions are immutable once
// created; only the active flag changes.
type Registry struct {
	mu        sync.RWMutex
	scenarios map[string]model.StressScenario
	order     []string
	now       func() time.Time
}

// NewRegistry creates a registry seeded with the built-in catalog, all
// active.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	r := &Registry{scenarios: make(map[string]model.StressScenario), now: now}
	for _, s := range Catalog() {
		s.Active = true
		s.CreatedAt = now()
		r.scenarios[s.ID] = s
		r.order = append(r.order, s.ID)
	}
	return r
}

var (
	validTypes = map[model.ScenarioType]bool{
		model.ScenarioHistorical: true, model.ScenarioHypothetical: true,
		model.ScenarioReverse: true, model.ScenarioSensitivity: true,
	}
	validSeverities = map[model.Severity]bool{
		model.SeverityMild: true, model.SeverityModerate: true,
		model.SeveritySevere: true, model.SeverityExtreme: true,
	}
)

// CreateScenario validates and registers a scenario.
func (r *Registry) CreateScenario(_ context.Context, req ScenarioRequest) (model.StressScenario, error) {
	id := req.ID
	if req.Name == "" {
		return model.StressScenario{}, apperrors.Validation(entityScenario, id, "name", "name is required")
	}
	if req.Type == "" {
		req.Type = model.ScenarioHypothetical
	}
	if !validTypes[req.Type] {
		return model.StressScenario{}, apperrors.Validation(entityScenario, id, "type", "unknown scenario type %q", req.Type)
	}
	if req.Severity == "" {
		req.Severity = model.SeverityModerate
	}
	if !validSeverities[req.Severity] {
		return model.StressScenario{}, apperrors.Validation(entityScenario, id, "severity", "unknown severity %q", req.Severity)
	}

	maps := map[string]model.ShockMap{
		"equity_shocks": req.EquityShocks, "fx_shocks": req.FXShocks, "ir_shocks": req.RateShocks,
		"credit_shocks": req.CreditShocks, "commodity_shocks": req.CommodityShocks, "vol_shocks": req.VolShocks,
	}
	total := 0
	for field, m := range maps {
		for k, v := range m {
			if k == "" {
				return model.StressScenario{}, apperrors.Validation(entityScenario, id, field, "shock key must not be empty")
			}
			if field != "ir_shocks" && field != "credit_shocks" && v.LessThanOrEqual(decimal.NewFromInt(-1)) {
				return model.StressScenario{}, apperrors.Validation(entityScenario, id, field, "relative shock %s for %q must be above -1", v, k)
			}
		}
		total += len(m)
	}
	if total == 0 {
		return model.StressScenario{}, apperrors.Validation(entityScenario, id, "shocks", "scenario defines no shocks")
	}
	if req.EventStart != nil && req.EventEnd != nil && req.EventEnd.Before(*req.EventStart) {
		return model.StressScenario{}, apperrors.Validation(entityScenario, id, "event_end", "event window ends before it starts")
	}

	if id == "" {
		id = uuid.New().String()
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	s := model.StressScenario{
		ID:              id,
		Name:            req.Name,
		Description:     req.Description,
		Type:            req.Type,
		Severity:        req.Severity,
		EquityShocks:    clone(req.EquityShocks),
		FXShocks:        clone(req.FXShocks),
		RateShocks:      clone(req.RateShocks),
		CreditShocks:    clone(req.CreditShocks),
		CommodityShocks: clone(req.CommodityShocks),
		VolShocks:       clone(req.VolShocks),
		Active:          active,
		EventStart:      req.EventStart,
		EventEnd:        req.EventEnd,
		CreatedAt:       r.now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.scenarios[id]; dup {
		return model.StressScenario{}, apperrors.Validation(entityScenario, id, "id", "scenario already exists")
	}
	r.scenarios[id] = s
	r.order = append(r.order, id)
	return s, nil
}

func clone(m model.ShockMap) model.ShockMap {
	if m == nil {
		return nil
	}
	out := make(model.ShockMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Scenario returns a scenario by id.
func (r *Registry) Scenario(id string) (model.StressScenario, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scenarios[id]
	if !ok {
		return model.StressScenario{}, apperrors.NotFound(entityScenario, id)
	}
	return s, nil
}

// activeScenario returns id if it exists and is active.
func (r *Registry) activeScenario(id string) (model.StressScenario, error) {
	s, err := r.Scenario(id)
	if err != nil {
		return s, err
	}
	if !s.Active {
		return model.StressScenario{}, apperrors.NotEligible(entityScenario, id, "active", "scenario is inactive")
	}
	return s, nil
}

// Scenarios lists scenarios in registration order.
func (r *Registry) Scenarios(activeOnly bool) []model.StressScenario {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.StressScenario, 0, len(r.order))
	for _, id := range r.order {
		s := r.scenarios[id]
		if activeOnly && !s.Active {
			continue
		}
		out = append(out, s)
	}
	return out
}

// SetActive toggles a scenario's eligibility for stress runs.
func (r *Registry) SetActive(_ context.Context, id string, active bool) (model.StressScenario, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scenarios[id]
	if !ok {
		return model.StressScenario{}, apperrors.NotFound(entityScenario, id)
	}
	s.Active = active
	r.scenarios[id] = s
	return s, nil
}
