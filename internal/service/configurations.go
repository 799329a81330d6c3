package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mind-engage/rehabscore/internal/audit"
	"github.com/mind-engage/rehabscore/internal/resolve"
	"github.com/mind-engage/rehabscore/internal/scoring"
	"github.com/mind-engage/rehabscore/internal/store"
)

// NewConfiguration is the input for CreateConfiguration. Sections left nil
// start from the trial defaults.
type NewConfiguration struct {
	Name        string              `json:"configuration_name"`
	Description string              `json:"description"`
	Weights     *scoring.Weights    `json:"weights,omitempty"`
	SubWeights  *scoring.SubWeights `json:"sub_weights,omitempty"`
	RPEMapping  scoring.RPEMapping  `json:"rpe_mapping,omitempty"`
	Global      bool                `json:"is_global"`
	Active      bool                `json:"active"`
}

func (s *Service) GetConfiguration(ctx context.Context, id string) (scoring.Configuration, error) {
	return s.store.GetConfiguration(ctx, id)
}

func (s *Service) ListConfigurations(ctx context.Context, opts store.ListConfigOpts) ([]scoring.Configuration, error) {
	return s.store.ListConfigurations(ctx, opts)
}

func (s *Service) CreateConfiguration(ctx context.Context, actor string, in NewConfiguration) (scoring.Configuration, error) {
	if strings.TrimSpace(in.Name) == "" {
		return scoring.Configuration{}, fmt.Errorf("%w: configuration name required", ErrInvalidArgument)
	}
	now := s.clock()
	c := scoring.Configuration{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Weights:     scoring.DefaultWeights(),
		SubWeights:  scoring.DefaultSubWeights(),
		RPEMapping:  scoring.DefaultRPEMapping(),
		Active:      in.Active,
		IsGlobal:    in.Global,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Weights != nil {
		c.Weights = *in.Weights
	}
	if in.SubWeights != nil {
		c.SubWeights = *in.SubWeights
	}
	if in.RPEMapping != nil {
		c.RPEMapping = in.RPEMapping.Clone()
	}
	if err := c.Validate(); err != nil {
		return scoring.Configuration{}, err
	}
	if c.IsGlobal && c.Active {
		if err := s.guardGlobalSwap(ctx, c.ID); err != nil {
			return scoring.Configuration{}, err
		}
	}
	e, err := audit.NewEntry(actor, audit.ActionConfigCreated, audit.EntityConfiguration, c.ID, nil, c)
	if err != nil {
		return scoring.Configuration{}, err
	}
	e.CreatedAt = now
	if err := s.store.CreateConfiguration(ctx, c, e); err != nil {
		return scoring.Configuration{}, err
	}
	s.log.Info("scoring configuration created", "config_id", c.ID, "name", c.Name, "global", c.IsGlobal, "actor", actor)
	return c, nil
}

// UpdateWeight sets one main weight and rebalances the other three so the
// total stays 1.0. The row is edited in place; sessions already stamped
// score against the snapshot taken at stamp time, so only future stamps see
// the change.
func (s *Service) UpdateWeight(ctx context.Context, actor, id string, component scoring.Component, value float64) (scoring.Configuration, error) {
	cur, err := s.store.GetConfiguration(ctx, id)
	if err != nil {
		return scoring.Configuration{}, err
	}
	w, err := scoring.Normalize(cur.Weights, component, value)
	if err != nil {
		return scoring.Configuration{}, err
	}
	next := cur
	next.Weights = w
	next.UpdatedAt = s.clock()
	if err := s.update(ctx, actor, audit.ActionWeightsUpdated, cur.Weights, next); err != nil {
		return scoring.Configuration{}, err
	}
	s.log.Info("scoring weights updated", "config_id", id, "component", string(component), "value", value, "actor", actor)
	return next, nil
}

// UpdateSubWeights replaces the compliance sub-weights. They are not
// rebalanced; a split that does not sum to 1.0 is rejected. Like every edit
// it reaches future stamps only.
func (s *Service) UpdateSubWeights(ctx context.Context, actor, id string, sw scoring.SubWeights) (scoring.Configuration, error) {
	if err := sw.Validate(); err != nil {
		return scoring.Configuration{}, err
	}
	cur, err := s.store.GetConfiguration(ctx, id)
	if err != nil {
		return scoring.Configuration{}, err
	}
	next := cur
	next.SubWeights = sw
	next.UpdatedAt = s.clock()
	if err := s.update(ctx, actor, audit.ActionSubWeightsUpdated, cur.SubWeights, next); err != nil {
		return scoring.Configuration{}, err
	}
	return next, nil
}

// UpdateRPEMapping replaces the RPE table for future stamps.
func (s *Service) UpdateRPEMapping(ctx context.Context, actor, id string, m scoring.RPEMapping) (scoring.Configuration, error) {
	if err := m.Validate(); err != nil {
		return scoring.Configuration{}, err
	}
	cur, err := s.store.GetConfiguration(ctx, id)
	if err != nil {
		return scoring.Configuration{}, err
	}
	next := cur
	next.RPEMapping = m.Clone()
	next.UpdatedAt = s.clock()
	if err := s.update(ctx, actor, audit.ActionRPEMappingUpdated, cur.RPEMapping, next); err != nil {
		return scoring.Configuration{}, err
	}
	return next, nil
}

func (s *Service) update(ctx context.Context, actor string, action audit.Action, before any, next scoring.Configuration) error {
	var after any
	switch action {
	case audit.ActionWeightsUpdated:
		after = next.Weights
	case audit.ActionSubWeightsUpdated:
		after = next.SubWeights
	case audit.ActionRPEMappingUpdated:
		after = next.RPEMapping
	default:
		after = next
	}
	e, err := audit.NewEntry(actor, action, audit.EntityConfiguration, next.ID, before, after)
	if err != nil {
		return err
	}
	e.CreatedAt = next.UpdatedAt
	return s.store.UpdateConfiguration(ctx, next, e)
}

// Activate turns a configuration on. A global configuration (or global=true)
// becomes the single active global default; every other global goes off.
func (s *Service) Activate(ctx context.Context, actor, id string, global bool) (scoring.Configuration, error) {
	cur, err := s.store.GetConfiguration(ctx, id)
	if err != nil {
		return scoring.Configuration{}, err
	}
	now := s.clock()
	e, err := audit.NewEntry(actor, audit.ActionConfigActivated, audit.EntityConfiguration, id,
		activation{Active: cur.Active, Global: cur.IsGlobal}, activation{Active: true, Global: global || cur.IsGlobal})
	if err != nil {
		return scoring.Configuration{}, err
	}
	e.CreatedAt = now

	if global || cur.IsGlobal {
		if err := s.guardGlobalSwap(ctx, id); err != nil {
			return scoring.Configuration{}, err
		}
		err = s.store.ActivateGlobal(ctx, id, now, e)
	} else {
		err = s.store.SetActive(ctx, id, true, now, e)
	}
	if err != nil {
		return scoring.Configuration{}, err
	}
	s.log.Info("scoring configuration activated", "config_id", id, "global", global || cur.IsGlobal, "actor", actor)
	return s.store.GetConfiguration(ctx, id)
}

// Deactivate turns a configuration off. Stamped sessions keep using it.
func (s *Service) Deactivate(ctx context.Context, actor, id string) (scoring.Configuration, error) {
	cur, err := s.store.GetConfiguration(ctx, id)
	if err != nil {
		return scoring.Configuration{}, err
	}
	if cur.Protected && s.trialActive {
		return scoring.Configuration{}, fmt.Errorf("%s: %w", cur.Name, ErrProtectedConfiguration)
	}
	now := s.clock()
	e, err := audit.NewEntry(actor, audit.ActionConfigDeactivated, audit.EntityConfiguration, id,
		activation{Active: cur.Active, Global: cur.IsGlobal}, activation{Active: false, Global: cur.IsGlobal})
	if err != nil {
		return scoring.Configuration{}, err
	}
	e.CreatedAt = now
	if err := s.store.SetActive(ctx, id, false, now, e); err != nil {
		return scoring.Configuration{}, err
	}
	s.log.Info("scoring configuration deactivated", "config_id", id, "actor", actor)
	return s.store.GetConfiguration(ctx, id)
}

type activation struct {
	Active bool `json:"active"`
	Global bool `json:"is_global"`
}

// guardGlobalSwap refuses to replace a protected global default while the
// trial runs.
func (s *Service) guardGlobalSwap(ctx context.Context, incoming string) error {
	if !s.trialActive {
		return nil
	}
	cur, err := s.store.GetGlobalDefault(ctx, s.trialDefault)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if cur.Protected && cur.ID != incoming {
		return fmt.Errorf("%s: %w", cur.Name, ErrProtectedConfiguration)
	}
	return nil
}

// SeedTrialDefault makes sure a global configuration named like c exists.
// An existing one is returned untouched, whatever c says; created reports
// whether c was written. The seeded default only goes active when no other
// global is active, so a default an admin switched to survives restarts.
func (s *Service) SeedTrialDefault(ctx context.Context, c scoring.Configuration) (cfg scoring.Configuration, created bool, err error) {
	if c.Name == "" {
		c.Name = s.trialDefault
	}
	all, err := s.store.ListConfigurations(ctx, store.ListConfigOpts{Limit: 500})
	if err != nil {
		return scoring.Configuration{}, false, err
	}
	otherActive := false
	for _, x := range all {
		if !x.IsGlobal {
			continue
		}
		if x.Name == c.Name {
			if !x.Active {
				s.log.Warn("trial default exists but is inactive", "config_id", x.ID, "name", x.Name)
			}
			return x, false, nil
		}
		otherActive = otherActive || x.Active
	}

	now := s.clock()
	c.ID = uuid.NewString()
	c.IsGlobal, c.Protected = true, true
	c.Active = !otherActive
	c.CreatedAt, c.UpdatedAt = now, now
	e, err := audit.NewEntry(SystemActor, audit.ActionConfigCreated, audit.EntityConfiguration, c.ID, nil, c)
	if err != nil {
		return scoring.Configuration{}, false, err
	}
	e.CreatedAt = now
	if err := s.store.CreateConfiguration(ctx, c, e); err != nil {
		return scoring.Configuration{}, false, err
	}
	s.log.Info("trial default seeded", "config_id", c.ID, "name", c.Name, "active", c.Active)
	return c, true, nil
}

// MapRPE looks rpe up in configID's table, or in the table of whatever
// configuration currently resolves as the default when configID is empty.
func (s *Service) MapRPE(ctx context.Context, configID string, rpe int) (scoring.RPEEntry, string, error) {
	if configID == "" {
		res, err := s.resolver.Explain(ctx, resolve.Request{})
		if err != nil {
			return scoring.RPEEntry{}, "", err
		}
		configID = res.ConfigID
	}
	c, err := s.store.GetConfiguration(ctx, configID)
	if err != nil {
		return scoring.RPEEntry{}, "", err
	}
	e, err := scoring.MapRPE(rpe, c.RPEMapping)
	if err != nil {
		return scoring.RPEEntry{}, "", err
	}
	return e, c.ID, nil
}
