// Package resolve decides which scoring configuration governs a session.
//
// Resolution walks an ordered list of strategies and stops at the first one
// that yields an id. The default order is
//
//	SessionStamp -> PatientPreference -> GlobalDefault -> AnyActive
//
// so a stamped session always gets its frozen configuration back, whatever
// happened to the patient's preference or the global default since.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mind-engage/rehabscore/internal/logger"
	"github.com/mind-engage/rehabscore/internal/scoring"
)

var (
	// ErrNoActiveConfiguration means no tier produced an id. Scoring cannot
	// proceed and the caller must surface it.
	ErrNoActiveConfiguration = errors.New("no active scoring configuration")
	// ErrAlreadyStamped is returned by a store when a stamp write found the
	// session already stamped. It is benign.
	ErrAlreadyStamped = errors.New("session scoring configuration already stamped")
)

// Store is the read side of the configuration store the resolver needs. A nil
// id with a nil error means "nothing at this tier". Unknown sessions and
// patients are nothing at their tier, not errors.
type Store interface {
	SessionConfig(ctx context.Context, sessionID string) (*string, error)
	PatientPreference(ctx context.Context, patientID string) (*string, error)
	GlobalDefaultID(ctx context.Context, name string) (*string, error)
	AnyActiveID(ctx context.Context) (*string, error)
}

// Request names what to resolve for. Either field may be empty.
type Request struct {
	SessionID string
	PatientID string
}

// Resolution is a resolved id plus the tier that produced it.
type Resolution struct {
	ConfigID string `json:"scoring_config_id"`
	Tier     Tier   `json:"tier"`
}

type Option func(*Resolver)

// WithTrialDefaultName sets the name the GlobalDefault tier looks for.
func WithTrialDefaultName(name string) Option {
	return func(r *Resolver) {
		if strings.TrimSpace(name) != "" {
			r.trialDefault = name
		}
	}
}

// WithStrategies replaces the tier list.
func WithStrategies(s ...Strategy) Option {
	return func(r *Resolver) { r.strategies = s }
}

func WithLogger(l *logger.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// Resolver is read-only and safe for concurrent use.
type Resolver struct {
	store        Store
	strategies   []Strategy
	trialDefault string
	log          *logger.Logger
}

func New(store Store, opts ...Option) *Resolver {
	r := &Resolver{store: store, trialDefault: scoring.DefaultTrialConfigName}
	for _, o := range opts {
		o(r)
	}
	if r.strategies == nil {
		r.strategies = DefaultStrategies(r.trialDefault)
	}
	if r.log == nil {
		r.log = logger.Nop()
	}
	r.log = r.log.With("service", "Resolver")
	return r
}

// Resolve returns the configuration id governing req.
func (r *Resolver) Resolve(ctx context.Context, req Request) (string, error) {
	res, err := r.Explain(ctx, req)
	if err != nil {
		return "", err
	}
	return res.ConfigID, nil
}

// Explain is Resolve plus the tier that matched.
func (r *Resolver) Explain(ctx context.Context, req Request) (Resolution, error) {
	for _, s := range r.strategies {
		id, ok, err := s.Lookup(ctx, r.store, req)
		if err != nil {
			return Resolution{}, fmt.Errorf("resolve: %s: %w", s.Tier(), err)
		}
		if ok {
			r.log.Debug("scoring config resolved",
				"session_id", req.SessionID, "patient_id", req.PatientID,
				"tier", s.Tier().String(), "config_id", id)
			return Resolution{ConfigID: id, Tier: s.Tier()}, nil
		}
	}
	return Resolution{}, ErrNoActiveConfiguration
}
