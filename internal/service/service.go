// Package service ties the scoring pieces together: it stamps new sessions
// with their configuration, applies audited configuration edits, records BFR
// checks and computes session scores against the frozen configuration.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/mind-engage/rehabscore/internal/audit"
	"github.com/mind-engage/rehabscore/internal/logger"
	"github.com/mind-engage/rehabscore/internal/resolve"
	"github.com/mind-engage/rehabscore/internal/scoring"
	"github.com/mind-engage/rehabscore/internal/store"
)

var (
	// ErrProtectedConfiguration guards the trial default while the trial runs.
	ErrProtectedConfiguration = errors.New("configuration is protected while the trial is active")
	ErrSessionFinalized       = errors.New("session is finalized")
	ErrInactiveConfiguration  = errors.New("configuration is not active")
	ErrInvalidArgument        = errors.New("invalid argument")
)

// SystemActor is recorded on audit entries written at boot.
const SystemActor = "system"

// Store is everything the service persists through.
type Store interface {
	resolve.StampStore

	GetConfiguration(ctx context.Context, id string) (scoring.Configuration, error)
	GetGlobalDefault(ctx context.Context, name string) (scoring.Configuration, error)
	ListConfigurations(ctx context.Context, opts store.ListConfigOpts) ([]scoring.Configuration, error)
	CreateConfiguration(ctx context.Context, c scoring.Configuration, e audit.Entry) error
	UpdateConfiguration(ctx context.Context, c scoring.Configuration, e audit.Entry) error
	ActivateGlobal(ctx context.Context, id string, at time.Time, e audit.Entry) error
	SetActive(ctx context.Context, id string, active bool, at time.Time, e audit.Entry) error

	CreatePatient(ctx context.Context, p store.Patient) error
	GetPatient(ctx context.Context, id string) (store.Patient, error)
	SetPatientPreference(ctx context.Context, patientID string, configID *string, actor string, at time.Time, e audit.Entry) error

	CreateSession(ctx context.Context, s store.Session) error
	GetSession(ctx context.Context, id string) (store.Session, error)
	FinalizeSession(ctx context.Context, id string, at time.Time) (store.Session, error)

	SaveBFR(ctx context.Context, sessionID string, results []scoring.BFRResult, at time.Time) error
	ListBFR(ctx context.Context, sessionID string) ([]scoring.BFRResult, error)
	// SaveScore records e, when non-nil, in the same transaction.
	SaveScore(ctx context.Context, p scoring.PerformanceScore, e *audit.Entry) error
	GetScore(ctx context.Context, sessionID string) (scoring.PerformanceScore, error)

	ListAudit(ctx context.Context, opts audit.ListOpts) ([]audit.Entry, error)
}

type Option func(*Service)

func WithLogger(l *logger.Logger) Option { return func(s *Service) { s.log = l } }

// WithTrialDefault sets the global default's name and whether the trial is
// running (which protects that default).
func WithTrialDefault(name string, trialActive bool) Option {
	return func(s *Service) {
		if name != "" {
			s.trialDefault = name
		}
		s.trialActive = trialActive
	}
}

func WithSafetyChecker(c scoring.SafetyChecker) Option {
	return func(s *Service) { s.bfr = c }
}

func WithAggregator(a *scoring.Aggregator) Option {
	return func(s *Service) { s.agg = a }
}

// WithResolveStore routes resolver reads and stamp writes through rs, e.g. a
// cache in front of the main store.
func WithResolveStore(rs resolve.StampStore) Option {
	return func(s *Service) { s.resolveStore = rs }
}

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

type Service struct {
	store        Store
	resolveStore resolve.StampStore
	resolver     *resolve.Resolver
	stamper      *resolve.Stamper
	agg          *scoring.Aggregator
	bfr          scoring.SafetyChecker
	trialDefault string
	trialActive  bool
	now          func() time.Time
	log          *logger.Logger
}

func New(st Store, opts ...Option) *Service {
	s := &Service{
		store:        st,
		trialDefault: scoring.DefaultTrialConfigName,
		trialActive:  true,
		bfr:          scoring.NewSafetyChecker(scoring.DefaultTargetAOP, scoring.DefaultToleranceAOP),
		now:          time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	s.log = s.log.With("service", "ScoringService")
	if s.agg == nil {
		s.agg = scoring.NewAggregator()
	}
	if s.resolveStore == nil {
		s.resolveStore = st
	}
	s.resolver = resolve.New(s.resolveStore,
		resolve.WithTrialDefaultName(s.trialDefault),
		resolve.WithLogger(s.log))
	s.stamper = resolve.NewStamper(s.resolver, s.resolveStore)
	return s
}

func (s *Service) Resolver() *resolve.Resolver { return s.resolver }

// TrialDefaultName is the name the global-default tier resolves.
func (s *Service) TrialDefaultName() string { return s.trialDefault }

// clock returns now truncated to what the stores keep.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *Service) ListAudit(ctx context.Context, opts audit.ListOpts) ([]audit.Entry, error) {
	return s.store.ListAudit(ctx, opts)
}
