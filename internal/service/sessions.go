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

func (s *Service) CreatePatient(ctx context.Context, code string) (store.Patient, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return store.Patient{}, fmt.Errorf("%w: patient code required", ErrInvalidArgument)
	}
	p := store.Patient{ID: uuid.NewString(), Code: code}
	if err := s.store.CreatePatient(ctx, p); err != nil {
		return store.Patient{}, err
	}
	return p, nil
}

func (s *Service) GetPatient(ctx context.Context, id string) (store.Patient, error) {
	return s.store.GetPatient(ctx, id)
}

// SetPatientPreference points the patient at configID (nil clears it). Only
// sessions created afterwards pick it up.
func (s *Service) SetPatientPreference(ctx context.Context, actor, patientID string, configID *string) (store.Patient, error) {
	p, err := s.store.GetPatient(ctx, patientID)
	if err != nil {
		return store.Patient{}, err
	}
	if configID != nil {
		c, err := s.store.GetConfiguration(ctx, *configID)
		if err != nil {
			return store.Patient{}, err
		}
		if !c.Active {
			return store.Patient{}, fmt.Errorf("%s: %w", c.ID, ErrInactiveConfiguration)
		}
	}
	now := s.clock()
	e, err := audit.NewEntry(actor, audit.ActionPreferenceChanged, audit.EntityPatient, patientID,
		preference{p.CurrentScoringConfigID}, preference{configID})
	if err != nil {
		return store.Patient{}, err
	}
	e.CreatedAt = now
	if err := s.store.SetPatientPreference(ctx, patientID, configID, actor, now, e); err != nil {
		return store.Patient{}, err
	}
	s.log.Info("patient scoring preference changed", "patient_id", patientID, "actor", actor)
	return s.store.GetPatient(ctx, patientID)
}

type preference struct {
	ConfigID *string `json:"current_scoring_config_id"`
}

// CreateSession opens a therapy session and stamps it with the configuration
// that governs it for good. Nothing is written when no configuration is
// active.
func (s *Service) CreateSession(ctx context.Context, patientID string) (store.Session, resolve.Resolution, error) {
	if _, err := s.store.GetPatient(ctx, patientID); err != nil {
		return store.Session{}, resolve.Resolution{}, err
	}
	if _, err := s.resolver.Explain(ctx, resolve.Request{PatientID: patientID}); err != nil {
		return store.Session{}, resolve.Resolution{}, err
	}
	sess := store.Session{
		ID:        uuid.NewString(),
		PatientID: patientID,
		Status:    store.SessionOpen,
		CreatedAt: s.clock(),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return store.Session{}, resolve.Resolution{}, err
	}
	res, err := s.stamper.Stamp(ctx, sess.ID, patientID)
	if err != nil {
		// left unstamped; scoring stamps it on first use
		s.log.Warn("session stamp failed", "session_id", sess.ID, "err", err)
		return sess, resolve.Resolution{}, err
	}
	id := res.ConfigID
	sess.ScoringConfigID = &id
	s.log.Info("session stamped", "session_id", sess.ID, "patient_id", patientID,
		"config_id", res.ConfigID, "tier", res.Tier.String())
	return sess, res, nil
}

func (s *Service) GetSession(ctx context.Context, id string) (store.Session, error) {
	return s.store.GetSession(ctx, id)
}

// SessionConfiguration resolves the configuration governing a session and
// the tier it came from. A stamped session reports its snapshot, which is
// what it scores against.
func (s *Service) SessionConfiguration(ctx context.Context, sessionID string) (resolve.Resolution, scoring.Configuration, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return resolve.Resolution{}, scoring.Configuration{}, err
	}
	res, err := s.resolver.Explain(ctx, resolve.Request{SessionID: sess.ID, PatientID: sess.PatientID})
	if err != nil {
		return resolve.Resolution{}, scoring.Configuration{}, err
	}
	if res.Tier == resolve.TierSessionStamp {
		c, err := s.stampedConfiguration(ctx, sess, res.ConfigID)
		return res, c, err
	}
	c, err := s.store.GetConfiguration(ctx, res.ConfigID)
	if err != nil {
		return resolve.Resolution{}, scoring.Configuration{}, err
	}
	return res, c, nil
}

// stampedConfiguration returns the snapshot taken when sess was stamped with
// configID, re-reading the session when the stamp happened after sess was
// loaded.
func (s *Service) stampedConfiguration(ctx context.Context, sess store.Session, configID string) (scoring.Configuration, error) {
	if sess.ConfigSnapshot == nil {
		fresh, err := s.store.GetSession(ctx, sess.ID)
		if err != nil {
			return scoring.Configuration{}, err
		}
		sess = fresh
	}
	if sess.ConfigSnapshot != nil && sess.ConfigSnapshot.ID == configID {
		return *sess.ConfigSnapshot, nil
	}
	s.log.Warn("stamped session has no configuration snapshot", "session_id", sess.ID, "config_id", configID)
	return s.store.GetConfiguration(ctx, configID)
}

// RecordBFR checks each channel's cuff reading and stores the results.
func (s *Service) RecordBFR(ctx context.Context, sessionID string, readings []scoring.BFRReading) ([]scoring.BFRResult, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == store.SessionFinalized {
		return nil, ErrSessionFinalized
	}
	results, err := s.bfr.CheckSession(readings)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveBFR(ctx, sessionID, results, s.clock()); err != nil {
		return nil, err
	}
	for _, r := range results {
		if !r.SafetyCompliant {
			s.log.Warn("bfr safety check failed", "session_id", sessionID,
				"channel", string(r.Channel), "reason", r.Reason)
		}
	}
	return results, nil
}

func (s *Service) ListBFR(ctx context.Context, sessionID string) ([]scoring.BFRResult, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListBFR(ctx, sessionID)
}

// ScoreRequest carries the analytics for one session. Either rates or counts
// may be given per channel; counts win when both are present.
type ScoreRequest struct {
	SessionID   string                     `json:"-"`
	Left        scoring.ChannelRates       `json:"left"`
	Right       scoring.ChannelRates       `json:"right"`
	LeftCounts  *scoring.ContractionCounts `json:"left_counts,omitempty"`
	RightCounts *scoring.ContractionCounts `json:"right_counts,omitempty"`
	RPE         *int                       `json:"rpe_post_session,omitempty"`
	GameScore   *float64                   `json:"game_score,omitempty"`
	// Force recomputes a finalized session. Every forced recompute is
	// audited against Actor.
	Force bool   `json:"force,omitempty"`
	Actor string `json:"-"`
}

// ScoreSession computes and stores the session's performance score against
// the configuration snapshot taken when it was stamped, so edits made to
// that configuration afterwards do not move the score. A session that
// somehow missed its stamp is stamped now. Missing RPE scores effort as 0.
func (s *Service) ScoreSession(ctx context.Context, req ScoreRequest) (scoring.PerformanceScore, error) {
	sess, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return scoring.PerformanceScore{}, err
	}
	if sess.Status == store.SessionFinalized && !req.Force {
		return scoring.PerformanceScore{}, ErrSessionFinalized
	}
	res, err := s.stamper.Stamp(ctx, sess.ID, sess.PatientID)
	if err != nil {
		return scoring.PerformanceScore{}, err
	}
	cfg, err := s.stampedConfiguration(ctx, sess, res.ConfigID)
	if err != nil {
		return scoring.PerformanceScore{}, err
	}

	in := scoring.Input{
		SessionID: sess.ID,
		Left:      req.Left,
		Right:     req.Right,
		RPE:       req.RPE,
		GameScore: req.GameScore,
	}
	if req.LeftCounts != nil {
		in.Left = scoring.RatesFromCounts(*req.LeftCounts)
	}
	if req.RightCounts != nil {
		in.Right = scoring.RatesFromCounts(*req.RightCounts)
	}
	if req.RPE != nil {
		entry, err := scoring.MapRPE(*req.RPE, cfg.RPEMapping)
		if err != nil {
			return scoring.PerformanceScore{}, err
		}
		in.EffortScore = entry.Score
	}
	if in.BFR, err = s.store.ListBFR(ctx, sess.ID); err != nil {
		return scoring.PerformanceScore{}, err
	}

	score, err := s.agg.Aggregate(cfg, in)
	if err != nil {
		return scoring.PerformanceScore{}, err
	}
	score.ComputedAt = s.clock()
	var e *audit.Entry
	if req.Force {
		if e, err = s.rescoreEntry(ctx, req.Actor, score); err != nil {
			return scoring.PerformanceScore{}, err
		}
	}
	if err := s.store.SaveScore(ctx, score, e); err != nil {
		return scoring.PerformanceScore{}, err
	}
	s.log.Info("session scored", "session_id", sess.ID, "config_id", cfg.ID,
		"overall", score.OverallScore, "forced", req.Force)
	return score, nil
}

func (s *Service) rescoreEntry(ctx context.Context, actor string, next scoring.PerformanceScore) (*audit.Entry, error) {
	var before any
	prev, err := s.store.GetScore(ctx, next.SessionID)
	switch {
	case err == nil:
		before = prev
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}
	if actor == "" {
		actor = SystemActor
	}
	e, err := audit.NewEntry(actor, audit.ActionSessionRescored, audit.EntitySession, next.SessionID, before, next)
	if err != nil {
		return nil, err
	}
	e.CreatedAt = next.ComputedAt
	return &e, nil
}

func (s *Service) GetScore(ctx context.Context, sessionID string) (scoring.PerformanceScore, error) {
	return s.store.GetScore(ctx, sessionID)
}

// FinalizeSession closes the session. Its stamp and score are final from
// here on unless an admin forces a recompute.
func (s *Service) FinalizeSession(ctx context.Context, sessionID string) (store.Session, error) {
	sess, err := s.store.FinalizeSession(ctx, sessionID, s.clock())
	if err != nil {
		return store.Session{}, err
	}
	s.log.Info("session finalized", "session_id", sessionID)
	return sess, nil
}
