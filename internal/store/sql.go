package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mind-engage/rehabscore/internal/audit"
	"github.com/mind-engage/rehabscore/internal/db"
	"github.com/mind-engage/rehabscore/internal/logger"
	"github.com/mind-engage/rehabscore/internal/resolve"
	"github.com/mind-engage/rehabscore/internal/scoring"
)

type SQLStore struct {
	db       *sql.DB
	log      *logger.Logger
	recorder func(audit.DBTX) audit.Recorder
}

type SQLOption func(*SQLStore)

// WithRecorder replaces the audit recorder built for each transaction.
func WithRecorder(fn func(audit.DBTX) audit.Recorder) SQLOption {
	return func(s *SQLStore) { s.recorder = fn }
}

func NewSQLStore(sqlDB *sql.DB, log *logger.Logger, opts ...SQLOption) *SQLStore {
	if log == nil {
		log = logger.Nop()
	}
	s := &SQLStore{
		db:       sqlDB,
		log:      log.With("service", "SQLStore"),
		recorder: func(x audit.DBTX) audit.Recorder { return audit.NewSQLRecorder(x) },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

/* ---------------- resolver reads ---------------- */

// SessionConfig returns nil for unknown sessions so the resolver falls
// through to the patient tier.
func (s *SQLStore) SessionConfig(ctx context.Context, sessionID string) (*string, error) {
	var id sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT scoring_config_id FROM therapy_sessions WHERE id=$1`, sessionID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return nullString(id), nil
}

// PatientPreference returns nil for unknown patients; they have no preference.
func (s *SQLStore) PatientPreference(ctx context.Context, patientID string) (*string, error) {
	var id sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT current_scoring_config_id FROM patients WHERE id=$1`, patientID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return nullString(id), nil
}

func (s *SQLStore) GlobalDefaultID(ctx context.Context, name string) (*string, error) {
	return s.oneID(ctx,
		`SELECT id FROM scoring_configurations WHERE is_global AND active AND name=$1 LIMIT 1`, name)
}

// AnyActiveID prefers a global configuration, then the most recently updated.
func (s *SQLStore) AnyActiveID(ctx context.Context) (*string, error) {
	return s.oneID(ctx,
		`SELECT id FROM scoring_configurations WHERE active ORDER BY is_global DESC, updated_at DESC, id LIMIT 1`)
}

func (s *SQLStore) oneID(ctx context.Context, q string, args ...any) (*string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// StampSessionConfig writes configID, together with a snapshot of that
// configuration, only while the session is unstamped.
func (s *SQLStore) StampSessionConfig(ctx context.Context, sessionID, configID string) (string, error) {
	var (
		cur sql.NullString
		won bool
	)
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		c, err := scanConfig(tx.QueryRowContext(ctx,
			`SELECT `+configColumns+` FROM scoring_configurations WHERE id=$1`, configID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("configuration %s: %w", configID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		snap, err := json.Marshal(c)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE therapy_sessions SET scoring_config_id=$1, config_snapshot_json=$2
			 WHERE id=$3 AND scoring_config_id IS NULL`,
			configID, string(snap), sessionID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			won = true
			return nil
		}
		err = tx.QueryRowContext(ctx,
			`SELECT scoring_config_id FROM therapy_sessions WHERE id=$1`, sessionID).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return err
	})
	if err != nil {
		return "", mapConstraint(err)
	}
	if won {
		return configID, nil
	}
	if !cur.Valid {
		return "", fmt.Errorf("session %s: stamp not applied", sessionID)
	}
	s.log.Debug("session already stamped", "session_id", sessionID, "config_id", cur.String)
	return cur.String, resolve.ErrAlreadyStamped
}

/* ---------------- configurations ---------------- */

const configColumns = `id, name, description, weight_compliance, weight_symmetry, weight_effort, weight_game,
	sub_completion, sub_intensity, sub_duration, rpe_mapping_json, active, is_global, protected, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(r rowScanner) (scoring.Configuration, error) {
	var (
		c                scoring.Configuration
		rpeJSON          string
		created, updated int64
	)
	err := r.Scan(&c.ID, &c.Name, &c.Description,
		&c.Weights.Compliance, &c.Weights.Symmetry, &c.Weights.Effort, &c.Weights.Game,
		&c.SubWeights.Completion, &c.SubWeights.Intensity, &c.SubWeights.Duration,
		&rpeJSON, &c.Active, &c.IsGlobal, &c.Protected, &created, &updated)
	if err != nil {
		return scoring.Configuration{}, err
	}
	if err := json.Unmarshal([]byte(rpeJSON), &c.RPEMapping); err != nil {
		return scoring.Configuration{}, fmt.Errorf("configuration %s: rpe mapping: %w", c.ID, err)
	}
	c.CreatedAt = time.UnixMilli(created).UTC()
	c.UpdatedAt = time.UnixMilli(updated).UTC()
	return c, nil
}

func (s *SQLStore) GetConfiguration(ctx context.Context, id string) (scoring.Configuration, error) {
	c, err := scanConfig(s.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM scoring_configurations WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return scoring.Configuration{}, fmt.Errorf("configuration %s: %w", id, ErrNotFound)
	}
	return c, err
}

func (s *SQLStore) GetGlobalDefault(ctx context.Context, name string) (scoring.Configuration, error) {
	id, err := s.GlobalDefaultID(ctx, name)
	if err != nil {
		return scoring.Configuration{}, err
	}
	if id == nil {
		return scoring.Configuration{}, fmt.Errorf("global default %q: %w", name, ErrNotFound)
	}
	return s.GetConfiguration(ctx, *id)
}

func (s *SQLStore) AnyActive(ctx context.Context) (scoring.Configuration, error) {
	id, err := s.AnyActiveID(ctx)
	if err != nil {
		return scoring.Configuration{}, err
	}
	if id == nil {
		return scoring.Configuration{}, fmt.Errorf("active configuration: %w", ErrNotFound)
	}
	return s.GetConfiguration(ctx, *id)
}

func (s *SQLStore) ListConfigurations(ctx context.Context, opts ListConfigOpts) ([]scoring.Configuration, error) {
	q := `SELECT ` + configColumns + ` FROM scoring_configurations`
	if opts.ActiveOnly {
		q += ` WHERE active`
	}
	q += ` ORDER BY is_global DESC, name, id LIMIT $1 OFFSET $2`
	rows, err := s.db.QueryContext(ctx, q, opts.limit(), opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []scoring.Configuration{}
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateConfiguration inserts c and its audit entry. A global configuration
// that is created active goes through the same single-default rule as
// ActivateGlobal.
func (s *SQLStore) CreateConfiguration(ctx context.Context, c scoring.Configuration, e audit.Entry) error {
	if err := c.Validate(); err != nil {
		return err
	}
	rpeJSON, err := json.Marshal(c.RPEMapping)
	if err != nil {
		return err
	}
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if c.IsGlobal && c.Active {
			if _, err := tx.ExecContext(ctx,
				`UPDATE scoring_configurations SET active=$1, updated_at=$2 WHERE is_global AND active`,
				false, c.UpdatedAt.UnixMilli()); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scoring_configurations (`+configColumns+`)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			c.ID, c.Name, c.Description,
			c.Weights.Compliance, c.Weights.Symmetry, c.Weights.Effort, c.Weights.Game,
			c.SubWeights.Completion, c.SubWeights.Intensity, c.SubWeights.Duration,
			string(rpeJSON), c.Active, c.IsGlobal, c.Protected,
			c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli()); err != nil {
			return err
		}
		return s.recorder(tx).Record(ctx, e)
	})
	return mapConstraint(err)
}

// UpdateConfiguration rewrites the editable fields of c (last writer wins)
// and records e in the same transaction. Weight invariants are checked here
// so nothing invalid reaches the table.
func (s *SQLStore) UpdateConfiguration(ctx context.Context, c scoring.Configuration, e audit.Entry) error {
	if err := c.Validate(); err != nil {
		return err
	}
	rpeJSON, err := json.Marshal(c.RPEMapping)
	if err != nil {
		return err
	}
	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE scoring_configurations SET name=$1, description=$2,
			   weight_compliance=$3, weight_symmetry=$4, weight_effort=$5, weight_game=$6,
			   sub_completion=$7, sub_intensity=$8, sub_duration=$9, rpe_mapping_json=$10, updated_at=$11
			 WHERE id=$12`,
			c.Name, c.Description,
			c.Weights.Compliance, c.Weights.Symmetry, c.Weights.Effort, c.Weights.Game,
			c.SubWeights.Completion, c.SubWeights.Intensity, c.SubWeights.Duration,
			string(rpeJSON), c.UpdatedAt.UnixMilli(), c.ID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("configuration %s: %w", c.ID, ErrNotFound)
		}
		return s.recorder(tx).Record(ctx, e)
	})
	return mapConstraint(err)
}

// ActivateGlobal makes id the single active global configuration.
func (s *SQLStore) ActivateGlobal(ctx context.Context, id string, at time.Time, e audit.Entry) error {
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE scoring_configurations SET active=$1, updated_at=$2 WHERE is_global AND active AND id<>$3`,
			false, at.UnixMilli(), id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE scoring_configurations SET active=$1, is_global=$2, updated_at=$3 WHERE id=$4`,
			true, true, at.UnixMilli(), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("configuration %s: %w", id, ErrNotFound)
		}
		return s.recorder(tx).Record(ctx, e)
	})
	return mapConstraint(err)
}

// SetActive flips the active flag without touching other rows. Activating a
// global configuration must go through ActivateGlobal.
func (s *SQLStore) SetActive(ctx context.Context, id string, active bool, at time.Time, e audit.Entry) error {
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE scoring_configurations SET active=$1, updated_at=$2 WHERE id=$3`,
			active, at.UnixMilli(), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("configuration %s: %w", id, ErrNotFound)
		}
		return s.recorder(tx).Record(ctx, e)
	})
	return mapConstraint(err)
}

/* ---------------- patients ---------------- */

func (s *SQLStore) CreatePatient(ctx context.Context, p Patient) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO patients (id, code, current_scoring_config_id, scoring_config_updated_at, scoring_config_updated_by)
		 VALUES ($1,$2,$3,$4,$5)`,
		p.ID, p.Code, deref(p.CurrentScoringConfigID), unixMilliPtr(p.ScoringConfigUpdatedAt), p.ScoringConfigUpdatedBy)
	return mapConstraint(err)
}

func (s *SQLStore) GetPatient(ctx context.Context, id string) (Patient, error) {
	var (
		p       Patient
		pref    sql.NullString
		updated sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, code, current_scoring_config_id, scoring_config_updated_at, scoring_config_updated_by
		 FROM patients WHERE id=$1`, id).
		Scan(&p.ID, &p.Code, &pref, &updated, &p.ScoringConfigUpdatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return Patient{}, fmt.Errorf("patient %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Patient{}, err
	}
	p.CurrentScoringConfigID = nullString(pref)
	p.ScoringConfigUpdatedAt = nullTime(updated)
	return p, nil
}

// SetPatientPreference sets (or clears, with nil) the patient's preferred
// configuration. Sessions already stamped are unaffected.
func (s *SQLStore) SetPatientPreference(ctx context.Context, patientID string, configID *string, actor string, at time.Time, e audit.Entry) error {
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE patients SET current_scoring_config_id=$1, scoring_config_updated_at=$2, scoring_config_updated_by=$3
			 WHERE id=$4`,
			deref(configID), at.UnixMilli(), actor, patientID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("patient %s: %w", patientID, ErrNotFound)
		}
		return s.recorder(tx).Record(ctx, e)
	})
	return mapConstraint(err)
}

/* ---------------- sessions ---------------- */

func (s *SQLStore) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO therapy_sessions (id, patient_id, scoring_config_id, status, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		sess.ID, sess.PatientID, deref(sess.ScoringConfigID), string(SessionOpen), sess.CreatedAt.UnixMilli())
	return mapConstraint(err)
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (Session, error) {
	var (
		sess      Session
		cfg, snap sql.NullString
		status    string
		created   int64
		finalized sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, patient_id, scoring_config_id, config_snapshot_json, status, created_at, finalized_at
		 FROM therapy_sessions WHERE id=$1`, id).
		Scan(&sess.ID, &sess.PatientID, &cfg, &snap, &status, &created, &finalized)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Session{}, err
	}
	sess.ScoringConfigID = nullString(cfg)
	if snap.Valid && snap.String != "" {
		var c scoring.Configuration
		if err := json.Unmarshal([]byte(snap.String), &c); err != nil {
			return Session{}, fmt.Errorf("session %s: config snapshot: %w", id, err)
		}
		sess.ConfigSnapshot = &c
	}
	sess.Status = SessionStatus(status)
	sess.CreatedAt = time.UnixMilli(created).UTC()
	sess.FinalizedAt = nullTime(finalized)
	return sess, nil
}

// FinalizeSession closes a session. Finalizing twice keeps the first time.
func (s *SQLStore) FinalizeSession(ctx context.Context, id string, at time.Time) (Session, error) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE therapy_sessions SET status=$1, finalized_at=$2 WHERE id=$3 AND status=$4`,
		string(SessionFinalized), at.UnixMilli(), id, string(SessionOpen)); err != nil {
		return Session{}, err
	}
	return s.GetSession(ctx, id)
}

/* ---------------- BFR ---------------- */

// SaveBFR replaces the stored readings for the channels in results.
func (s *SQLStore) SaveBFR(ctx context.Context, sessionID string, results []scoring.BFRResult, at time.Time) error {
	return mapConstraint(db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, r := range results {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO bfr_monitoring (session_id, channel, measurement_method, target_pressure_aop,
				   actual_pressure_aop, manual_attestation, safety_compliant, reason, recorded_at)
				 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
				 ON CONFLICT (session_id, channel) DO UPDATE SET
				   measurement_method=EXCLUDED.measurement_method, target_pressure_aop=EXCLUDED.target_pressure_aop,
				   actual_pressure_aop=EXCLUDED.actual_pressure_aop, manual_attestation=EXCLUDED.manual_attestation,
				   safety_compliant=EXCLUDED.safety_compliant, reason=EXCLUDED.reason, recorded_at=EXCLUDED.recorded_at`,
				sessionID, string(r.Channel), string(r.MeasurementMethod), deref(r.TargetPressureAOP),
				deref(r.ActualPressureAOP), deref(r.ManualAttestation), r.SafetyCompliant, r.Reason, at.UnixMilli()); err != nil {
				return err
			}
		}
		return nil
	}))
}

func (s *SQLStore) ListBFR(ctx context.Context, sessionID string) ([]scoring.BFRResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel, measurement_method, target_pressure_aop, actual_pressure_aop, manual_attestation,
		   safety_compliant, reason
		 FROM bfr_monitoring WHERE session_id=$1 ORDER BY channel`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []scoring.BFRResult{}
	for rows.Next() {
		var (
			r              scoring.BFRResult
			channel, meth  string
			target, actual sql.NullFloat64
			attest         sql.NullBool
		)
		if err := rows.Scan(&channel, &meth, &target, &actual, &attest, &r.SafetyCompliant, &r.Reason); err != nil {
			return nil, err
		}
		r.Channel = scoring.Channel(channel)
		r.MeasurementMethod = scoring.MeasurementMethod(meth)
		r.TargetPressureAOP = nullFloat(target)
		r.ActualPressureAOP = nullFloat(actual)
		if attest.Valid {
			v := attest.Bool
			r.ManualAttestation = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

/* ---------------- scores ---------------- */

type channelsJSON struct {
	Left  scoring.ChannelScore `json:"left"`
	Right scoring.ChannelScore `json:"right"`
}

// SaveScore upserts the score for its session. A non-nil e is recorded in
// the same transaction.
func (s *SQLStore) SaveScore(ctx context.Context, p scoring.PerformanceScore, e *audit.Entry) error {
	ch, err := json.Marshal(channelsJSON{Left: p.Left, Right: p.Right})
	if err != nil {
		return err
	}
	return mapConstraint(db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := upsertScore(ctx, tx, p, string(ch)); err != nil {
			return err
		}
		if e == nil {
			return nil
		}
		return s.recorder(tx).Record(ctx, *e)
	}))
}

func upsertScore(ctx context.Context, tx *sql.Tx, p scoring.PerformanceScore, channels string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO performance_scores (session_id, scoring_config_id, overall_score, compliance_score,
		   symmetry_score, effort_score, game_score, game_score_present, channels_json, rpe_post_session,
		   bfr_compliant, computed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		 ON CONFLICT (session_id) DO UPDATE SET
		   scoring_config_id=EXCLUDED.scoring_config_id, overall_score=EXCLUDED.overall_score,
		   compliance_score=EXCLUDED.compliance_score, symmetry_score=EXCLUDED.symmetry_score,
		   effort_score=EXCLUDED.effort_score, game_score=EXCLUDED.game_score,
		   game_score_present=EXCLUDED.game_score_present, channels_json=EXCLUDED.channels_json,
		   rpe_post_session=EXCLUDED.rpe_post_session, bfr_compliant=EXCLUDED.bfr_compliant,
		   computed_at=EXCLUDED.computed_at`,
		p.SessionID, p.ScoringConfigID, p.OverallScore, p.ComplianceScore,
		p.SymmetryScore, p.EffortScore, p.GameScore, p.GameScorePresent, channels, deref(p.RPEPostSession),
		deref(p.BFRCompliant), p.ComputedAt.UnixMilli())
	return err
}

func (s *SQLStore) GetScore(ctx context.Context, sessionID string) (scoring.PerformanceScore, error) {
	var (
		p        scoring.PerformanceScore
		ch       string
		rpe      sql.NullInt64
		bfr      sql.NullBool
		computed int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, scoring_config_id, overall_score, compliance_score, symmetry_score, effort_score,
		   game_score, game_score_present, channels_json, rpe_post_session, bfr_compliant, computed_at
		 FROM performance_scores WHERE session_id=$1`, sessionID).
		Scan(&p.SessionID, &p.ScoringConfigID, &p.OverallScore, &p.ComplianceScore, &p.SymmetryScore,
			&p.EffortScore, &p.GameScore, &p.GameScorePresent, &ch, &rpe, &bfr, &computed)
	if errors.Is(err, sql.ErrNoRows) {
		return scoring.PerformanceScore{}, fmt.Errorf("score for session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return scoring.PerformanceScore{}, err
	}
	var c channelsJSON
	if err := json.Unmarshal([]byte(ch), &c); err != nil {
		return scoring.PerformanceScore{}, err
	}
	p.Left, p.Right = c.Left, c.Right
	if rpe.Valid {
		v := int(rpe.Int64)
		p.RPEPostSession = &v
	}
	if bfr.Valid {
		v := bfr.Bool
		p.BFRCompliant = &v
	}
	p.ComputedAt = time.UnixMilli(computed).UTC()
	return p, nil
}

/* ---------------- audit ---------------- */

func (s *SQLStore) ListAudit(ctx context.Context, opts audit.ListOpts) ([]audit.Entry, error) {
	return audit.NewSQLRecorder(s.db).List(ctx, opts)
}

/* ---------------- helpers ---------------- */

func mapConstraint(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrConflict)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrNotFound)
		}
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		code, msg := sqErr.Code(), sqErr.Error()
		switch {
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY,
			code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(msg, "UNIQUE"):
			return fmt.Errorf("%s: %w", msg, ErrConflict)
		case code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY,
			code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(msg, "FOREIGN KEY"):
			return fmt.Errorf("%s: %w", msg, ErrNotFound)
		}
	}
	return err
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

// deref turns a nil pointer into a SQL NULL argument.
func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func unixMilliPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
