package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ParseDriver maps DB_DRIVER values and common aliases to a Driver.
func ParseDriver(s string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "postgres", "pg", "pgx", "pgsql":
		return DriverPostgres, nil
	}
	return "", fmt.Errorf("unsupported driver: %s", s)
}

// Open opens a DB, tunes the pool and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:rehabscore.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/rehabscore?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	tunePool(driver, db)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	if driver == DriverSQLite {
		if err := applySQLitePragmas(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := ensureSchema(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db: schema: %w", err)
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

// one_active_global: at most one active global configuration.
// global_name: names are unique among globals.
const schemaSQLite = `
CREATE TABLE IF NOT EXISTS scoring_configurations (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  weight_compliance REAL NOT NULL,
  weight_symmetry REAL NOT NULL,
  weight_effort REAL NOT NULL,
  weight_game REAL NOT NULL,
  sub_completion REAL NOT NULL,
  sub_intensity REAL NOT NULL,
  sub_duration REAL NOT NULL,
  rpe_mapping_json TEXT NOT NULL,
  active INTEGER NOT NULL DEFAULT 1,
  is_global INTEGER NOT NULL DEFAULT 0,
  protected INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS one_active_global ON scoring_configurations(is_global) WHERE is_global = 1 AND active = 1;
CREATE UNIQUE INDEX IF NOT EXISTS global_name ON scoring_configurations(name) WHERE is_global = 1;

CREATE TABLE IF NOT EXISTS patients (
  id TEXT PRIMARY KEY,
  code TEXT NOT NULL UNIQUE,
  current_scoring_config_id TEXT REFERENCES scoring_configurations(id),
  scoring_config_updated_at INTEGER,
  scoring_config_updated_by TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS therapy_sessions (
  id TEXT PRIMARY KEY,
  patient_id TEXT NOT NULL REFERENCES patients(id),
  scoring_config_id TEXT REFERENCES scoring_configurations(id),
  config_snapshot_json TEXT,
  status TEXT NOT NULL DEFAULT 'open',
  created_at INTEGER NOT NULL,
  finalized_at INTEGER
);
CREATE INDEX IF NOT EXISTS therapy_sessions_patient ON therapy_sessions(patient_id);

CREATE TABLE IF NOT EXISTS performance_scores (
  session_id TEXT PRIMARY KEY REFERENCES therapy_sessions(id) ON DELETE CASCADE,
  scoring_config_id TEXT NOT NULL REFERENCES scoring_configurations(id),
  overall_score REAL NOT NULL,
  compliance_score REAL NOT NULL,
  symmetry_score REAL NOT NULL,
  effort_score REAL NOT NULL,
  game_score REAL NOT NULL,
  game_score_present INTEGER NOT NULL DEFAULT 0,
  channels_json TEXT NOT NULL,
  rpe_post_session INTEGER,
  bfr_compliant INTEGER,
  computed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS bfr_monitoring (
  session_id TEXT NOT NULL REFERENCES therapy_sessions(id) ON DELETE CASCADE,
  channel TEXT NOT NULL,
  measurement_method TEXT NOT NULL,
  target_pressure_aop REAL,
  actual_pressure_aop REAL,
  manual_attestation INTEGER,
  safety_compliant INTEGER NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  recorded_at INTEGER NOT NULL,
  PRIMARY KEY (session_id, channel)
);

CREATE TABLE IF NOT EXISTS audit_log (
  id TEXT PRIMARY KEY,
  actor_id TEXT NOT NULL,
  action TEXT NOT NULL,
  entity_type TEXT NOT NULL,
  entity_id TEXT NOT NULL,
  before_json TEXT NOT NULL DEFAULT '',
  after_json TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_log_entity ON audit_log(entity_id, created_at);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS scoring_configurations (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  weight_compliance DOUBLE PRECISION NOT NULL,
  weight_symmetry DOUBLE PRECISION NOT NULL,
  weight_effort DOUBLE PRECISION NOT NULL,
  weight_game DOUBLE PRECISION NOT NULL,
  sub_completion DOUBLE PRECISION NOT NULL,
  sub_intensity DOUBLE PRECISION NOT NULL,
  sub_duration DOUBLE PRECISION NOT NULL,
  rpe_mapping_json TEXT NOT NULL,
  active BOOLEAN NOT NULL DEFAULT TRUE,
  is_global BOOLEAN NOT NULL DEFAULT FALSE,
  protected BOOLEAN NOT NULL DEFAULT FALSE,
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS one_active_global ON scoring_configurations(is_global) WHERE is_global AND active;
CREATE UNIQUE INDEX IF NOT EXISTS global_name ON scoring_configurations(name) WHERE is_global;

CREATE TABLE IF NOT EXISTS patients (
  id TEXT PRIMARY KEY,
  code TEXT NOT NULL UNIQUE,
  current_scoring_config_id TEXT REFERENCES scoring_configurations(id),
  scoring_config_updated_at BIGINT,
  scoring_config_updated_by TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS therapy_sessions (
  id TEXT PRIMARY KEY,
  patient_id TEXT NOT NULL REFERENCES patients(id),
  scoring_config_id TEXT REFERENCES scoring_configurations(id),
  config_snapshot_json TEXT,
  status TEXT NOT NULL DEFAULT 'open',
  created_at BIGINT NOT NULL,
  finalized_at BIGINT
);
CREATE INDEX IF NOT EXISTS therapy_sessions_patient ON therapy_sessions(patient_id);

CREATE TABLE IF NOT EXISTS performance_scores (
  session_id TEXT PRIMARY KEY REFERENCES therapy_sessions(id) ON DELETE CASCADE,
  scoring_config_id TEXT NOT NULL REFERENCES scoring_configurations(id),
  overall_score DOUBLE PRECISION NOT NULL,
  compliance_score DOUBLE PRECISION NOT NULL,
  symmetry_score DOUBLE PRECISION NOT NULL,
  effort_score DOUBLE PRECISION NOT NULL,
  game_score DOUBLE PRECISION NOT NULL,
  game_score_present BOOLEAN NOT NULL DEFAULT FALSE,
  channels_json TEXT NOT NULL,
  rpe_post_session INTEGER,
  bfr_compliant BOOLEAN,
  computed_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS bfr_monitoring (
  session_id TEXT NOT NULL REFERENCES therapy_sessions(id) ON DELETE CASCADE,
  channel TEXT NOT NULL,
  measurement_method TEXT NOT NULL,
  target_pressure_aop DOUBLE PRECISION,
  actual_pressure_aop DOUBLE PRECISION,
  manual_attestation BOOLEAN,
  safety_compliant BOOLEAN NOT NULL,
  reason TEXT NOT NULL DEFAULT '',
  recorded_at BIGINT NOT NULL,
  PRIMARY KEY (session_id, channel)
);

CREATE TABLE IF NOT EXISTS audit_log (
  id TEXT PRIMARY KEY,
  actor_id TEXT NOT NULL,
  action TEXT NOT NULL,
  entity_type TEXT NOT NULL,
  entity_id TEXT NOT NULL,
  before_json TEXT NOT NULL DEFAULT '',
  after_json TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_log_entity ON audit_log(entity_id, created_at);
`
