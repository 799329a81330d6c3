// Package store persists scoring configurations, patients, therapy sessions,
// BFR readings and computed scores. SQLStore runs on sqlite or postgres;
// MemoryStore has the same semantics for tests and offline use.
package store

import (
	"errors"
	"time"

	"github.com/mind-engage/rehabscore/internal/scoring"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is a uniqueness violation, e.g. a second global
	// configuration with the same name.
	ErrConflict = errors.New("conflict")
)

type SessionStatus string

const (
	SessionOpen      SessionStatus = "open"
	SessionFinalized SessionStatus = "finalized"
)

type Patient struct {
	ID                     string     `json:"id"`
	Code                   string     `json:"code"`
	CurrentScoringConfigID *string    `json:"current_scoring_config_id,omitempty"`
	ScoringConfigUpdatedAt *time.Time `json:"scoring_config_updated_at,omitempty"`
	ScoringConfigUpdatedBy string     `json:"scoring_config_updated_by,omitempty"`
}

// Session is one therapy session. ConfigSnapshot is the configuration as it
// stood when ScoringConfigID was stamped; scoring always reads the snapshot,
// so later edits to the configuration row leave the session alone.
type Session struct {
	ID              string                 `json:"id"`
	PatientID       string                 `json:"patient_id"`
	ScoringConfigID *string                `json:"scoring_config_id,omitempty"`
	ConfigSnapshot  *scoring.Configuration `json:"scoring_config_snapshot,omitempty"`
	Status          SessionStatus          `json:"status"`
	CreatedAt       time.Time              `json:"created_at"`
	FinalizedAt     *time.Time             `json:"finalized_at,omitempty"`
}

type ListConfigOpts struct {
	ActiveOnly bool
	Limit      int
	Offset     int
}

func (o ListConfigOpts) limit() int {
	if o.Limit <= 0 || o.Limit > 500 {
		return 100
	}
	return o.Limit
}
