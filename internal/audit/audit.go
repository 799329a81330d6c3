// Package audit records who changed scoring configuration, patient
// preferences or a finalized score, with the state before and after the
// change.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionConfigCreated     Action = "configuration.created"
	ActionWeightsUpdated    Action = "configuration.weights_updated"
	ActionSubWeightsUpdated Action = "configuration.sub_weights_updated"
	ActionRPEMappingUpdated Action = "configuration.rpe_mapping_updated"
	ActionConfigActivated   Action = "configuration.activated"
	ActionConfigDeactivated Action = "configuration.deactivated"
	ActionPreferenceChanged Action = "patient.scoring_preference_changed"
	ActionSessionRescored   Action = "session.rescored"
)

const (
	EntityConfiguration = "scoring_configuration"
	EntityPatient       = "patient"
	EntitySession       = "therapy_session"
)

type Entry struct {
	ID         string          `json:"id"`
	ActorID    string          `json:"actor_id"`
	Action     Action          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewEntry marshals before/after into an entry ready to be recorded.
func NewEntry(actor string, action Action, entityType, entityID string, before, after any) (Entry, error) {
	b, err := marshal(before)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: before: %w", err)
	}
	a, err := marshal(after)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: after: %w", err)
	}
	return Entry{
		ID:         uuid.NewString(),
		ActorID:    actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Before:     b,
		After:      a,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

func marshal(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Recorder receives audit entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

type ListOpts struct {
	EntityID string
	Action   Action
	Limit    int
	Offset   int
}

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLRecorder appends to the audit_log table. Built on a *sql.Tx it records
// inside the transaction carrying the change the entry describes.
type SQLRecorder struct{ db DBTX }

var _ Recorder = (*SQLRecorder)(nil)

func NewSQLRecorder(db DBTX) *SQLRecorder { return &SQLRecorder{db: db} }

func (r *SQLRecorder) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, actor_id, action, entity_type, entity_id, before_json, after_json, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.ActorID, string(e.Action), e.EntityType, e.EntityID,
		string(e.Before), string(e.After), e.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// List returns entries newest first.
func (r *SQLRecorder) List(ctx context.Context, opts ListOpts) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if opts.EntityID != "" {
		args = append(args, opts.EntityID)
		where = append(where, fmt.Sprintf("entity_id=$%d", len(args)))
	}
	if opts.Action != "" {
		args = append(args, string(opts.Action))
		where = append(where, fmt.Sprintf("action=$%d", len(args)))
	}
	query := `SELECT id, actor_id, action, entity_type, entity_id, before_json, after_json, created_at FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, opts.PageLimit(), opts.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var (
			e             Entry
			action        string
			before, after string
			created       int64
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &action, &e.EntityType, &e.EntityID, &before, &after, &created); err != nil {
			return nil, err
		}
		e.Action = Action(action)
		if before != "" {
			e.Before = json.RawMessage(before)
		}
		if after != "" {
			e.After = json.RawMessage(after)
		}
		e.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// PageLimit clamps Limit to (0,500], defaulting to 100.
func (o ListOpts) PageLimit() int {
	if o.Limit <= 0 || o.Limit > 500 {
		return 100
	}
	return o.Limit
}
