package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mind-engage/rehabscore/internal/audit"
	"github.com/mind-engage/rehabscore/internal/resolve"
	"github.com/mind-engage/rehabscore/internal/scoring"
)

// MemoryStore keeps everything in maps behind one RWMutex. Writes that the
// SQL store runs in a transaction happen under a single lock here.
type MemoryStore struct {
	mu       sync.RWMutex
	configs  map[string]scoring.Configuration
	patients map[string]Patient
	sessions map[string]Session
	bfr      map[string]map[scoring.Channel]scoring.BFRResult
	scores   map[string]scoring.PerformanceScore
	audit    []audit.Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs:  map[string]scoring.Configuration{},
		patients: map[string]Patient{},
		sessions: map[string]Session{},
		bfr:      map[string]map[scoring.Channel]scoring.BFRResult{},
		scores:   map[string]scoring.PerformanceScore{},
	}
}

func (m *MemoryStore) SessionConfig(_ context.Context, sessionID string) (*string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyStr(m.sessions[sessionID].ScoringConfigID), nil
}

func (m *MemoryStore) PatientPreference(_ context.Context, patientID string) (*string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyStr(m.patients[patientID].CurrentScoringConfigID), nil
}

func (m *MemoryStore) GlobalDefaultID(_ context.Context, name string) (*string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, c := range m.configs {
		if c.IsGlobal && c.Active && c.Name == name {
			return &id, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) AnyActiveID(_ context.Context) (*string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *scoring.Configuration
	for _, c := range m.configs {
		if !c.Active {
			continue
		}
		if best == nil || preferActive(c, *best) {
			c := c
			best = &c
		}
	}
	if best == nil {
		return nil, nil
	}
	id := best.ID
	return &id, nil
}

// preferActive orders like the SQL query: global first, newest update, id.
func preferActive(a, b scoring.Configuration) bool {
	if a.IsGlobal != b.IsGlobal {
		return a.IsGlobal
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID < b.ID
}

func (m *MemoryStore) StampSessionConfig(_ context.Context, sessionID, configID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return "", fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if s.ScoringConfigID != nil {
		return *s.ScoringConfigID, resolve.ErrAlreadyStamped
	}
	c, ok := m.configs[configID]
	if !ok {
		return "", fmt.Errorf("configuration %s: %w", configID, ErrNotFound)
	}
	id := configID
	snap := cloneConfig(c)
	s.ScoringConfigID, s.ConfigSnapshot = &id, &snap
	m.sessions[sessionID] = s
	return configID, nil
}

/* ---------------- configurations ---------------- */

func (m *MemoryStore) GetConfiguration(_ context.Context, id string) (scoring.Configuration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.configs[id]
	if !ok {
		return scoring.Configuration{}, fmt.Errorf("configuration %s: %w", id, ErrNotFound)
	}
	return cloneConfig(c), nil
}

func (m *MemoryStore) GetGlobalDefault(ctx context.Context, name string) (scoring.Configuration, error) {
	id, _ := m.GlobalDefaultID(ctx, name)
	if id == nil {
		return scoring.Configuration{}, fmt.Errorf("global default %q: %w", name, ErrNotFound)
	}
	return m.GetConfiguration(ctx, *id)
}

func (m *MemoryStore) AnyActive(ctx context.Context) (scoring.Configuration, error) {
	id, _ := m.AnyActiveID(ctx)
	if id == nil {
		return scoring.Configuration{}, fmt.Errorf("active configuration: %w", ErrNotFound)
	}
	return m.GetConfiguration(ctx, *id)
}

func (m *MemoryStore) ListConfigurations(_ context.Context, opts ListConfigOpts) ([]scoring.Configuration, error) {
	m.mu.RLock()
	all := make([]scoring.Configuration, 0, len(m.configs))
	for _, c := range m.configs {
		if opts.ActiveOnly && !c.Active {
			continue
		}
		all = append(all, cloneConfig(c))
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.IsGlobal != b.IsGlobal {
			return a.IsGlobal
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
	return page(all, opts.Offset, opts.limit()), nil
}

func (m *MemoryStore) CreateConfiguration(_ context.Context, c scoring.Configuration, e audit.Entry) error {
	if err := c.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configs[c.ID]; ok {
		return fmt.Errorf("configuration %s: %w", c.ID, ErrConflict)
	}
	if c.IsGlobal {
		if err := m.checkGlobalName(c.ID, c.Name); err != nil {
			return err
		}
		if c.Active {
			m.deactivateGlobals(c.ID, c.UpdatedAt)
		}
	}
	m.configs[c.ID] = cloneConfig(c)
	m.record(e)
	return nil
}

func (m *MemoryStore) UpdateConfiguration(_ context.Context, c scoring.Configuration, e audit.Entry) error {
	if err := c.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.configs[c.ID]
	if !ok {
		return fmt.Errorf("configuration %s: %w", c.ID, ErrNotFound)
	}
	if cur.IsGlobal {
		if err := m.checkGlobalName(c.ID, c.Name); err != nil {
			return err
		}
	}
	// flags and creation time are not editable through an update
	cur.Name, cur.Description = c.Name, c.Description
	cur.Weights, cur.SubWeights = c.Weights, c.SubWeights
	cur.RPEMapping = c.RPEMapping.Clone()
	cur.UpdatedAt = c.UpdatedAt
	m.configs[c.ID] = cur
	m.record(e)
	return nil
}

func (m *MemoryStore) ActivateGlobal(_ context.Context, id string, at time.Time, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[id]
	if !ok {
		return fmt.Errorf("configuration %s: %w", id, ErrNotFound)
	}
	if err := m.checkGlobalName(id, c.Name); err != nil {
		return err
	}
	m.deactivateGlobals(id, at)
	c.Active, c.IsGlobal, c.UpdatedAt = true, true, at
	m.configs[id] = c
	m.record(e)
	return nil
}

func (m *MemoryStore) SetActive(_ context.Context, id string, active bool, at time.Time, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[id]
	if !ok {
		return fmt.Errorf("configuration %s: %w", id, ErrNotFound)
	}
	if active && c.IsGlobal {
		for oid, o := range m.configs {
			if oid != id && o.IsGlobal && o.Active {
				return fmt.Errorf("one_active_global: %w", ErrConflict)
			}
		}
	}
	c.Active, c.UpdatedAt = active, at
	m.configs[id] = c
	m.record(e)
	return nil
}

// caller holds m.mu
func (m *MemoryStore) deactivateGlobals(except string, at time.Time) {
	for id, c := range m.configs {
		if id != except && c.IsGlobal && c.Active {
			c.Active, c.UpdatedAt = false, at
			m.configs[id] = c
		}
	}
}

// caller holds m.mu
func (m *MemoryStore) checkGlobalName(id, name string) error {
	for oid, o := range m.configs {
		if oid != id && o.IsGlobal && o.Name == name {
			return fmt.Errorf("global_name %q: %w", name, ErrConflict)
		}
	}
	return nil
}

/* ---------------- patients ---------------- */

func (m *MemoryStore) CreatePatient(_ context.Context, p Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.patients[p.ID]; ok {
		return fmt.Errorf("patient %s: %w", p.ID, ErrConflict)
	}
	for _, o := range m.patients {
		if o.Code == p.Code {
			return fmt.Errorf("patient code %s: %w", p.Code, ErrConflict)
		}
	}
	p.CurrentScoringConfigID = copyStr(p.CurrentScoringConfigID)
	m.patients[p.ID] = p
	return nil
}

func (m *MemoryStore) GetPatient(_ context.Context, id string) (Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[id]
	if !ok {
		return Patient{}, fmt.Errorf("patient %s: %w", id, ErrNotFound)
	}
	p.CurrentScoringConfigID = copyStr(p.CurrentScoringConfigID)
	return p, nil
}

func (m *MemoryStore) SetPatientPreference(_ context.Context, patientID string, configID *string, actor string, at time.Time, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[patientID]
	if !ok {
		return fmt.Errorf("patient %s: %w", patientID, ErrNotFound)
	}
	if configID != nil {
		if _, ok := m.configs[*configID]; !ok {
			return fmt.Errorf("configuration %s: %w", *configID, ErrNotFound)
		}
	}
	t := at
	p.CurrentScoringConfigID = copyStr(configID)
	p.ScoringConfigUpdatedAt = &t
	p.ScoringConfigUpdatedBy = actor
	m.patients[patientID] = p
	m.record(e)
	return nil
}

/* ---------------- sessions ---------------- */

func (m *MemoryStore) CreateSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("session %s: %w", s.ID, ErrConflict)
	}
	if _, ok := m.patients[s.PatientID]; !ok {
		return fmt.Errorf("patient %s: %w", s.PatientID, ErrNotFound)
	}
	s.ScoringConfigID = copyStr(s.ScoringConfigID)
	s.ConfigSnapshot = nil
	s.Status = SessionOpen
	s.FinalizedAt = nil
	m.sessions[s.ID] = s
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	s.ScoringConfigID = copyStr(s.ScoringConfigID)
	if s.ConfigSnapshot != nil {
		snap := cloneConfig(*s.ConfigSnapshot)
		s.ConfigSnapshot = &snap
	}
	return s, nil
}

func (m *MemoryStore) FinalizeSession(ctx context.Context, id string, at time.Time) (Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok && s.Status == SessionOpen {
		t := at
		s.Status, s.FinalizedAt = SessionFinalized, &t
		m.sessions[id] = s
	}
	m.mu.Unlock()
	return m.GetSession(ctx, id)
}

/* ---------------- BFR ---------------- */

func (m *MemoryStore) SaveBFR(_ context.Context, sessionID string, results []scoring.BFRResult, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	byCh := m.bfr[sessionID]
	if byCh == nil {
		byCh = map[scoring.Channel]scoring.BFRResult{}
		m.bfr[sessionID] = byCh
	}
	for _, r := range results {
		byCh[r.Channel] = r
	}
	return nil
}

func (m *MemoryStore) ListBFR(_ context.Context, sessionID string) ([]scoring.BFRResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]scoring.BFRResult, 0, len(m.bfr[sessionID]))
	for _, r := range m.bfr[sessionID] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out, nil
}

/* ---------------- scores ---------------- */

func (m *MemoryStore) SaveScore(_ context.Context, p scoring.PerformanceScore, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[p.SessionID]; !ok {
		return fmt.Errorf("session %s: %w", p.SessionID, ErrNotFound)
	}
	m.scores[p.SessionID] = p
	if e != nil {
		m.record(*e)
	}
	return nil
}

func (m *MemoryStore) GetScore(_ context.Context, sessionID string) (scoring.PerformanceScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.scores[sessionID]
	if !ok {
		return scoring.PerformanceScore{}, fmt.Errorf("score for session %s: %w", sessionID, ErrNotFound)
	}
	return p, nil
}

/* ---------------- audit ---------------- */

// caller holds m.mu
func (m *MemoryStore) record(e audit.Entry) {
	m.audit = append(m.audit, e)
}

func (m *MemoryStore) ListAudit(_ context.Context, opts audit.ListOpts) ([]audit.Entry, error) {
	m.mu.RLock()
	out := []audit.Entry{}
	for i := len(m.audit) - 1; i >= 0; i-- {
		e := m.audit[i]
		if opts.EntityID != "" && e.EntityID != opts.EntityID {
			continue
		}
		if opts.Action != "" && e.Action != opts.Action {
			continue
		}
		out = append(out, e)
	}
	m.mu.RUnlock()
	return page(out, opts.Offset, opts.PageLimit()), nil
}

/* ---------------- helpers ---------------- */

func page[T any](all []T, offset, limit int) []T {
	if offset >= len(all) {
		return []T{}
	}
	if offset < 0 {
		offset = 0
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

func cloneConfig(c scoring.Configuration) scoring.Configuration {
	c.RPEMapping = c.RPEMapping.Clone()
	return c
}

func copyStr(p *string) *string {
	if p == nil {
		return nil
	}
	s := *p
	return &s
}
