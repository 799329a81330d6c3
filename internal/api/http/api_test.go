package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	authmw "github.com/mind-engage/rehabscore/internal/auth/middleware"
	"github.com/mind-engage/rehabscore/internal/rbac"
	"github.com/mind-engage/rehabscore/internal/resolve"
	"github.com/mind-engage/rehabscore/internal/scoring"
	"github.com/mind-engage/rehabscore/internal/service"
	"github.com/mind-engage/rehabscore/internal/store"
)

type testAPI struct {
	t      *testing.T
	h      http.Handler
	tokens map[string]string
	trial  scoring.Configuration
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	svc := service.New(store.NewMemoryStore(),
		service.WithClock(func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }))
	trial, _, err := svc.SeedTrialDefault(context.Background(), scoring.DefaultConfiguration())
	if err != nil {
		t.Fatal(err)
	}
	authSvc := authmw.NewAuthService("test-secret", time.Hour)
	r := chi.NewRouter()
	Mount(r, svc, authSvc, nil)

	tokens := map[string]string{}
	for _, role := range []string{rbac.RoleTherapist, rbac.RoleResearcher, rbac.RoleAdmin} {
		tok, err := authSvc.IssueJWT(role+"-1", role)
		if err != nil {
			t.Fatal(err)
		}
		tokens[role] = tok
	}
	return &testAPI{t: t, h: r, tokens: tokens, trial: trial}
}

func (a *testAPI) do(role, method, path string, body any, out any) int {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			a.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+a.tokens[role])
	}
	rec := httptest.NewRecorder()
	a.h.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			a.t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

func (a *testAPI) newSession(code string) string {
	a.t.Helper()
	var p store.Patient
	if c := a.do(rbac.RoleTherapist, http.MethodPost, "/patients", map[string]string{"code": code}, &p); c != http.StatusCreated {
		a.t.Fatalf("create patient: %d", c)
	}
	var out struct {
		Session    store.Session      `json:"session"`
		Resolution resolve.Resolution `json:"resolution"`
	}
	if c := a.do(rbac.RoleTherapist, http.MethodPost, "/sessions", map[string]string{"patient_id": p.ID}, &out); c != http.StatusCreated {
		a.t.Fatalf("create session: %d", c)
	}
	if out.Session.ScoringConfigID == nil || *out.Session.ScoringConfigID != a.trial.ID {
		a.t.Fatalf("session not stamped with trial default: %+v", out.Session)
	}
	return out.Session.ID
}

func TestScoreFlow(t *testing.T) {
	a := newTestAPI(t)
	sid := a.newSession("P-001")

	var cfg struct {
		Resolution struct {
			ConfigID string `json:"scoring_config_id"`
			Tier     string `json:"tier"`
		} `json:"resolution"`
	}
	if c := a.do(rbac.RoleResearcher, http.MethodGet, "/sessions/"+sid+"/scoring-config", nil, &cfg); c != http.StatusOK {
		t.Fatalf("scoring-config: %d", c)
	}
	if cfg.Resolution.Tier != "session_stamp" || cfg.Resolution.ConfigID != a.trial.ID {
		t.Fatalf("resolution = %+v", cfg.Resolution)
	}

	body := `{"left":{"completion_rate":1,"intensity_rate":1,"duration_rate":1},
	          "right":{"completion_rate":0.5,"intensity_rate":0.5,"duration_rate":0.5},
	          "rpe_post_session":5}`
	var ps scoring.PerformanceScore
	if c := a.do(rbac.RoleTherapist, http.MethodPost, "/sessions/"+sid+"/score", body, &ps); c != http.StatusOK {
		t.Fatalf("score: %d", c)
	}
	if math.Abs(ps.OverallScore-79.17) > 0.01 {
		t.Fatalf("overall = %v, want 79.17", ps.OverallScore)
	}

	var stored scoring.PerformanceScore
	if c := a.do(rbac.RoleResearcher, http.MethodGet, "/sessions/"+sid+"/score", nil, &stored); c != http.StatusOK || stored.OverallScore != ps.OverallScore {
		t.Fatalf("get score: %d %+v", c, stored)
	}

	if c := a.do(rbac.RoleTherapist, http.MethodPost, "/sessions/"+sid+"/finalize", nil, nil); c != http.StatusOK {
		t.Fatalf("finalize: %d", c)
	}
	if c := a.do(rbac.RoleTherapist, http.MethodPost, "/sessions/"+sid+"/score", body, nil); c != http.StatusConflict {
		t.Fatalf("rescore after finalize: %d, want 409", c)
	}
	forced := `{"left":{"completion_rate":1,"intensity_rate":1,"duration_rate":1},
	            "right":{"completion_rate":0.5,"intensity_rate":0.5,"duration_rate":0.5},
	            "rpe_post_session":5,"force":true}`
	if c := a.do(rbac.RoleTherapist, http.MethodPost, "/sessions/"+sid+"/score", forced, nil); c != http.StatusForbidden {
		t.Fatalf("therapist force: %d, want 403", c)
	}

	// editing the configuration the session was stamped with must not move its score
	edit := map[string]any{"component": "effort", "value": 1.0}
	if c := a.do(rbac.RoleAdmin, http.MethodPost, "/configurations/"+a.trial.ID+"/weights", edit, nil); c != http.StatusOK {
		t.Fatalf("edit weights: %d", c)
	}
	var again scoring.PerformanceScore
	if c := a.do(rbac.RoleAdmin, http.MethodPost, "/sessions/"+sid+"/score", forced, &again); c != http.StatusOK {
		t.Fatalf("admin force: %d", c)
	}
	if again.OverallScore != ps.OverallScore {
		t.Fatalf("forced rescore after edit = %v, want %v", again.OverallScore, ps.OverallScore)
	}

	var entries []struct {
		ActorID string `json:"actor_id"`
		Action  string `json:"action"`
	}
	if c := a.do(rbac.RoleAdmin, http.MethodGet, "/audit?entity_id="+sid, nil, &entries); c != http.StatusOK {
		t.Fatalf("audit: %d", c)
	}
	if len(entries) != 1 || entries[0].Action != "session.rescored" || entries[0].ActorID != "admin-1" {
		t.Fatalf("rescore audit = %+v", entries)
	}
}

func TestWeightUpdateAndAudit(t *testing.T) {
	a := newTestAPI(t)
	path := "/configurations/" + a.trial.ID + "/weights"
	req := map[string]any{"component": "compliance", "value": 0.6}

	if c := a.do(rbac.RoleTherapist, http.MethodPost, path, req, nil); c != http.StatusForbidden {
		t.Fatalf("therapist edit: %d", c)
	}
	var got scoring.Configuration
	if c := a.do(rbac.RoleAdmin, http.MethodPost, path, req, &got); c != http.StatusOK {
		t.Fatalf("admin edit: %d", c)
	}
	if math.Abs(got.Weights.Sum()-1) > 1e-6 || got.Weights.Compliance != 0.6 {
		t.Fatalf("weights = %+v", got.Weights)
	}
	if c := a.do(rbac.RoleAdmin, http.MethodPost, path, map[string]any{"component": "compliance", "value": 1.5}, nil); c != http.StatusUnprocessableEntity {
		t.Fatalf("out of range weight: %d", c)
	}
	if c := a.do(rbac.RoleAdmin, http.MethodPost, path, map[string]any{"component": "speed", "value": 0.1}, nil); c != http.StatusUnprocessableEntity {
		t.Fatalf("unknown component: %d", c)
	}

	var entries []map[string]any
	if c := a.do(rbac.RoleResearcher, http.MethodGet, "/audit?entity_id="+a.trial.ID+"&action=configuration.weights_updated", nil, &entries); c != http.StatusOK {
		t.Fatalf("audit: %d", c)
	}
	if len(entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(entries))
	}
	if c := a.do(rbac.RoleTherapist, http.MethodGet, "/audit", nil, nil); c != http.StatusForbidden {
		t.Fatalf("therapist audit: %d", c)
	}
	if c := a.do(rbac.RoleAdmin, http.MethodGet, "/audit", nil, nil); c != http.StatusOK {
		t.Fatalf("admin audit: %d", c)
	}
}

func TestProtectedDefaultAndNoActiveConfig(t *testing.T) {
	a := newTestAPI(t)
	if c := a.do(rbac.RoleAdmin, http.MethodPost, "/configurations/"+a.trial.ID+"/deactivate", nil, nil); c != http.StatusConflict {
		t.Fatalf("deactivate protected: %d, want 409", c)
	}
	if c := a.do(rbac.RoleAdmin, http.MethodGet, "/configurations/nope", nil, nil); c != http.StatusNotFound {
		t.Fatalf("unknown config: %d", c)
	}
}

func TestRPELookup(t *testing.T) {
	a := newTestAPI(t)
	var out map[string]any
	if c := a.do(rbac.RoleTherapist, http.MethodGet, "/rpe/4", nil, &out); c != http.StatusOK {
		t.Fatalf("rpe 4: %d", c)
	}
	if out["score"].(float64) != 100 || out["scoring_config_id"] != a.trial.ID {
		t.Fatalf("rpe 4 = %v", out)
	}
	if c := a.do(rbac.RoleTherapist, http.MethodGet, fmt.Sprintf("/rpe/9?config=%s", a.trial.ID), nil, &out); c != http.StatusOK || out["score"].(float64) != 15 {
		t.Fatalf("rpe 9: %d %v", c, out)
	}
	if c := a.do(rbac.RoleTherapist, http.MethodGet, "/rpe/12", nil, nil); c != http.StatusUnprocessableEntity {
		t.Fatalf("rpe 12: %d", c)
	}
	if c := a.do(rbac.RoleTherapist, http.MethodGet, "/rpe/abc", nil, nil); c != http.StatusBadRequest {
		t.Fatalf("rpe abc: %d", c)
	}
}

func TestBFRAndPreference(t *testing.T) {
	a := newTestAPI(t)
	sid := a.newSession("P-002")

	var bfr struct {
		Results      []scoring.BFRResult `json:"results"`
		AllCompliant bool                `json:"all_compliant"`
	}
	body := `{"readings":[{"channel":"left","measurement_method":"sensor","actual_pressure_aop":52},
	                      {"channel":"right","measurement_method":"manual","manual_attestation":false}]}`
	if c := a.do(rbac.RoleTherapist, http.MethodPost, "/sessions/"+sid+"/bfr", body, &bfr); c != http.StatusOK {
		t.Fatalf("bfr: %d", c)
	}
	if len(bfr.Results) != 2 || bfr.AllCompliant || !bfr.Results[0].SafetyCompliant {
		t.Fatalf("bfr = %+v", bfr)
	}
	twice := `{"readings":[{"channel":"Left","measurement_method":"manual","manual_attestation":true},
	                       {"channel":"left","measurement_method":"manual","manual_attestation":true}]}`
	if c := a.do(rbac.RoleTherapist, http.MethodPost, "/sessions/"+sid+"/bfr", twice, nil); c != http.StatusUnprocessableEntity {
		t.Fatalf("same limb twice: %d", c)
	}
	bad := `{"readings":[{"channel":"middle","measurement_method":"sensor"}]}`
	if c := a.do(rbac.RoleTherapist, http.MethodPost, "/sessions/"+sid+"/bfr", bad, nil); c != http.StatusUnprocessableEntity {
		t.Fatalf("bad channel: %d", c)
	}

	var custom scoring.Configuration
	if c := a.do(rbac.RoleAdmin, http.MethodPost, "/configurations",
		map[string]any{"configuration_name": "LOW-EFFORT", "active": true}, &custom); c != http.StatusCreated {
		t.Fatalf("create config: %d", c)
	}
	var p store.Patient
	a.do(rbac.RoleTherapist, http.MethodPost, "/patients", map[string]string{"code": "P-003"}, &p)
	path := "/patients/" + p.ID + "/scoring-config"
	if c := a.do(rbac.RoleTherapist, http.MethodPut, path, map[string]any{"scoring_config_id": custom.ID}, &p); c != http.StatusOK {
		t.Fatalf("set preference: %d", c)
	}
	if p.CurrentScoringConfigID == nil || *p.CurrentScoringConfigID != custom.ID {
		t.Fatalf("preference = %+v", p)
	}
	if c := a.do(rbac.RoleTherapist, http.MethodPut, path, map[string]any{"scoring_config_id": "nope"}, nil); c != http.StatusNotFound {
		t.Fatalf("unknown config preference: %d", c)
	}
}

func TestAuthRequired(t *testing.T) {
	a := newTestAPI(t)
	if c := a.do("", http.MethodGet, "/configurations", nil, nil); c != http.StatusUnauthorized {
		t.Fatalf("no token: %d", c)
	}
	if c := a.do(rbac.RoleTherapist, http.MethodPost, "/sessions", `{"patient_id":"p","extra":1}`, nil); c != http.StatusBadRequest {
		t.Fatalf("unknown field: %d", c)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		store.ErrNotFound:                      http.StatusNotFound,
		fmt.Errorf("x: %w", store.ErrConflict): http.StatusConflict,
		service.ErrSessionFinalized:            http.StatusConflict,
		scoring.ErrIncompleteMappingTable:      http.StatusUnprocessableEntity,
		resolve.ErrNoActiveConfiguration:       http.StatusServiceUnavailable,
		errors.New("disk on fire"):             http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Errorf("statusFor(%v) = %d, want %d", err, got, want)
		}
	}
}
