package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/rehabscore/internal/rbac"
)

func login(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))
	var out map[string]string
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return rec, out
}

func TestLoginHandler(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	a := NewAuthService("test-secret", time.Hour)
	h := LoginHandler(a, LoginConfig{AdminUser: "admin", AdminPassHash: string(hash), DevUsers: true})

	rec, out := login(t, h, `{"username":"admin","password":"s3cret"}`)
	if rec.Code != http.StatusOK || out["role"] != rbac.RoleAdmin {
		t.Fatalf("admin login: %d %v", rec.Code, out)
	}
	c, err := a.Parse(out["access_token"])
	if err != nil || c.Sub != "admin" || c.Role != rbac.RoleAdmin {
		t.Fatalf("parse: %+v %v", c, err)
	}

	if rec, _ := login(t, h, `{"username":"admin","password":"admin"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong admin password: %d", rec.Code)
	}
	if rec, out := login(t, h, `{"username":"pt1","password":"pt1","role":"therapist"}`); rec.Code != http.StatusOK || out["role"] != rbac.RoleTherapist {
		t.Fatalf("dev therapist: %d %v", rec.Code, out)
	}
	if rec, _ := login(t, h, `{"username":"x","password":"x","role":"admin"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("dev users must not mint admin: %d", rec.Code)
	}
	if rec, _ := login(t, h, `{bad`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json: %d", rec.Code)
	}

	strict := LoginHandler(a, LoginConfig{AdminUser: "admin", AdminPassHash: string(hash)})
	if rec, _ := login(t, strict, `{"username":"pt1","password":"pt1","role":"therapist"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("dev users disabled: %d", rec.Code)
	}
}

func TestJWTMiddleware(t *testing.T) {
	a := NewAuthService("test-secret", time.Hour)
	var (
		gotSub, gotRole string
		gotActor        Actor
	)
	h := JWTMiddleware(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSub = ActorID(r.Context())
		gotRole = rbac.RoleFromContext(r.Context())
		gotActor, _ = ActorFromContext(r.Context())
	}))

	tok, err := a.IssueJWT("pt1", rbac.RoleTherapist)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "/sessions/x", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || gotSub != "pt1" || gotRole != rbac.RoleTherapist {
		t.Fatalf("status=%d sub=%q role=%q", rec.Code, gotSub, gotRole)
	}
	if gotActor != (Actor{Subject: "pt1", Role: rbac.RoleTherapist}) {
		t.Fatalf("actor = %+v", gotActor)
	}

	other := NewAuthService("other-secret", time.Hour)
	forged, _ := other.IssueJWT("pt1", rbac.RoleAdmin)
	for name, hdr := range map[string]string{
		"missing": "",
		"forged":  "Bearer " + forged,
		"garbage": "Bearer abc.def.ghi",
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if hdr != "" {
			req.Header.Set("Authorization", hdr)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status %d", name, rec.Code)
		}
	}

	expired := NewAuthService("test-secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _ := expired.IssueJWT("pt1", rbac.RoleTherapist)
	if _, err := a.Parse(old); err == nil {
		t.Fatal("expired token accepted")
	}

	unknown, _ := a.IssueJWT("pt1", "student")
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+unknown)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("unknown role: %d", rec.Code)
	}
}

func TestActorIDWithoutMiddleware(t *testing.T) {
	if got := ActorID(context.Background()); got != "" {
		t.Fatalf("expected no actor, got %q", got)
	}
	if _, ok := ActorFromContext(context.Background()); ok {
		t.Fatal("expected no actor on a bare context")
	}
}
