package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mind-engage/rehabscore/internal/db"
)

func TestNewEntry(t *testing.T) {
	before := map[string]float64{"compliance": 0.5}
	after := map[string]float64{"compliance": 0.6}
	e, err := NewEntry("admin-1", ActionWeightsUpdated, EntityConfiguration, "cfg-1", before, after)
	if err != nil {
		t.Fatal(err)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Errorf("expected id and timestamp to be set: %+v", e)
	}
	var got map[string]float64
	if err := json.Unmarshal(e.After, &got); err != nil {
		t.Fatal(err)
	}
	if got["compliance"] != 0.6 {
		t.Errorf("expected after compliance 0.6, got %v", got["compliance"])
	}
}

func TestNewEntry_NilSides(t *testing.T) {
	e, err := NewEntry("admin-1", ActionConfigCreated, EntityConfiguration, "cfg-1", nil, map[string]string{"name": "x"})
	if err != nil {
		t.Fatal(err)
	}
	if e.Before != nil {
		t.Errorf("expected empty before, got %s", e.Before)
	}
}

func TestNewEntry_Unmarshalable(t *testing.T) {
	if _, err := NewEntry("a", ActionConfigCreated, EntityConfiguration, "c", make(chan int), nil); err == nil {
		t.Errorf("expected marshal error")
	}
}

func TestSQLRecorder_TxScoped(t *testing.T) {
	ctx := context.Background()
	sqlDB, err := db.Open(ctx, db.DriverSQLite, "file:"+filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	kept, _ := NewEntry("admin-1", ActionWeightsUpdated, EntityConfiguration, "cfg-1", nil, map[string]int{"v": 1})
	kept.CreatedAt = at
	if err := db.WithTx(ctx, sqlDB, func(tx *sql.Tx) error {
		return NewSQLRecorder(tx).Record(ctx, kept)
	}); err != nil {
		t.Fatal(err)
	}

	dropped, _ := NewEntry("admin-1", ActionWeightsUpdated, EntityConfiguration, "cfg-1", nil, map[string]int{"v": 2})
	dropped.CreatedAt = at.Add(time.Minute)
	rollback := errors.New("change failed")
	err = db.WithTx(ctx, sqlDB, func(tx *sql.Tx) error {
		if err := NewSQLRecorder(tx).Record(ctx, dropped); err != nil {
			return err
		}
		return rollback
	})
	if !errors.Is(err, rollback) {
		t.Fatalf("expected rollback error, got %v", err)
	}

	other, _ := NewEntry("pt-1", ActionPreferenceChanged, EntityPatient, "p-1", nil, nil)
	other.CreatedAt = at.Add(2 * time.Minute)
	rec := NewSQLRecorder(sqlDB)
	if err := rec.Record(ctx, other); err != nil {
		t.Fatal(err)
	}

	got, err := rec.List(ctx, ListOpts{EntityID: "cfg-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != kept.ID || !got[0].CreatedAt.Equal(at) {
		t.Fatalf("expected only the committed entry, got %+v", got)
	}
	all, _ := rec.List(ctx, ListOpts{})
	if len(all) != 2 || all[0].ID != other.ID {
		t.Fatalf("expected newest first, got %+v", all)
	}
	if byAction, _ := rec.List(ctx, ListOpts{Action: ActionPreferenceChanged}); len(byAction) != 1 || byAction[0].Before != nil {
		t.Fatalf("action filter: %+v", byAction)
	}
}

func TestListOptsPageLimit(t *testing.T) {
	for in, want := range map[int]int{0: 100, -1: 100, 20: 20, 501: 100} {
		if got := (ListOpts{Limit: in}).PageLimit(); got != want {
			t.Errorf("PageLimit(%d) = %d, want %d", in, got, want)
		}
	}
}
