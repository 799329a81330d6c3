package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mind-engage/rehabscore/internal/scoring"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestNormalizeCmd(t *testing.T) {
	out, err := run(t, "", "normalize", "compliance=1")
	if err != nil {
		t.Fatal(err)
	}
	var got weightsOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.Weights != (scoring.Weights{Compliance: 1}) {
		t.Fatalf("weights = %+v", got.Weights)
	}
	if got.SubWeightsError != "" {
		t.Fatalf("default sub-weights flagged: %s", got.SubWeightsError)
	}
	if _, err := run(t, "", "normalize", "compliance"); err == nil {
		t.Fatal("expected error for missing value")
	}
	if _, err := run(t, "", "normalize", "symmetry=-0.1"); !errors.Is(err, scoring.ErrInvalidWeight) {
		t.Fatalf("err = %v", err)
	}
}

func TestNormalizeCmd_SubWeightsNotRebalanced(t *testing.T) {
	out, err := run(t, "", "normalize", "completion=0.5")
	if err != nil {
		t.Fatal(err)
	}
	var got weightsOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatal(err)
	}
	if got.SubWeights.Completion != 0.5 || got.SubWeights.Intensity != 0.333 {
		t.Fatalf("sub-weights = %+v", got.SubWeights)
	}
	if got.SubWeightsError == "" {
		t.Fatal("split summing to 1.167 not reported")
	}

	out, err = run(t, "", "normalize", "completion=0.5", "intensity=0.25", "duration=0.25")
	if err != nil {
		t.Fatal(err)
	}
	got = weightsOutput{}
	if err := json.Unmarshal([]byte(out), &got); err != nil || got.SubWeightsError != "" {
		t.Fatalf("balanced split: %+v, %v", got, err)
	}
}

func TestRPECmd(t *testing.T) {
	out, err := run(t, "", "rpe", "9")
	if err != nil {
		t.Fatal(err)
	}
	var e struct {
		RPE   int     `json:"rpe"`
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(out), &e); err != nil || e.RPE != 9 || e.Score != 15 {
		t.Fatalf("rpe 9 = %+v, %v", e, err)
	}
	if _, err := run(t, "", "rpe", "11"); !errors.Is(err, scoring.ErrInvalidRPEValue) {
		t.Fatalf("err = %v", err)
	}
}

func TestBFRCmd(t *testing.T) {
	out, err := run(t, "", "bfr", "--channel", "right", "--actual", "65")
	if err != nil {
		t.Fatal(err)
	}
	var res scoring.BFRResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatal(err)
	}
	if res.SafetyCompliant || res.Channel != scoring.ChannelRight {
		t.Fatalf("res = %+v", res)
	}
	out, _ = run(t, "", "bfr", "--method", "manual", "--attest")
	if err := json.Unmarshal([]byte(out), &res); err != nil || !res.SafetyCompliant {
		t.Fatalf("manual attest = %+v, %v", res, err)
	}
}

func TestScoreCmd(t *testing.T) {
	in := `{"left":{"completion_rate":1,"intensity_rate":1,"duration_rate":1},
	        "right":{"completion_rate":0.5,"intensity_rate":0.5,"duration_rate":0.5},
	        "rpe_post_session":5}`
	out, err := run(t, in, "score")
	if err != nil {
		t.Fatal(err)
	}
	var ps scoring.PerformanceScore
	if err := json.Unmarshal([]byte(out), &ps); err != nil {
		t.Fatal(err)
	}
	if math.Abs(ps.OverallScore-79.17) > 0.01 {
		t.Fatalf("overall = %v", ps.OverallScore)
	}
	if _, err := run(t, `{"nope":1}`, "score"); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestProtocolFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "protocol.yaml")
	doc := "name: SITE-A\nweights:\n  compliance: 0.7\n  symmetry: 0.1\n  effort: 0.2\n  game: 0\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	counts := `{"left_counts":{"expected":10,"total":10,"good_mvc":10,"good_duration":10},
	            "right_counts":{"expected":10,"total":10,"good_mvc":10,"good_duration":10}}`
	out, err := run(t, counts, "score", "--protocol", path)
	if err != nil {
		t.Fatal(err)
	}
	var ps scoring.PerformanceScore
	if err := json.Unmarshal([]byte(out), &ps); err != nil {
		t.Fatal(err)
	}
	// compliance 100*0.7 + symmetry 100*0.1, no RPE
	if math.Abs(ps.OverallScore-80) > 1e-9 {
		t.Fatalf("overall = %v, want 80", ps.OverallScore)
	}
	if _, err := run(t, "", "rpe", "4", "--protocol", filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing protocol accepted")
	}
}
