package scoring

import (
	"errors"
	"math"
	"testing"
)

func approx(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func trialConfig() Configuration {
	cfg := DefaultConfiguration()
	cfg.ID = "cfg-trial"
	return cfg
}

func TestAggregate_EndToEnd(t *testing.T) {
	agg := NewAggregator()
	rpe := 5
	entry, err := MapRPE(rpe, DefaultRPEMapping())
	if err != nil {
		t.Fatal(err)
	}
	ps, err := agg.Aggregate(trialConfig(), Input{
		SessionID:   "s1",
		Left:        ChannelRates{Completion: 1, Intensity: 1, Duration: 1},
		Right:       ChannelRates{Completion: 0.5, Intensity: 0.5, Duration: 0.5},
		EffortScore: entry.Score,
		RPE:         &rpe,
	})
	if err != nil {
		t.Fatal(err)
	}

	if !approx(ps.Left.MuscleCompliance*100, 100, 0.01) {
		t.Errorf("expected compliance_left=100, got %v", ps.Left.MuscleCompliance*100)
	}
	if !approx(ps.Right.MuscleCompliance*100, 50, 0.01) {
		t.Errorf("expected compliance_right=50, got %v", ps.Right.MuscleCompliance*100)
	}
	if !approx(ps.ComplianceScore, 75, 0.01) {
		t.Errorf("expected compliance_score=75, got %v", ps.ComplianceScore)
	}
	if !approx(ps.SymmetryScore, 66.67, 0.01) {
		t.Errorf("expected symmetry_score=66.67, got %v", ps.SymmetryScore)
	}
	if ps.EffortScore != 100 {
		t.Errorf("expected effort_score=100, got %v", ps.EffortScore)
	}
	if !approx(ps.OverallScore, 79.17, 0.01) {
		t.Errorf("expected overall=79.17, got %v", ps.OverallScore)
	}
	if ps.RPEPostSession == nil || *ps.RPEPostSession != 5 {
		t.Errorf("expected rpe_post_session=5, got %v", ps.RPEPostSession)
	}
	if ps.ScoringConfigID != "cfg-trial" || ps.SessionID != "s1" {
		t.Errorf("ids not carried: %+v", ps)
	}
}

func TestAggregate_Idempotent(t *testing.T) {
	agg := NewAggregator()
	game := 63.3
	in := Input{
		Left:        ChannelRates{Completion: 0.91, Intensity: 0.37, Duration: 0.73},
		Right:       ChannelRates{Completion: 0.12, Intensity: 0.88, Duration: 0.41},
		EffortScore: 75,
		GameScore:   &game,
	}
	cfg := trialConfig()
	cfg.Weights = Weights{Compliance: 0.4, Symmetry: 0.2, Effort: 0.2, Game: 0.2}

	first, err := agg.Aggregate(cfg, in)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 100; i++ {
		again, err := agg.Aggregate(cfg, in)
		if err != nil {
			t.Fatal(err)
		}
		if math.Float64bits(again.OverallScore) != math.Float64bits(first.OverallScore) ||
			again.Left != first.Left || again.Right != first.Right ||
			again.SymmetryScore != first.SymmetryScore {
			t.Fatalf("run %d differs: %v vs %v", i, again, first)
		}
	}
}

func TestAggregate_SymmetryBothZero(t *testing.T) {
	ps, err := NewAggregator().Aggregate(trialConfig(), Input{})
	if err != nil {
		t.Fatal(err)
	}
	if ps.SymmetryScore != 100 {
		t.Errorf("expected symmetry 100 for silent channels, got %v", ps.SymmetryScore)
	}
	if ps.ComplianceScore != 0 {
		t.Errorf("expected compliance 0, got %v", ps.ComplianceScore)
	}
	if !approx(ps.OverallScore, 25, 1e-9) {
		t.Errorf("expected overall 25 (symmetry term only), got %v", ps.OverallScore)
	}
}

func TestAggregate_GameWeightZeroIgnoresRawValue(t *testing.T) {
	agg := NewAggregator()
	in := Input{
		Left:        ChannelRates{Completion: 0.8, Intensity: 0.8, Duration: 0.8},
		Right:       ChannelRates{Completion: 0.8, Intensity: 0.8, Duration: 0.8},
		EffortScore: 50,
	}
	without, _ := agg.Aggregate(trialConfig(), in)
	g := 100.0
	in.GameScore = &g
	with, _ := agg.Aggregate(trialConfig(), in)
	if with.OverallScore != without.OverallScore {
		t.Errorf("game score moved overall with weight 0: %v vs %v", with.OverallScore, without.OverallScore)
	}
	if !with.GameScorePresent || with.GameScore != 100 {
		t.Errorf("game score not passed through: %+v", with)
	}
}

func TestAggregate_MissingGameCountsAsZero(t *testing.T) {
	cfg := trialConfig()
	cfg.Weights = Weights{Compliance: 0.5, Symmetry: 0, Effort: 0, Game: 0.5}
	full := ChannelRates{Completion: 1, Intensity: 1, Duration: 1}
	ps, err := NewAggregator().Aggregate(cfg, Input{Left: full, Right: full})
	if err != nil {
		t.Fatal(err)
	}
	if !approx(ps.OverallScore, 50, 1e-6) {
		t.Errorf("expected overall 50, got %v", ps.OverallScore)
	}
}

func TestAggregate_ClampsInputs(t *testing.T) {
	g := 250.0
	ps, err := NewAggregator().Aggregate(trialConfig(), Input{
		Left:        ChannelRates{Completion: 3, Intensity: -1, Duration: math.NaN()},
		Right:       ChannelRates{Completion: 1.5, Intensity: 1.5, Duration: 1.5},
		EffortScore: 180,
		GameScore:   &g,
	})
	if err != nil {
		t.Fatal(err)
	}
	for name, v := range map[string]float64{
		"overall": ps.OverallScore, "compliance": ps.ComplianceScore,
		"symmetry": ps.SymmetryScore, "effort": ps.EffortScore, "game": ps.GameScore,
	} {
		if v < 0 || v > 100 {
			t.Errorf("%s=%v outside [0,100]", name, v)
		}
	}
	if ps.Left.IntensityRate != 0 || ps.Left.DurationRate != 0 || ps.Left.CompletionRate != 1 {
		t.Errorf("rates not clamped: %+v", ps.Left)
	}
}

func TestAggregate_RejectsBrokenWeights(t *testing.T) {
	cfg := trialConfig()
	cfg.SubWeights = SubWeights{Completion: 0.5, Intensity: 0.5, Duration: 0.5}
	if _, err := NewAggregator().Aggregate(cfg, Input{}); !errors.Is(err, ErrWeightSumInvariantViolated) {
		t.Errorf("expected ErrWeightSumInvariantViolated, got %v", err)
	}
}

func TestAggregate_BFRGate(t *testing.T) {
	full := ChannelRates{Completion: 1, Intensity: 1, Duration: 1}
	bfr := []BFRResult{
		{BFRReading: BFRReading{Channel: ChannelLeft}, SafetyCompliant: true},
		{BFRReading: BFRReading{Channel: ChannelRight}, SafetyCompliant: false},
	}
	in := Input{Left: full, Right: full, BFR: bfr}

	ungated, _ := NewAggregator().Aggregate(trialConfig(), in)
	if !approx(ungated.ComplianceScore, 100, 0.01) {
		t.Errorf("expected ungated compliance 100, got %v", ungated.ComplianceScore)
	}
	if ungated.BFRCompliant == nil || *ungated.BFRCompliant {
		t.Errorf("expected bfr_compliant=false, got %v", ungated.BFRCompliant)
	}

	gated, _ := NewAggregator(WithBFRGate(true)).Aggregate(trialConfig(), in)
	if gated.Right.MuscleCompliance != 0 {
		t.Errorf("expected right channel gated to 0, got %v", gated.Right.MuscleCompliance)
	}
	if !approx(gated.ComplianceScore, 50, 0.01) {
		t.Errorf("expected gated compliance 50, got %v", gated.ComplianceScore)
	}
}

func TestRatesFromCounts(t *testing.T) {
	got := RatesFromCounts(ContractionCounts{Expected: 12, Total: 15, GoodMVC: 9, GoodDuration: 12})
	if got.Completion != 1 {
		t.Errorf("expected completion capped at 1, got %v", got.Completion)
	}
	if !approx(got.Intensity, 0.6, 1e-9) || !approx(got.Duration, 0.8, 1e-9) {
		t.Errorf("unexpected rates: %+v", got)
	}
	if zero := RatesFromCounts(ContractionCounts{}); zero != (ChannelRates{}) {
		t.Errorf("expected zero rates, got %+v", zero)
	}
}

func TestAggregate_BFRGateMixedCase(t *testing.T) {
	full := ChannelRates{Completion: 1, Intensity: 1, Duration: 1}
	checked, err := NewSafetyChecker(50, 10).CheckSession([]BFRReading{
		{Channel: "Left", MeasurementMethod: MethodSensor, ActualPressureAOP: f64(90)},
	})
	if err != nil {
		t.Fatal(err)
	}
	// a caller passing an uncanonical channel straight to the aggregator is gated too
	raw := []BFRResult{{BFRReading: BFRReading{Channel: "RIGHT"}, SafetyCompliant: false}}

	agg := NewAggregator(WithBFRGate(true))
	for name, bfr := range map[string][]BFRResult{"checked": checked, "raw": raw} {
		got, err := agg.Aggregate(trialConfig(), Input{Left: full, Right: full, BFR: bfr})
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !approx(got.ComplianceScore, 50, 0.01) {
			t.Errorf("%s: expected gated compliance 50, got %v", name, got.ComplianceScore)
		}
	}
}
