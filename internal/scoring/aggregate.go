package scoring

import (
	"fmt"
	"math"
	"time"
)

// ChannelRates are one muscle's adherence rates, each a fraction in [0,1].
type ChannelRates struct {
	Completion float64 `json:"completion_rate"`
	Intensity  float64 `json:"intensity_rate"`
	Duration   float64 `json:"duration_rate"`
}

// ContractionCounts are the raw per-channel tallies analytics hand over.
type ContractionCounts struct {
	Expected     int `json:"expected"`
	Total        int `json:"total"`
	GoodMVC      int `json:"good_mvc"`
	GoodDuration int `json:"good_duration"`
}

// RatesFromCounts derives the three adherence rates. Completion is capped at
// 1 when a patient does more contractions than prescribed.
func RatesFromCounts(c ContractionCounts) ChannelRates {
	return ChannelRates{
		Completion: clamp(ratio(c.Total, c.Expected), 0, 1),
		Intensity:  clamp(ratio(c.GoodMVC, c.Total), 0, 1),
		Duration:   clamp(ratio(c.GoodDuration, c.Total), 0, 1),
	}
}

func ratio(n, d int) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// ChannelScore is the per-muscle part of a PerformanceScore.
type ChannelScore struct {
	CompletionRate   float64 `json:"completion_rate"`
	IntensityRate    float64 `json:"intensity_rate"`
	DurationRate     float64 `json:"duration_rate"`
	MuscleCompliance float64 `json:"muscle_compliance"`
}

// PerformanceScore is one session's stored result.
type PerformanceScore struct {
	SessionID        string       `json:"session_id"`
	ScoringConfigID  string       `json:"scoring_config_id"`
	OverallScore     float64      `json:"overall_score"`
	ComplianceScore  float64      `json:"compliance_score"`
	SymmetryScore    float64      `json:"symmetry_score"`
	EffortScore      float64      `json:"effort_score"`
	GameScore        float64      `json:"game_score"`
	GameScorePresent bool         `json:"game_score_present"`
	Left             ChannelScore `json:"left"`
	Right            ChannelScore `json:"right"`
	RPEPostSession   *int         `json:"rpe_post_session,omitempty"`
	BFRCompliant     *bool        `json:"bfr_compliant,omitempty"`
	ComputedAt       time.Time    `json:"computed_at"`
}

// Input carries everything Aggregate needs besides the configuration.
type Input struct {
	SessionID   string
	Left, Right ChannelRates
	// EffortScore is the mapped RPE score, 0..100.
	EffortScore float64
	RPE         *int
	GameScore   *float64
	BFR         []BFRResult
}

type Option func(*Aggregator)

// WithBFRGate zeroes a channel's muscle compliance when its BFR check failed.
func WithBFRGate(on bool) Option { return func(a *Aggregator) { a.bfrGate = on } }

// Aggregator combines sub-scores into an overall score. It holds no mutable
// state; one value can be shared by any number of goroutines.
type Aggregator struct {
	bfrGate bool
}

func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Aggregate computes the performance score for one session. It is pure: the
// same configuration and input always produce the same result. ComputedAt is
// left zero for the caller to stamp.
func (a *Aggregator) Aggregate(cfg Configuration, in Input) (PerformanceScore, error) {
	if err := cfg.Weights.Validate(); err != nil {
		return PerformanceScore{}, err
	}
	if err := cfg.SubWeights.Validate(); err != nil {
		return PerformanceScore{}, err
	}

	left := channelScore(cfg.SubWeights, in.Left)
	right := channelScore(cfg.SubWeights, in.Right)

	if a.bfrGate {
		for _, r := range in.BFR {
			if r.SafetyCompliant {
				continue
			}
			ch, _ := ParseChannel(string(r.Channel))
			switch ch {
			case ChannelLeft:
				left.MuscleCompliance = 0
			case ChannelRight:
				right.MuscleCompliance = 0
			}
		}
	}

	cl, cr := left.MuscleCompliance, right.MuscleCompliance
	compliance := clamp((cl+cr)/2*100, 0, 100)
	symmetry := clamp(Symmetry(cl, cr)*100, 0, 100)
	effort := clamp(in.EffortScore, 0, 100)

	game := 0.0
	if in.GameScore != nil {
		game = clamp(*in.GameScore, 0, 100)
	}

	w := cfg.Weights
	overall := clamp(
		compliance*w.Compliance+
			symmetry*w.Symmetry+
			effort*w.Effort+
			game*w.Game,
		0, 100)

	ps := PerformanceScore{
		SessionID:        in.SessionID,
		ScoringConfigID:  cfg.ID,
		OverallScore:     overall,
		ComplianceScore:  compliance,
		SymmetryScore:    symmetry,
		EffortScore:      effort,
		GameScore:        game,
		GameScorePresent: in.GameScore != nil,
		Left:             left,
		Right:            right,
	}
	if in.RPE != nil {
		v := *in.RPE
		ps.RPEPostSession = &v
	}
	if len(in.BFR) > 0 {
		ok := AllCompliant(in.BFR)
		ps.BFRCompliant = &ok
	}
	return ps, nil
}

func channelScore(sw SubWeights, r ChannelRates) ChannelScore {
	cs := ChannelScore{
		CompletionRate: clamp(r.Completion, 0, 1),
		IntensityRate:  clamp(r.Intensity, 0, 1),
		DurationRate:   clamp(r.Duration, 0, 1),
	}
	cs.MuscleCompliance = clamp(
		cs.CompletionRate*sw.Completion+
			cs.IntensityRate*sw.Intensity+
			cs.DurationRate*sw.Duration,
		0, 1)
	return cs
}

// Symmetry returns 1 - |l-r|/(l+r), in [0,1]. Two silent channels count as
// perfectly symmetric.
func Symmetry(l, r float64) float64 {
	if l+r == 0 {
		return 1
	}
	return 1 - math.Abs(l-r)/(l+r)
}

// clamp bounds v to [lo,hi]; NaN maps to lo.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// String renders the headline numbers for logs and the CLI.
func (p PerformanceScore) String() string {
	return fmt.Sprintf("overall=%.2f compliance=%.2f symmetry=%.2f effort=%.2f game=%.2f",
		p.OverallScore, p.ComplianceScore, p.SymmetryScore, p.EffortScore, p.GameScore)
}
