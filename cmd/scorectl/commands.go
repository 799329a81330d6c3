package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mind-engage/rehabscore/internal/scoring"
)

// weightsOutput is what normalize prints. Sub-weights are never rebalanced,
// so a split that no longer sums to 1 is reported instead of fixed.
type weightsOutput struct {
	Weights         scoring.Weights    `json:"weights"`
	SubWeights      scoring.SubWeights `json:"sub_weights"`
	SubWeightsError string             `json:"sub_weights_error,omitempty"`
}

func (c *cli) normalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <component>=<value>...",
		Short: "Edit weights one at a time the way the server does",
		Long: `normalize applies each assignment in order. Main components
(compliance, symmetry, effort, game) rebalance the other three; compliance
sub-components (completion, intensity, duration) are set as-is:

  scorectl normalize compliance=0.6 game=0.1
  scorectl normalize completion=0.5 intensity=0.25 duration=0.25`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.configuration()
			if err != nil {
				return err
			}
			out := weightsOutput{Weights: cfg.Weights, SubWeights: cfg.SubWeights}
			for _, a := range args {
				k, v, ok := strings.Cut(a, "=")
				if !ok {
					return fmt.Errorf("expected component=value, got %q", a)
				}
				val, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return fmt.Errorf("%s: %w", a, err)
				}
				switch sub := scoring.SubComponent(strings.ToLower(strings.TrimSpace(k))); sub {
				case scoring.SubCompletion, scoring.SubIntensity, scoring.SubDuration:
					if out.SubWeights, err = scoring.SetSubWeight(out.SubWeights, sub, val); err != nil {
						return err
					}
				default:
					comp, err := scoring.ParseComponent(k)
					if err != nil {
						return err
					}
					if out.Weights, err = scoring.Normalize(out.Weights, comp, val); err != nil {
						return err
					}
				}
				c.log.Debug("weight set", "component", k, "value", val)
			}
			if err := out.SubWeights.Validate(); err != nil {
				out.SubWeightsError = err.Error()
			}
			return c.print(out)
		},
	}
}

func (c *cli) rpeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rpe <0-10>",
		Short: "Look up the effort score for a post-session RPE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("rpe must be an integer: %w", err)
			}
			cfg, err := c.configuration()
			if err != nil {
				return err
			}
			e, err := scoring.MapRPE(v, cfg.RPEMapping)
			if err != nil {
				return err
			}
			return c.print(struct {
				RPE int `json:"rpe"`
				scoring.RPEEntry
			}{v, e})
		},
	}
}

func (c *cli) bfrCmd() *cobra.Command {
	var (
		channel, method string
		actual, target  float64
		tolerance       float64
		attest          bool
	)
	cmd := &cobra.Command{
		Use:   "bfr",
		Short: "Check one channel's cuff reading against the safety band",
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, err := scoring.ParseChannel(channel)
			if err != nil {
				return err
			}
			r := scoring.BFRReading{Channel: ch, MeasurementMethod: scoring.MeasurementMethod(strings.ToLower(method))}
			if cmd.Flags().Changed("actual") {
				r.ActualPressureAOP = &actual
			}
			if cmd.Flags().Changed("target") {
				r.TargetPressureAOP = &target
			}
			if cmd.Flags().Changed("attest") {
				r.ManualAttestation = &attest
			}
			res, err := scoring.NewSafetyChecker(target, tolerance).Check(r)
			if err != nil {
				return err
			}
			return c.print(res)
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "left", "left|right")
	cmd.Flags().StringVar(&method, "method", "sensor", "sensor|manual|estimated")
	cmd.Flags().Float64Var(&actual, "actual", 0, "measured pressure, % AOP")
	cmd.Flags().Float64Var(&target, "target", scoring.DefaultTargetAOP, "target pressure, % AOP")
	cmd.Flags().Float64Var(&tolerance, "tolerance", scoring.DefaultToleranceAOP, "allowed deviation, % AOP")
	cmd.Flags().BoolVar(&attest, "attest", false, "therapist attests the cuff was applied safely")
	return cmd
}

// scoreInput is the file scorectl score reads: session analytics plus any
// BFR readings.
type scoreInput struct {
	Left        scoring.ChannelRates       `json:"left"`
	Right       scoring.ChannelRates       `json:"right"`
	LeftCounts  *scoring.ContractionCounts `json:"left_counts,omitempty"`
	RightCounts *scoring.ContractionCounts `json:"right_counts,omitempty"`
	RPE         *int                       `json:"rpe_post_session,omitempty"`
	GameScore   *float64                   `json:"game_score,omitempty"`
	BFR         []scoring.BFRReading       `json:"bfr,omitempty"`
}

func (c *cli) scoreCmd() *cobra.Command {
	var (
		input   string
		bfrGate bool
	)
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Compute a session's performance score from a JSON input file",
		Long: `score reads session analytics as JSON (--input, "-" for stdin):

  {"left": {"completion_rate": 1, "intensity_rate": 1, "duration_rate": 1},
   "right_counts": {"expected": 12, "total": 6, "good_mvc": 3, "good_duration": 3},
   "rpe_post_session": 5,
   "bfr": [{"channel": "left", "measurement_method": "sensor", "actual_pressure_aop": 48}]}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readScoreInput(cmd.InOrStdin(), input)
			if err != nil {
				return err
			}
			cfg, err := c.configuration()
			if err != nil {
				return err
			}
			ps, err := score(cfg, in, bfrGate)
			if err != nil {
				return err
			}
			return c.print(ps)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "-", "analytics JSON file")
	cmd.Flags().BoolVar(&bfrGate, "bfr-gate", false, "zero compliance on channels that failed the BFR check")
	return cmd
}

func readScoreInput(stdin io.Reader, path string) (scoreInput, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return scoreInput{}, err
		}
		defer f.Close()
		r = f
	}
	var in scoreInput
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return scoreInput{}, fmt.Errorf("reading input: %w", err)
	}
	return in, nil
}

func score(cfg scoring.Configuration, in scoreInput, bfrGate bool) (scoring.PerformanceScore, error) {
	agg := scoring.Input{Left: in.Left, Right: in.Right, RPE: in.RPE, GameScore: in.GameScore}
	if in.LeftCounts != nil {
		agg.Left = scoring.RatesFromCounts(*in.LeftCounts)
	}
	if in.RightCounts != nil {
		agg.Right = scoring.RatesFromCounts(*in.RightCounts)
	}
	if in.RPE != nil {
		e, err := scoring.MapRPE(*in.RPE, cfg.RPEMapping)
		if err != nil {
			return scoring.PerformanceScore{}, err
		}
		agg.EffortScore = e.Score
	}
	if len(in.BFR) > 0 {
		res, err := scoring.NewSafetyChecker(0, 0).CheckSession(in.BFR)
		if err != nil {
			return scoring.PerformanceScore{}, err
		}
		agg.BFR = res
	}
	return scoring.NewAggregator(scoring.WithBFRGate(bfrGate)).Aggregate(cfg, agg)
}
