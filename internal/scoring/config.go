// Package scoring holds the pure scoring rules for therapy sessions: weight
// sets and their normalization, the RPE mapping table, per-channel BFR safety
// checks and the aggregation of sub-scores into one performance score.
//
// Nothing in this package touches storage; every function is safe for
// concurrent use.
package scoring

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// WeightTolerance is the allowed deviation from 1.0 for a weight set sum.
const WeightTolerance = 1e-3

// Component names one of the four main weights.
type Component string

const (
	ComponentCompliance Component = "compliance"
	ComponentSymmetry   Component = "symmetry"
	ComponentEffort     Component = "effort"
	ComponentGame       Component = "game"
)

// Components lists the main weights in their canonical order.
var Components = []Component{ComponentCompliance, ComponentSymmetry, ComponentEffort, ComponentGame}

func ParseComponent(s string) (Component, error) {
	c := Component(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range Components {
		if c == k {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: unknown component %q", ErrInvalidWeight, s)
}

// Weights are the four main components of the overall score.
type Weights struct {
	Compliance float64 `json:"compliance" yaml:"compliance"`
	Symmetry   float64 `json:"symmetry" yaml:"symmetry"`
	Effort     float64 `json:"effort" yaml:"effort"`
	Game       float64 `json:"game" yaml:"game"`
}

func (w Weights) Sum() float64 {
	return w.Compliance + w.Symmetry + w.Effort + w.Game
}

// Get returns the weight for c, or 0 for an unknown component.
func (w Weights) Get(c Component) float64 {
	switch c {
	case ComponentCompliance:
		return w.Compliance
	case ComponentSymmetry:
		return w.Symmetry
	case ComponentEffort:
		return w.Effort
	case ComponentGame:
		return w.Game
	}
	return 0
}

func (w *Weights) set(c Component, v float64) {
	switch c {
	case ComponentCompliance:
		w.Compliance = v
	case ComponentSymmetry:
		w.Symmetry = v
	case ComponentEffort:
		w.Effort = v
	case ComponentGame:
		w.Game = v
	}
}

// Validate checks that every weight is in [0,1] and that the set sums to 1.0.
func (w Weights) Validate() error {
	for _, c := range Components {
		if v := w.Get(c); !inUnit(v) {
			return fmt.Errorf("%w: %s=%v", ErrInvalidWeight, c, v)
		}
	}
	if s := w.Sum(); math.Abs(s-1.0) > WeightTolerance {
		return fmt.Errorf("%w: main weights sum to %.4f", ErrWeightSumInvariantViolated, s)
	}
	return nil
}

// SubWeights split the compliance component into completion, intensity and
// duration adherence. They must sum to 1.0 independently of the main weights.
type SubWeights struct {
	Completion float64 `json:"completion" yaml:"completion"`
	Intensity  float64 `json:"intensity" yaml:"intensity"`
	Duration   float64 `json:"duration" yaml:"duration"`
}

func (s SubWeights) Sum() float64 {
	return s.Completion + s.Intensity + s.Duration
}

func (s SubWeights) Validate() error {
	for name, v := range map[string]float64{
		"completion": s.Completion,
		"intensity":  s.Intensity,
		"duration":   s.Duration,
	} {
		if !inUnit(v) {
			return fmt.Errorf("%w: %s=%v", ErrInvalidWeight, name, v)
		}
	}
	if sum := s.Sum(); math.Abs(sum-1.0) > WeightTolerance {
		return fmt.Errorf("%w: compliance sub-weights sum to %.4f", ErrWeightSumInvariantViolated, sum)
	}
	return nil
}

// Configuration is a named, versioned weight set plus its RPE table.
type Configuration struct {
	ID          string     `json:"id"`
	Name        string     `json:"configuration_name"`
	Description string     `json:"description,omitempty"`
	Weights     Weights    `json:"weights"`
	SubWeights  SubWeights `json:"sub_weights"`
	RPEMapping  RPEMapping `json:"rpe_mapping"`
	Active      bool       `json:"active"`
	IsGlobal    bool       `json:"is_global"`
	Protected   bool       `json:"protected"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Validate runs every invariant a configuration must hold before it is saved.
func (c Configuration) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("scoring: configuration name required")
	}
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if err := c.SubWeights.Validate(); err != nil {
		return err
	}
	return c.RPEMapping.Validate()
}

// DefaultWeights is the trial protocol's main weight split.
func DefaultWeights() Weights {
	return Weights{Compliance: 0.50, Symmetry: 0.25, Effort: 0.25, Game: 0.0}
}

// DefaultSubWeights is the trial protocol's compliance split.
func DefaultSubWeights() SubWeights {
	return SubWeights{Completion: 0.333, Intensity: 0.333, Duration: 0.334}
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
