package scoring

import (
	"fmt"
	"math"
)

// Normalize sets the changed component to value and rescales the other three
// so the set still sums to 1.0. Untouched weights keep their proportions to
// each other; when they are all zero the remainder is split evenly.
//
// The input is never modified.
func Normalize(current Weights, changed Component, value float64) (Weights, error) {
	if _, err := ParseComponent(string(changed)); err != nil {
		return Weights{}, err
	}
	if !inUnit(value) {
		return Weights{}, fmt.Errorf("%w: %s=%v outside [0,1]", ErrInvalidWeight, changed, value)
	}
	for _, c := range Components {
		if c == changed {
			continue
		}
		if v := current.Get(c); math.IsNaN(v) || v < 0 {
			return Weights{}, fmt.Errorf("%w: current %s=%v", ErrInvalidWeight, c, v)
		}
	}

	remaining := 1.0 - value
	otherTotal := current.Sum() - current.Get(changed)

	out := Weights{}
	out.set(changed, value)
	for _, c := range Components {
		if c == changed {
			continue
		}
		if otherTotal > 0 {
			out.set(c, current.Get(c)*(remaining/otherTotal))
		} else {
			out.set(c, remaining/3)
		}
	}
	return out, nil
}

// SubComponent names one of the three compliance sub-weights.
type SubComponent string

const (
	SubCompletion SubComponent = "completion"
	SubIntensity  SubComponent = "intensity"
	SubDuration   SubComponent = "duration"
)

// SetSubWeight applies an edit to one compliance sub-weight as-is. Unlike the
// main weights nothing is rebalanced; callers must run Validate before saving.
func SetSubWeight(current SubWeights, key SubComponent, value float64) (SubWeights, error) {
	if !inUnit(value) {
		return SubWeights{}, fmt.Errorf("%w: %s=%v outside [0,1]", ErrInvalidWeight, key, value)
	}
	switch key {
	case SubCompletion:
		current.Completion = value
	case SubIntensity:
		current.Intensity = value
	case SubDuration:
		current.Duration = value
	default:
		return SubWeights{}, fmt.Errorf("%w: unknown sub-component %q", ErrInvalidWeight, key)
	}
	return current, nil
}
