package scoring

import (
	"fmt"
	"math"
	"strings"
)

type Channel string

const (
	ChannelLeft  Channel = "left"
	ChannelRight Channel = "right"
)

func ParseChannel(s string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case ChannelLeft:
		return ChannelLeft, nil
	case ChannelRight:
		return ChannelRight, nil
	}
	return "", fmt.Errorf("%w: unknown channel %q", ErrInvalidMeasurement, s)
}

type MeasurementMethod string

const (
	MethodSensor    MeasurementMethod = "sensor"
	MethodManual    MeasurementMethod = "manual"
	MethodEstimated MeasurementMethod = "estimated"
)

// Default safety band, in percent of arterial occlusion pressure.
const (
	DefaultTargetAOP    = 50.0
	DefaultToleranceAOP = 10.0
)

// BFRReading is one channel's cuff pressure evidence for a session.
type BFRReading struct {
	Channel           Channel           `json:"channel"`
	MeasurementMethod MeasurementMethod `json:"measurement_method"`
	TargetPressureAOP *float64          `json:"target_pressure_aop,omitempty"`
	ActualPressureAOP *float64          `json:"actual_pressure_aop,omitempty"`
	ManualAttestation *bool             `json:"manual_attestation,omitempty"`
}

// BFRResult is a checked reading.
type BFRResult struct {
	BFRReading
	SafetyCompliant bool   `json:"safety_compliant"`
	Reason          string `json:"reason"`
}

// SafetyChecker decides per-channel BFR compliance against a clinically
// configured band around the target pressure.
type SafetyChecker struct {
	TargetAOP    float64 // used when a reading carries no target
	ToleranceAOP float64
}

func NewSafetyChecker(target, tolerance float64) SafetyChecker {
	if target <= 0 {
		target = DefaultTargetAOP
	}
	if tolerance <= 0 {
		tolerance = DefaultToleranceAOP
	}
	return SafetyChecker{TargetAOP: target, ToleranceAOP: tolerance}
}

// Check evaluates one channel.
//
//	sensor:    compliant iff |actual - target| <= tolerance
//	manual:    compliant iff the attestation is true
//	estimated: like sensor when a pressure is present, otherwise like manual
//
// A sensor reading without a pressure falls back to an attestation if one was
// given, and is non-compliant otherwise.
//
// The result carries the canonical lower-case channel name.
func (c SafetyChecker) Check(r BFRReading) (BFRResult, error) {
	ch, err := ParseChannel(string(r.Channel))
	if err != nil {
		return BFRResult{}, err
	}
	r.Channel = ch
	res := BFRResult{BFRReading: r}

	switch r.MeasurementMethod {
	case MethodSensor, MethodEstimated:
		if r.ActualPressureAOP != nil {
			return c.checkPressure(res)
		}
		if r.ManualAttestation != nil {
			return checkAttestation(res), nil
		}
		res.Reason = "no pressure reading"
		return res, nil
	case MethodManual:
		if r.ManualAttestation == nil {
			res.Reason = "no attestation"
			return res, nil
		}
		return checkAttestation(res), nil
	default:
		return BFRResult{}, fmt.Errorf("%w: unknown measurement method %q", ErrInvalidMeasurement, r.MeasurementMethod)
	}
}

func (c SafetyChecker) checkPressure(res BFRResult) (BFRResult, error) {
	target := c.TargetAOP
	if res.TargetPressureAOP != nil {
		target = *res.TargetPressureAOP
	}
	actual := *res.ActualPressureAOP
	if math.IsNaN(actual) || math.IsNaN(target) || actual < 0 || target <= 0 {
		return BFRResult{}, fmt.Errorf("%w: target=%v actual=%v", ErrInvalidMeasurement, target, actual)
	}
	if res.TargetPressureAOP == nil {
		res.TargetPressureAOP = &target
	}
	lo, hi := target-c.ToleranceAOP, target+c.ToleranceAOP
	res.SafetyCompliant = actual >= lo && actual <= hi
	if res.SafetyCompliant {
		res.Reason = "within band"
	} else {
		res.Reason = fmt.Sprintf("outside band %.1f-%.1f%% AOP", lo, hi)
	}
	return res, nil
}

func checkAttestation(res BFRResult) BFRResult {
	res.SafetyCompliant = *res.ManualAttestation
	if res.SafetyCompliant {
		res.Reason = "attested"
	} else {
		res.Reason = "attested non-compliant"
	}
	return res
}

// CheckSession evaluates each channel independently. A channel may appear at
// most once, however its name is spelled.
func (c SafetyChecker) CheckSession(readings []BFRReading) ([]BFRResult, error) {
	seen := map[Channel]bool{}
	out := make([]BFRResult, 0, len(readings))
	for _, r := range readings {
		ch, err := ParseChannel(string(r.Channel))
		if err != nil {
			return nil, err
		}
		if seen[ch] {
			return nil, fmt.Errorf("%w: duplicate channel %q", ErrInvalidMeasurement, ch)
		}
		seen[ch] = true
		r.Channel = ch
		res, err := c.Check(r)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// AllCompliant reports whether every channel passed. An empty slice is not
// evidence of compliance.
func AllCompliant(results []BFRResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if !r.SafetyCompliant {
			return false
		}
	}
	return true
}
