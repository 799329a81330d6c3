package scoring

import (
	"errors"
	"testing"
)

func f64(v float64) *float64 { return &v }
func boolp(v bool) *bool     { return &v }

func TestSafetyChecker_Sensor(t *testing.T) {
	c := NewSafetyChecker(50, 10)
	cases := []struct {
		name   string
		target *float64
		actual float64
		want   bool
	}{
		{"at target", f64(50), 50, true},
		{"lower edge", f64(50), 40, true},
		{"upper edge", f64(50), 60, true},
		{"too low", f64(50), 39.9, false},
		{"too high", f64(50), 60.1, false},
		{"own target", f64(80), 75, true},
		{"default target", nil, 55, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := c.Check(BFRReading{
				Channel:           ChannelLeft,
				MeasurementMethod: MethodSensor,
				TargetPressureAOP: tc.target,
				ActualPressureAOP: f64(tc.actual),
			})
			if err != nil {
				t.Fatal(err)
			}
			if res.SafetyCompliant != tc.want {
				t.Errorf("expected compliant=%v, got %v (%s)", tc.want, res.SafetyCompliant, res.Reason)
			}
			if res.TargetPressureAOP == nil {
				t.Errorf("expected target to be filled in")
			}
		})
	}
}

func TestSafetyChecker_Manual(t *testing.T) {
	c := NewSafetyChecker(0, 0)
	yes, _ := c.Check(BFRReading{Channel: ChannelRight, MeasurementMethod: MethodManual, ManualAttestation: boolp(true)})
	no, _ := c.Check(BFRReading{Channel: ChannelRight, MeasurementMethod: MethodManual, ManualAttestation: boolp(false)})
	none, _ := c.Check(BFRReading{Channel: ChannelRight, MeasurementMethod: MethodManual})
	if !yes.SafetyCompliant || no.SafetyCompliant || none.SafetyCompliant {
		t.Errorf("unexpected manual results: yes=%v no=%v none=%v", yes.SafetyCompliant, no.SafetyCompliant, none.SafetyCompliant)
	}
}

func TestSafetyChecker_SensorWithoutPressure(t *testing.T) {
	c := NewSafetyChecker(50, 10)
	res, err := c.Check(BFRReading{Channel: ChannelLeft, MeasurementMethod: MethodSensor})
	if err != nil {
		t.Fatal(err)
	}
	if res.SafetyCompliant {
		t.Errorf("sensor reading without pressure must not be compliant")
	}
	res, _ = c.Check(BFRReading{Channel: ChannelLeft, MeasurementMethod: MethodEstimated, ManualAttestation: boolp(true)})
	if !res.SafetyCompliant {
		t.Errorf("estimated reading should fall back to attestation")
	}
}

func TestSafetyChecker_MixedSession(t *testing.T) {
	c := NewSafetyChecker(50, 10)
	res, err := c.CheckSession([]BFRReading{
		{Channel: ChannelLeft, MeasurementMethod: MethodSensor, TargetPressureAOP: f64(50), ActualPressureAOP: f64(52)},
		{Channel: ChannelRight, MeasurementMethod: MethodManual, ManualAttestation: boolp(false)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 || !res[0].SafetyCompliant || res[1].SafetyCompliant {
		t.Errorf("unexpected per-channel results: %+v", res)
	}
	if AllCompliant(res) {
		t.Errorf("expected session not compliant")
	}
	if AllCompliant(nil) {
		t.Errorf("no readings must not count as compliant")
	}
}

func TestSafetyChecker_Errors(t *testing.T) {
	c := NewSafetyChecker(50, 10)
	if _, err := c.Check(BFRReading{Channel: "middle", MeasurementMethod: MethodManual}); !errors.Is(err, ErrInvalidMeasurement) {
		t.Errorf("bad channel: expected ErrInvalidMeasurement, got %v", err)
	}
	if _, err := c.Check(BFRReading{Channel: ChannelLeft, MeasurementMethod: "guess"}); !errors.Is(err, ErrInvalidMeasurement) {
		t.Errorf("bad method: expected ErrInvalidMeasurement, got %v", err)
	}
	if _, err := c.Check(BFRReading{Channel: ChannelLeft, MeasurementMethod: MethodSensor, ActualPressureAOP: f64(-3)}); !errors.Is(err, ErrInvalidMeasurement) {
		t.Errorf("negative pressure: expected ErrInvalidMeasurement, got %v", err)
	}
	_, err := c.CheckSession([]BFRReading{
		{Channel: ChannelLeft, MeasurementMethod: MethodManual, ManualAttestation: boolp(true)},
		{Channel: ChannelLeft, MeasurementMethod: MethodManual, ManualAttestation: boolp(true)},
	})
	if !errors.Is(err, ErrInvalidMeasurement) {
		t.Errorf("duplicate channel: expected ErrInvalidMeasurement, got %v", err)
	}
}

func TestSafetyChecker_ChannelCase(t *testing.T) {
	c := NewSafetyChecker(50, 10)
	res, err := c.Check(BFRReading{Channel: " Left ", MeasurementMethod: MethodSensor, ActualPressureAOP: f64(90)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Channel != ChannelLeft {
		t.Errorf("expected canonical channel %q, got %q", ChannelLeft, res.Channel)
	}

	_, err = c.CheckSession([]BFRReading{
		{Channel: "Left", MeasurementMethod: MethodManual, ManualAttestation: boolp(true)},
		{Channel: "left", MeasurementMethod: MethodManual, ManualAttestation: boolp(true)},
	})
	if !errors.Is(err, ErrInvalidMeasurement) {
		t.Errorf("same limb spelled twice: expected ErrInvalidMeasurement, got %v", err)
	}

	res2, err := c.CheckSession([]BFRReading{
		{Channel: "RIGHT", MeasurementMethod: MethodManual, ManualAttestation: boolp(true)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res2[0].Channel != ChannelRight {
		t.Errorf("expected %q, got %q", ChannelRight, res2[0].Channel)
	}
}
