package resolve

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tier tags a resolution strategy.
type Tier int

const (
	TierSessionStamp Tier = iota + 1
	TierPatientPreference
	TierGlobalDefault
	TierAnyActive
)

func (t Tier) String() string {
	switch t {
	case TierSessionStamp:
		return "session_stamp"
	case TierPatientPreference:
		return "patient_preference"
	case TierGlobalDefault:
		return "global_default"
	case TierAnyActive:
		return "any_active"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

func (t Tier) MarshalJSON() ([]byte, error) { return json.Marshal(t.String()) }

// Strategy is one tier of the cascade. ok=false passes to the next tier.
type Strategy interface {
	Tier() Tier
	Lookup(ctx context.Context, st Store, req Request) (id string, ok bool, err error)
}

// DefaultStrategies returns the four tiers in priority order.
func DefaultStrategies(trialDefault string) []Strategy {
	return []Strategy{
		SessionStamp{},
		PatientPreference{},
		GlobalDefault{Name: trialDefault},
		AnyActive{},
	}
}

// SessionStamp returns a session's frozen configuration.
type SessionStamp struct{}

func (SessionStamp) Tier() Tier { return TierSessionStamp }

func (SessionStamp) Lookup(ctx context.Context, st Store, req Request) (string, bool, error) {
	if req.SessionID == "" {
		return "", false, nil
	}
	return deref(st.SessionConfig(ctx, req.SessionID))
}

// PatientPreference returns the patient's current preference. It only
// matters for sessions not stamped yet.
type PatientPreference struct{}

func (PatientPreference) Tier() Tier { return TierPatientPreference }

func (PatientPreference) Lookup(ctx context.Context, st Store, req Request) (string, bool, error) {
	if req.PatientID == "" {
		return "", false, nil
	}
	return deref(st.PatientPreference(ctx, req.PatientID))
}

// GlobalDefault returns the active global configuration with the trial
// default's name.
type GlobalDefault struct{ Name string }

func (GlobalDefault) Tier() Tier { return TierGlobalDefault }

func (g GlobalDefault) Lookup(ctx context.Context, st Store, _ Request) (string, bool, error) {
	return deref(st.GlobalDefaultID(ctx, g.Name))
}

// AnyActive is the last resort: any active configuration.
type AnyActive struct{}

func (AnyActive) Tier() Tier { return TierAnyActive }

func (AnyActive) Lookup(ctx context.Context, st Store, _ Request) (string, bool, error) {
	return deref(st.AnyActiveID(ctx))
}

func deref(id *string, err error) (string, bool, error) {
	if err != nil {
		return "", false, err
	}
	if id == nil || *id == "" {
		return "", false, nil
	}
	return *id, true, nil
}
