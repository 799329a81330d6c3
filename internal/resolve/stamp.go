package resolve

import (
	"context"
	"errors"
	"fmt"
)

// StampStore writes a session's configuration once. Implementations must
// only write when the column is still null, and return the id the session
// ends up with plus ErrAlreadyStamped when nothing was written.
type StampStore interface {
	Store
	StampSessionConfig(ctx context.Context, sessionID, configID string) (string, error)
}

// Stamper fixes a new session's scoring configuration.
type Stamper struct {
	resolver *Resolver
	store    StampStore
}

func NewStamper(r *Resolver, st StampStore) *Stamper {
	return &Stamper{resolver: r, store: st}
}

// Stamp resolves the configuration for a new session from the patient's
// preference (or the defaults) and writes it. Stamping an already stamped
// session is a no-op that returns the original id.
func (s *Stamper) Stamp(ctx context.Context, sessionID, patientID string) (Resolution, error) {
	if sessionID == "" {
		return Resolution{}, errors.New("resolve: session id required")
	}
	cur, err := s.store.SessionConfig(ctx, sessionID)
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve: stamp: %w", err)
	}
	if cur != nil && *cur != "" {
		return Resolution{ConfigID: *cur, Tier: TierSessionStamp}, nil
	}

	res, err := s.resolver.Explain(ctx, Request{PatientID: patientID})
	if err != nil {
		return Resolution{}, err
	}

	got, err := s.store.StampSessionConfig(ctx, sessionID, res.ConfigID)
	switch {
	case errors.Is(err, ErrAlreadyStamped):
		// lost a race with another creator; theirs stands
		return Resolution{ConfigID: got, Tier: TierSessionStamp}, nil
	case err != nil:
		return Resolution{}, fmt.Errorf("resolve: stamp: %w", err)
	}
	return res, nil
}
