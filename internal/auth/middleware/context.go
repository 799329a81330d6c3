package auth

import "context"

// Actor is the authenticated caller. Its Subject is what audit entries
// record as the actor id.
type Actor struct {
	Subject string
	Role    string
}

type actorKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

// ActorID is the subject of the caller on ctx, or "" when the request never
// passed JWTMiddleware.
func ActorID(ctx context.Context) string {
	a, _ := ActorFromContext(ctx)
	return a.Subject
}
