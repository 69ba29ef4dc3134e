package shared

import "context"

type actorContextKey struct{}

// Actor identifies the caller of a mutating operation. Identity is asserted by
// the upstream gateway; this service only consumes it.
type Actor struct {
	ID   int64
	Role Role
}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// ActorID returns the caller id or zero when unknown.
func ActorID(ctx context.Context) int64 {
	actor, _ := ActorFromContext(ctx)
	return actor.ID
}
