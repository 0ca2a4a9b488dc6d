package api

import (
	"context"

	"github.com/bobarin/slnpart/internal/models"
)

type ctxKey int

const actorKey ctxKey = iota

// WithActor stores the resolved actor for the request.
func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFrom returns the actor set by ResolveActor.
func ActorFrom(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(models.Actor)
	return actor, ok
}
