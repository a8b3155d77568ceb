package domain

import (
	"context"
	"fmt"
	"strings"
)

// Role is the closed set of roles shared by every authorization check.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleTrainer Role = "TRAINER"
	RoleClient  Role = "CLIENT"
)

// ParseRole normalises a role literal; "admin" and "ADMIN" are the same role.
func ParseRole(value string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(value)))
	switch role {
	case RoleAdmin, RoleTrainer, RoleClient:
		return role, nil
	}
	return "", fmt.Errorf("unknown role %q", value)
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID string
	Role   Role
}

// SystemActor performs scheduled work such as automatic completion.
var SystemActor = Actor{UserID: "system", Role: RoleAdmin}

// IsAdmin reports whether the actor holds the ADMIN role.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// IsStaff reports whether the actor may act on behalf of other members.
func (a Actor) IsStaff() bool { return a.Role == RoleAdmin || a.Role == RoleTrainer }

// Owns reports whether the actor is the trainer running the activity.
func (a Actor) Owns(activity Activity) bool {
	return a.Role == RoleTrainer && a.UserID != "" && activity.TrainerID == a.UserID
}

// CanManage reports whether the actor may administer the activity and its attendance.
func (a Actor) CanManage(activity Activity) bool {
	return a.IsAdmin() || a.Owns(activity)
}

// IdentityProvider resolves the caller of the current request.
type IdentityProvider interface {
	CurrentActor(ctx context.Context) (Actor, error)
}

type actorContextKey struct{}

// ContextWithActor stores the actor on the context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext retrieves an actor stored by ContextWithActor.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// ContextIdentity resolves the actor attached to the request context.
type ContextIdentity struct{}

// CurrentActor implements IdentityProvider.
func (ContextIdentity) CurrentActor(ctx context.Context) (Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == "" {
		return Actor{}, ErrUnauthenticated
	}
	return actor, nil
}
