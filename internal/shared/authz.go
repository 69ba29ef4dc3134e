package shared

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Role is the caller's privilege level. Roles are ordered; a higher role
// implies every permission of the lower ones.
type Role int

const (
	RoleNone Role = iota
	RoleViewer
	RoleOperator
	RoleManager
	RoleAdmin
)

var roleNames = map[Role]string{
	RoleNone:     "none",
	RoleViewer:   "viewer",
	RoleOperator: "operator",
	RoleManager:  "manager",
	RoleAdmin:    "admin",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "role(" + strconv.Itoa(int(r)) + ")"
}

// ParseRole maps a role name to Role. Unknown names map to RoleNone.
func ParseRole(value string) Role {
	value = strings.ToLower(strings.TrimSpace(value))
	for role, name := range roleNames {
		if name == value {
			return role
		}
	}
	return RoleNone
}

// Required roles per action class.
const (
	// RoleRead is needed for listing and lookups.
	RoleRead = RoleViewer
	// RoleMutate is needed for ordinary pipeline mutations.
	RoleMutate = RoleOperator
	// RoleElevated is needed for approvals, adjustments, cancellations and deletes.
	RoleElevated = RoleManager
)

// RequireRole rejects the call when the context actor is below min.
func RequireRole(ctx context.Context, min Role) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return fmt.Errorf("%w: no caller role supplied", ErrForbidden)
	}
	if actor.Role < min {
		return fmt.Errorf("%w: role %s required, caller has %s", ErrForbidden, min, actor.Role)
	}
	return nil
}

// Gateway headers carrying the caller identity.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

// ActorMiddleware reads the caller identity asserted by the gateway and stores
// it in the request context. Requests without a role proceed as RoleNone and
// are rejected by the first RequireRole check.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := Actor{Role: ParseRole(r.Header.Get(HeaderActorRole))}
		if raw := r.Header.Get(HeaderActorID); raw != "" {
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
				actor.ID = id
			}
		}
		next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), actor)))
	})
}
