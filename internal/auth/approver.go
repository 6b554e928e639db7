package auth

import (
	"context"
	"strings"
)

// Approver is the authorization collaborator consulted at the pending ->
// approved transition. Implementations decide whether the acting user may
// sign off on the given allocation; the lifecycle itself never re-implements
// role checks.
type Approver interface {
	CanApprove(ctx context.Context, actorID, allocationID string) (bool, error)
}

// RoleApprover grants approval capability to users holding any of the
// configured roles, resolved from the authenticated request context. The
// actor must match the authenticated user so a token cannot approve on
// someone else's behalf.
type RoleApprover struct {
	Roles []string
}

// NewRoleApprover returns an approver for the office roles that may sign off
// on allocations. With no roles given it defaults to admin and ero.
func NewRoleApprover(roles ...string) RoleApprover {
	if len(roles) == 0 {
		roles = []string{RoleAdmin, RoleERO}
	}
	return RoleApprover{Roles: roles}
}

func (ra RoleApprover) CanApprove(ctx context.Context, actorID, allocationID string) (bool, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return false, nil
	}
	if userID, ok := UserIDFromContext(ctx); ok && userID != actorID {
		return false, nil
	}
	for _, role := range ra.Roles {
		if HasRole(ctx, role) {
			return true, nil
		}
	}
	return false, nil
}
