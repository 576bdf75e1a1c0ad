// Package policy decides which actor may view or mutate which resource.
//
// Every function here is pure: no I/O, no clocks, no session state. The same
// rules run in the client engine before a remote call and in the HTTP server
// before a write, so both sides always reach the same decision.
package policy

import (
	"fmt"

	"taskdesk/internal/domain"
)

type Action string

const (
	ActionEdit             Action = "edit"
	ActionDelete           Action = "delete"
	ActionChangeRole       Action = "changeRole"
	ActionChangeDepartment Action = "changeDepartment"
)

func (a Action) known() bool {
	switch a {
	case ActionEdit, ActionDelete, ActionChangeRole, ActionChangeDepartment:
		return true
	}
	return false
}

// ForbiddenError indicates the policy denied an action.
type ForbiddenError struct {
	Action Action
	Kind   domain.Kind
	ID     string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("%s on %s %s not permitted", e.Action, e.Kind, e.ID)
}

// CanView reports whether actor may see resource. Tasks are visible to
// their owner and to managers of their department; accounts only to
// themselves. Admins see everything.
func CanView(actor domain.Actor, r domain.Resource) bool {
	if r == nil || actor.ID == "" {
		return false
	}
	if actor.Role == domain.RoleAdmin {
		return true
	}
	if r.Owner() == actor.ID {
		return true
	}
	// accounts are visible to admins and to themselves only
	if r.ResourceKind() == domain.KindAccount {
		return false
	}
	return actor.Role == domain.RoleManager && sameDepartment(actor, r)
}

// CanMutate evaluates the rules in precedence order; the first match wins
// and anything unmatched is denied.
//
// Deleting one's own account is denied for every role, admins included:
// self-deletion is a separate flow and never goes through this path.
func CanMutate(actor domain.Actor, r domain.Resource, action Action) bool {
	if r == nil || actor.ID == "" || !actor.Role.Valid() || !action.known() {
		return false
	}
	if r.ResourceKind() == domain.KindAccount && action == ActionDelete && r.ResourceID() == actor.ID {
		return false
	}
	if actor.Role == domain.RoleAdmin {
		return true
	}
	switch r.ResourceKind() {
	case domain.KindTask:
		switch action {
		case ActionEdit, ActionDelete:
			if actor.Role == domain.RoleManager && sameDepartment(actor, r) {
				return true
			}
			return r.Owner() == actor.ID
		}
	case domain.KindAccount:
		// role, department and delete are admin-only
		return false
	}
	return false
}

// CanCreate reports whether actor may create a resource of kind. Tasks are
// always owned by their creator, so any authenticated actor may create one.
func CanCreate(actor domain.Actor, kind domain.Kind) bool {
	if actor.ID == "" || !actor.Role.Valid() {
		return false
	}
	switch kind {
	case domain.KindTask:
		return true
	case domain.KindAccount:
		return actor.Role == domain.RoleAdmin
	}
	return false
}

// Authorize returns a ForbiddenError when CanMutate denies.
func Authorize(actor domain.Actor, r domain.Resource, action Action) error {
	if r == nil {
		return ForbiddenError{Action: action}
	}
	if !CanMutate(actor, r, action) {
		return ForbiddenError{Action: action, Kind: r.ResourceKind(), ID: r.ResourceID()}
	}
	return nil
}

func sameDepartment(actor domain.Actor, r domain.Resource) bool {
	return actor.Department != "" && actor.Department == r.OwningDepartment()
}
