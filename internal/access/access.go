// Package access decides which views a role may open.
//
// These checks only shape the user interface. The check-in API enforces
// authorization on every request it serves; a request that passes here can
// still be refused upstream, and callers must handle that.
package access

import (
	"slices"

	"github.com/pavelanni/checkin/internal/model"
)

// Policy holds the role rules that vary between deployments.
type Policy struct {
	// AdminActsAsClinician lets admins open clinician views.
	AdminActsAsClinician bool
}

// DefaultPolicy lets admins see clinician views.
func DefaultPolicy() Policy {
	return Policy{AdminActsAsClinician: true}
}

// EffectiveRoles lists the roles a user with role acts as.
func (p Policy) EffectiveRoles(role model.Role) []model.Role {
	if !role.Valid() {
		return nil
	}
	if role == model.RoleAdmin && p.AdminActsAsClinician {
		return []model.Role{model.RoleAdmin, model.RoleClinician}
	}
	return []model.Role{role}
}

// Allows reports whether role may open a view requiring any of required.
// An empty required list admits every known role.
func (p Policy) Allows(role model.Role, required ...model.Role) bool {
	effective := p.EffectiveRoles(role)
	if len(effective) == 0 {
		return false
	}
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if slices.Contains(effective, r) {
			return true
		}
	}
	return false
}

// CanViewSubject reports whether the viewer may open the results of
// subjectID. Clients see only their own; staff may open anyone's and the
// API narrows that to their caseload.
func (p Policy) CanViewSubject(viewer model.Identity, subjectID string) bool {
	if viewer.Role == model.RoleClient {
		return viewer.UserID == subjectID
	}
	return p.Allows(viewer.Role, model.RoleClinician, model.RoleAdmin)
}
