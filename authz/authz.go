package authz

import (
	"errors"
	"strings"
)

// ErrPermissionDenied signals the actor lacks the rights for the attempted action.
var ErrPermissionDenied = errors.New("authz: permission denied")

// Role is the closed set of platform roles.
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleSiteManager Role = "site_manager"
	RoleAdmin       Role = "admin"
	RoleStudent     Role = "student"
)

// Valid reports whether the role is a known platform role.
func (r Role) Valid() bool {
	switch r {
	case RoleCoordinator, RoleSiteManager, RoleAdmin, RoleStudent:
		return true
	default:
		return false
	}
}

// Identity is the resolved acting caller, as produced by the auth layer.
type Identity struct {
	UserID string
	Email  string
	Role   Role
}

// CanCreate reports whether the role carries creation rights on agreements:
// creating records, submitting for review, reverting to draft, editing notes,
// attaching documents, and requesting signatures.
func CanCreate(role Role) bool {
	switch role {
	case RoleCoordinator, RoleSiteManager, RoleAdmin:
		return true
	default:
		return false
	}
}

// CanManage reports whether the role carries management rights, the stricter
// tier gating approval, expiry, termination, and reactivation.
func CanManage(role Role) bool {
	switch role {
	case RoleSiteManager, RoleAdmin:
		return true
	default:
		return false
	}
}

// CanSign reports whether the identity is the invited signer for a record,
// matched by user id when the record has one resolved, otherwise by email.
// Management rights grant no override here: nobody signs on behalf of
// another party.
func CanSign(id Identity, signerEmail string, signerUserID *string) bool {
	if signerUserID != nil && *signerUserID != "" && id.UserID == *signerUserID {
		return true
	}
	return signerEmail != "" && strings.EqualFold(id.Email, signerEmail)
}
