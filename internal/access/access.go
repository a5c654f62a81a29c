// Package access decides whether a visitor may enter a portal. The evaluator
// is pure: it looks only at the portal's access configuration and the
// visitor's presented credentials, never at storage.
package access

import (
	"golang.org/x/crypto/bcrypt"

	"policyhub/api/internal/store"
)

// Portal access types.
const (
	TypePublic        = "public"
	TypePassword      = "password"
	TypeAuthenticated = "authenticated"
	TypeRoleBased     = "role_based"
)

// Visitor carries what the request presented: an optional portal password and
// an optional authenticated session.
type Visitor struct {
	Password string
	Session  *Session
}

// Session is the authenticated identity as far as the evaluator cares: who,
// which org, which role.
type Session struct {
	UserID string
	OrgID  string
	Role   string
}

// Decision is the evaluator's verdict. Reason is a user-facing message and is
// empty when access is allowed.
type Decision struct {
	Allowed bool
	Reason  string
}

var (
	allowed              = Decision{Allowed: true}
	deniedPassword       = Decision{Reason: "Invalid password"}
	deniedAuthentication = Decision{Reason: "Authentication required"}
	deniedRole           = Decision{Reason: "Access denied"}
)

// Evaluate applies the portal's access rule to the visitor. Inactive portals
// are handled by the caller; Evaluate assumes the portal is live.
func Evaluate(portal store.Portal, visitor Visitor) Decision {
	switch portal.AccessType {
	case TypePublic:
		return allowed
	case TypePassword:
		if portal.PasswordHash == nil || visitor.Password == "" {
			return deniedPassword
		}
		if bcrypt.CompareHashAndPassword([]byte(*portal.PasswordHash), []byte(visitor.Password)) != nil {
			return deniedPassword
		}
		return allowed
	case TypeAuthenticated:
		if sessionFor(portal, visitor) == nil {
			return deniedAuthentication
		}
		return allowed
	case TypeRoleBased:
		// role_based portals deny with the same message whether the visitor
		// is unauthenticated or merely lacks the role.
		session := sessionFor(portal, visitor)
		if session == nil {
			return deniedRole
		}
		for _, role := range portal.AllowedRoles {
			if role == session.Role {
				return allowed
			}
		}
		return deniedRole
	default:
		return deniedRole
	}
}

// sessionFor returns the visitor's session only when it belongs to the
// portal's organization.
func sessionFor(portal store.Portal, visitor Visitor) *Session {
	if visitor.Session == nil || visitor.Session.OrgID != portal.OrgID {
		return nil
	}
	return visitor.Session
}

// ValidType reports whether t is a recognized portal access type.
func ValidType(t string) bool {
	switch t {
	case TypePublic, TypePassword, TypeAuthenticated, TypeRoleBased:
		return true
	}
	return false
}
