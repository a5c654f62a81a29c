package rbac

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleMember Role = "member"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead          Action = "read"
	ActionAcknowledge   Action = "acknowledge"
	ActionWrite         Action = "write"
	ActionPublish       Action = "publish"
	ActionViewReports   Action = "view_reports"
	ActionManagePortals Action = "manage_portals"
	ActionAdmin         Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionAcknowledge || action == ActionWrite ||
			action == ActionPublish || action == ActionViewReports
	case RoleMember:
		return action == ActionRead || action == ActionAcknowledge
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// SeesDrafts reports whether a role may see unpublished policies in listings.
func SeesDrafts(role Role) bool {
	return role == RoleAdmin || role == RoleEditor
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleMember, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
