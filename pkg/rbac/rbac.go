// Package rbac provides room-scoped permission checks.
//
// Permissions are not global roles: they derive from a user's standing in
// one room, as its creator or a member of its moderator set. The creator is
// implicitly a moderator everywhere a moderator check applies.
package rbac

// Permission represents a moderator-level action within a room.
type Permission int

const (
	PermAddModerator Permission = iota
	PermBanUser
)

// Standing captures what storage knows about a requester for one room.
type Standing struct {
	IsCreator   bool
	IsModerator bool
}

// HasPermission checks whether a standing grants a permission. Creator and
// moderator currently grant the same set; the split is kept so ownership-only
// actions can be added without touching call sites.
func HasPermission(s Standing, perm Permission) bool {
	switch perm {
	case PermAddModerator, PermBanUser:
		return s.IsCreator || s.IsModerator
	default:
		return false
	}
}

// RequirePermission returns an error message if the standing lacks the
// permission, or empty string if allowed.
func RequirePermission(s Standing, perm Permission) string {
	if HasPermission(s, perm) {
		return ""
	}
	return "permission denied: " + permName(perm) + " requires room creator or moderator"
}

func permName(p Permission) string {
	switch p {
	case PermAddModerator:
		return "add_moderator"
	case PermBanUser:
		return "ban_user"
	default:
		return "unknown"
	}
}
