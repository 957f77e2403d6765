// Package permission answers "may this role do X" from the role's
// permission flags.
package permission

// Capabilities checked across the service.
const (
	All                   = "all"
	NotificationBroadcast = "notification_broadcast"
	RealtimeInspect       = "realtime_inspect"
	MCPAccess             = "mcp_access"
)

// Role slugs seeded by the store.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleSales   = "sales"
)

// Role is a named set of permission flags.
type Role struct {
	Slug        string
	Name        string
	Permissions map[string]bool
}

// Can reports whether role grants capability. Admins and roles carrying the
// "all" flag are granted everything.
func Can(role Role, capability string) bool {
	if role.Slug == RoleAdmin {
		return true
	}
	if role.Permissions[All] {
		return true
	}
	return role.Permissions[capability]
}
