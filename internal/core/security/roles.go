// Package security defines roles and the permissions they grant on fulfillment actions.
package security

import "slices"

// Roles issued by the identity provider.
const (
	RoleAdmin       = "admin"
	RoleManager     = "manager"
	RoleWarehouse   = "warehouse"
	RoleTransporter = "transporter"
	RoleSupport     = "support"
)

// Permissions checked by the HTTP layer before calling into the core.
const (
	PermOrderPlace      = "order:place"
	PermPackagePack     = "package:pack"
	PermTransportAssign = "transport:assign"
	PermTransportStatus = "transport:status"
	PermReturnInitiate  = "return:initiate"
	PermReturnPickup    = "return:pickup"
	PermReturnProcess   = "return:process"
	PermFulfillmentRead = "fulfillment:read"
	PermInventoryManage = "inventory:manage"
)

var rolePermissions = map[string][]string{
	RoleManager: {
		PermOrderPlace, PermPackagePack, PermTransportAssign, PermTransportStatus,
		PermReturnInitiate, PermReturnPickup, PermReturnProcess, PermFulfillmentRead,
		PermInventoryManage,
	},
	RoleWarehouse: {
		PermOrderPlace, PermPackagePack, PermReturnPickup, PermFulfillmentRead,
		PermInventoryManage,
	},
	RoleTransporter: {
		PermTransportStatus, PermReturnPickup, PermFulfillmentRead,
	},
	RoleSupport: {
		PermReturnInitiate, PermFulfillmentRead,
	},
}

// PermissionsFor expands roles into the de-duplicated permission set.
// Admin is handled by callers via UserContext.IsAdmin.
func PermissionsFor(roles []string) []string {
	var out []string
	for _, r := range roles {
		for _, p := range rolePermissions[r] {
			if !slices.Contains(out, p) {
				out = append(out, p)
			}
		}
	}
	return out
}

// Allowed reports whether any of roles grants permission.
func Allowed(roles []string, isAdmin bool, permission string) bool {
	if isAdmin || slices.Contains(roles, RoleAdmin) {
		return true
	}
	return slices.Contains(PermissionsFor(roles), permission)
}
