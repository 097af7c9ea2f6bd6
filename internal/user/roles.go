package user

import "github.com/bloodconnect/platform/internal/shared/auth"

// Role is a user's role on the platform
type Role string

const (
	RoleDonor    Role = auth.RoleDonor
	RolePatient  Role = auth.RolePatient
	RoleHospital Role = auth.RoleHospital
	RoleAdmin    Role = auth.RoleAdmin
)

// Roles lists every role in display order
func Roles() []Role {
	return []Role{RoleDonor, RolePatient, RoleHospital, RoleAdmin}
}

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleDonor, RolePatient, RoleHospital, RoleAdmin:
		return true
	}
	return false
}

// Permission is a single action on a resource
type Permission string

const (
	PermRequestCreate   Permission = "request.create"
	PermRequestReview   Permission = "request.review"
	PermDonationOffer   Permission = "donation.offer"
	PermDonationReview  Permission = "donation.review"
	PermInventoryManage Permission = "inventory.manage"
	PermUserManage      Permission = "user.manage"
	PermAuditRead       Permission = "audit.read"
	PermSimulationRun   Permission = "simulation.run"
)

// RolePermissions maps roles to their permissions
var RolePermissions = map[Role][]Permission{
	RoleDonor:    {PermDonationOffer, PermRequestCreate},
	RolePatient:  {PermRequestCreate},
	RoleHospital: {PermRequestReview, PermDonationReview, PermInventoryManage},
	RoleAdmin: {
		PermRequestCreate, PermRequestReview, PermDonationOffer, PermDonationReview,
		PermInventoryManage, PermUserManage, PermAuditRead, PermSimulationRun,
	},
}

// HasPermission checks if a role has a specific permission
func HasPermission(role Role, perm Permission) bool {
	for _, p := range RolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// Permissions returns the permissions of role
func (r Role) Permissions() []Permission {
	return append([]Permission(nil), RolePermissions[r]...)
}
