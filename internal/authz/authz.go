package authz

// Role is a caller's role within an agency
type Role string

const (
	RoleOwner   Role = "owner"
	RoleManager Role = "manager"
	RoleStaff   Role = "staff"
)

// SystemRole is a caller's system-level role, independent of any agency
type SystemRole string

const (
	SystemOwner SystemRole = "owner"
	SystemAdmin SystemRole = "admin"
	SystemUser  SystemRole = "user"
)

// Valid reports whether r is a known agency role
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleManager, RoleStaff:
		return true
	}
	return false
}

// Capability identifies a single permission within an agency
type Capability string

const (
	CapViewAllTasks     Capability = "can_view_all_tasks"
	CapCreateTasks      Capability = "can_create_tasks"
	CapEditTasks        Capability = "can_edit_tasks"
	CapDeleteTasks      Capability = "can_delete_tasks"
	CapViewAllReminders Capability = "can_view_all_reminders"
	CapManageMembers    Capability = "can_manage_members"
	CapInviteMembers    Capability = "can_invite_members"
	CapManageBilling    Capability = "can_manage_billing"
	CapManageSettings   Capability = "can_manage_settings"
	CapViewAnalytics    Capability = "can_view_analytics"
)

// PermissionSet maps capabilities to whether the holder has them
type PermissionSet map[Capability]bool

// rolePermissions are the default capability sets per agency role. A
// membership may carry an overridden copy; these are only the starting point.
var rolePermissions = map[Role]PermissionSet{
	RoleOwner: {
		CapViewAllTasks:     true,
		CapCreateTasks:      true,
		CapEditTasks:        true,
		CapDeleteTasks:      true,
		CapViewAllReminders: true,
		CapManageMembers:    true,
		CapInviteMembers:    true,
		CapManageBilling:    true,
		CapManageSettings:   true,
		CapViewAnalytics:    true,
	},
	RoleManager: {
		CapViewAllTasks:     true,
		CapCreateTasks:      true,
		CapEditTasks:        true,
		CapDeleteTasks:      true,
		CapViewAllReminders: true,
		CapManageMembers:    true,
		CapInviteMembers:    true,
		CapManageBilling:    false,
		CapManageSettings:   false,
		CapViewAnalytics:    true,
	},
	RoleStaff: {
		CapViewAllTasks:     false,
		CapCreateTasks:      true,
		CapEditTasks:        true,
		CapDeleteTasks:      false,
		CapViewAllReminders: false,
		CapManageMembers:    false,
		CapInviteMembers:    false,
		CapManageBilling:    false,
		CapManageSettings:   false,
		CapViewAnalytics:    false,
	},
}

// DefaultPermissions returns a copy of the default capability set for a role.
// Unknown roles get an empty set.
func DefaultPermissions(role Role) PermissionSet {
	defaults, ok := rolePermissions[role]
	if !ok {
		return PermissionSet{}
	}

	perms := make(PermissionSet, len(defaults))
	for cap, allowed := range defaults {
		perms[cap] = allowed
	}
	return perms
}

// FullPermissions returns a set with every capability granted. Used by the
// legacy single-tenant mode, which predates per-role permissions.
func FullPermissions() PermissionSet {
	return DefaultPermissions(RoleOwner)
}

// SubscriptionTier identifies an agency's subscription level
type SubscriptionTier string

const (
	TierFree       SubscriptionTier = "free"
	TierPro        SubscriptionTier = "pro"
	TierEnterprise SubscriptionTier = "enterprise"
)

// Limits are per-tier resource ceilings
type Limits struct {
	MaxUsers     int
	MaxStorageMB int
}

var tierLimits = map[SubscriptionTier]Limits{
	TierFree:       {MaxUsers: 5, MaxStorageMB: 512},
	TierPro:        {MaxUsers: 25, MaxStorageMB: 10240},
	TierEnterprise: {MaxUsers: 250, MaxStorageMB: 102400},
}

// LimitsForTier returns the resource limits for a tier. Unknown tiers fall
// back to the free tier.
func LimitsForTier(tier SubscriptionTier) Limits {
	if limits, ok := tierLimits[tier]; ok {
		return limits
	}
	return tierLimits[TierFree]
}

// TenancyMode selects between the legacy single-tenant behavior kept for old
// deployments and full multi-tenant operation. It is consulted once, at the
// context-resolution boundary.
type TenancyMode int

const (
	ModeLegacy TenancyMode = iota
	ModeMultiTenant
)

func (m TenancyMode) String() string {
	if m == ModeLegacy {
		return "legacy"
	}
	return "multi-tenant"
}
