package shared

// Capabilities checked by the panel's route guards. They are seeded as
// permissions and may be renamed at runtime, in which case the guard no
// longer matches until the name is restored.
const (
	CapCreateUser = "CREATE_USER"
	CapEditUser   = "EDIT_USER"
	CapDeleteUser = "DELETE_USER"
	CapViewUsers  = "ROLE_USER"

	CapManageRoles       = "MANAGE_ROLES"
	CapManagePermissions = "MANAGE_PERMISSIONS"
)

// PanelCapabilities lists every capability the panel guards on.
func PanelCapabilities() []string {
	return []string{
		CapEditUser,
		CapDeleteUser,
		CapCreateUser,
		CapViewUsers,
		CapManageRoles,
		CapManagePermissions,
	}
}
