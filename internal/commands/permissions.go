package commands

// Interaction members carry their resolved channel permissions, so no state
// lookup is needed.

func canConfigure(perms int64) bool {
	return perms&adminPermission != 0
}

func canModerate(perms int64) bool {
	return perms&(adminPermission|moderatorPermission) != 0
}
