package rbac

// Simple default policy. Expand as needed.
var RolePermissions = map[string][]string{
	"student": {
		"quiz:view",
		"attempt:create",
		"attempt:save",
		"attempt:submit",
		"attempt:view-own",
		"progress:view-own",
	},
	"instructor": {
		"quiz:create",
		"quiz:view",
		"attempt:view-all",
		"attempt:reset",
		"submission:grade",
		"progress:view-all",
	},
	"admin": {
		"*", // everything
	},
}
