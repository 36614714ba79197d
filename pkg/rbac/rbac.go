package rbac

// 权限常量
const (
	PermissionTrigger        = "automation:trigger"
	PermissionReadStats      = "automation:read"
	PermissionDeleteRule     = "automation:delete"
	PermissionDrainQueue     = "queue:drain"
	PermissionReconcileBatch = "batch:reconcile"
)

// 角色常量
const (
	RoleViewer  = "viewer"
	RoleMember  = "member"
	RoleAdmin   = "admin"
	RoleService = "service" // 内部服务调用（CRM 回调、调度器）
)

var rolePermissions = map[string][]string{
	RoleViewer: {
		PermissionReadStats,
	},
	RoleMember: {
		PermissionReadStats,
		PermissionReconcileBatch,
	},
	RoleAdmin: {
		PermissionReadStats,
		PermissionReconcileBatch,
		PermissionDeleteRule,
		PermissionTrigger,
		PermissionDrainQueue,
	},
	RoleService: {
		PermissionReadStats,
		PermissionTrigger,
		PermissionDrainQueue,
		PermissionReconcileBatch,
	},
}

// HasPermission 检查角色是否拥有指定权限，未知角色一律拒绝
func HasPermission(role, permission string) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 返回错误而不是布尔值，便于 handler 处理
func CheckPermission(role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			Role:       role,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 权限不足
type PermissionDeniedError struct {
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions"
}

// ValidateOrganization 校验请求中的组织与 token 中的组织一致
func ValidateOrganization(tokenOrgID, requestOrgID string) error {
	if tokenOrgID != requestOrgID {
		return &OrganizationMismatchError{
			TokenOrgID:   tokenOrgID,
			RequestOrgID: requestOrgID,
		}
	}
	return nil
}

// OrganizationMismatchError 组织不匹配
type OrganizationMismatchError struct {
	TokenOrgID   string
	RequestOrgID string
}

func (e *OrganizationMismatchError) Error() string {
	return "organization in request does not match token"
}
