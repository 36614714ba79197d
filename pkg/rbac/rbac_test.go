package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasPermission(t *testing.T) {
	assert.True(t, HasPermission(RoleAdmin, PermissionDeleteRule))
	assert.True(t, HasPermission(RoleService, PermissionTrigger))
	assert.False(t, HasPermission(RoleViewer, PermissionTrigger))
	assert.False(t, HasPermission(RoleMember, PermissionDrainQueue))
	assert.False(t, HasPermission("intruder", PermissionReadStats))
}

func TestCheckPermission(t *testing.T) {
	err := CheckPermission(RoleViewer, PermissionReconcileBatch)
	var denied *PermissionDeniedError
	assert.ErrorAs(t, err, &denied)
	assert.Equal(t, PermissionReconcileBatch, denied.Permission)

	assert.NoError(t, CheckPermission(RoleMember, PermissionReconcileBatch))
}

func TestValidateOrganization(t *testing.T) {
	assert.NoError(t, ValidateOrganization("org-1", "org-1"))
	assert.Error(t, ValidateOrganization("org-1", "org-2"))
}
