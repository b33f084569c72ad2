package access

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"puntoventa/backend/internal/domain"
)

func TestPolicyTable(t *testing.T) {
	cases := []struct {
		action Action
		role   string
		target Relation
		allow  bool
	}{
		{CatalogRead, domain.RoleSeller, AnyTarget, true},
		{CatalogWrite, domain.RoleAdmin, AnyTarget, true},
		{CatalogWrite, domain.RoleSeller, AnyTarget, false},
		{SaleCreate, domain.RoleSeller, AnyTarget, true},
		{ReportRead, domain.RoleSeller, AnyTarget, true},
		{UserManage, domain.RoleAdmin, AnyTarget, true},
		{UserManage, domain.RoleSeller, AnyTarget, false},
		{PasswordChange, domain.RoleAdmin, Self, true},
		{PasswordChange, domain.RoleAdmin, OtherSeller, true},
		{PasswordChange, domain.RoleAdmin, OtherAdmin, false},
		{PasswordChange, domain.RoleSeller, Self, true},
		{PasswordChange, domain.RoleSeller, OtherSeller, false},
		{PasswordChange, domain.RoleSeller, OtherAdmin, false},
		{PasswordChange, "auditor", Self, false},
		{SaleCreate, "", AnyTarget, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.action)+"/"+tc.role+"/"+string(tc.target), func(t *testing.T) {
			assert.Equal(t, tc.allow, Allowed(tc.action, tc.role, tc.target))
		})
	}
}

func TestCheckWrapsErrForbidden(t *testing.T) {
	err := Check(CatalogWrite, domain.RoleSeller, AnyTarget)
	assert.True(t, errors.Is(err, ErrForbidden))
	assert.NoError(t, Check(CatalogWrite, domain.RoleAdmin, AnyTarget))
}

func TestRelationTo(t *testing.T) {
	admin := domain.Actor{UserID: 1, Role: domain.RoleAdmin}
	assert.Equal(t, Self, RelationTo(admin, domain.User{ID: 1, Role: domain.RoleAdmin}))
	assert.Equal(t, OtherAdmin, RelationTo(admin, domain.User{ID: 2, Role: domain.RoleAdmin}))
	assert.Equal(t, OtherSeller, RelationTo(admin, domain.User{ID: 3, Role: domain.RoleSeller}))
}
