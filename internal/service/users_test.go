package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"puntoventa/backend/internal/access"
	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
)

func TestRegisterCreatesSeller(t *testing.T) {
	svc := newTestService(t)

	user, err := svc.Register(context.Background(), domain.RegisterRequest{
		Name:     " Maria ",
		Email:    "Maria@Example.com",
		Password: "secret1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleSeller, user.Role)
	assert.Equal(t, "Maria", user.Name)
	assert.Equal(t, "maria@example.com", user.Email)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("secret1")))

	_, err = svc.Register(context.Background(), domain.RegisterRequest{
		Name:     "Maria Two",
		Email:    "maria@example.com",
		Password: "secret2",
	})
	assert.True(t, errors.Is(err, store.ErrConflict), "duplicate email: %v", err)
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(t)

	cases := map[string]domain.RegisterRequest{
		"missing name":   {Email: "a@b.co", Password: "secret1"},
		"bad email":      {Name: "a", Email: "not-an-email", Password: "secret1"},
		"short password": {Name: "a", Email: "a@b.co", Password: "123"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), req)
			assert.True(t, errors.Is(err, store.ErrValidation), "got %v", err)
		})
	}
}

func TestUserManagementIsAdminOnly(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.ListUsers(sellerCtx())
	assert.True(t, errors.Is(err, access.ErrForbidden))

	users, err := svc.ListUsers(adminCtx())
	require.NoError(t, err)
	assert.Len(t, users, 2)

	role := domain.RoleAdmin
	_, err = svc.UpdateUser(sellerCtx(), seededSellerID, domain.UserUpdateRequest{Role: &role})
	assert.True(t, errors.Is(err, access.ErrForbidden))

	promoted, err := svc.UpdateUser(adminCtx(), seededSellerID, domain.UserUpdateRequest{Role: &role})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, promoted.Role)
}

func TestDeleteUserGuards(t *testing.T) {
	svc := newTestService(t)

	err := svc.DeleteUser(adminCtx(), seededAdminID)
	assert.True(t, errors.Is(err, store.ErrConflict), "self delete: %v", err)

	p := mustCreateProduct(t, svc, domain.ProductCreateRequest{Name: "Pencil", Stock: intPtr(2)})
	_, err = sell(svc, domain.SaleLine{ProductID: p.ID, Quantity: 1})
	require.NoError(t, err)
	err = svc.DeleteUser(adminCtx(), seededSellerID)
	assert.True(t, errors.Is(err, store.ErrConflict), "user with sales: %v", err)

	fresh, err := svc.Register(context.Background(), domain.RegisterRequest{Name: "temp", Email: "temp@example.com", Password: "secret1"})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteUser(adminCtx(), fresh.ID))
	_, err = svc.GetUser(adminCtx(), fresh.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestChangePasswordPolicy(t *testing.T) {
	svc := newTestService(t)
	other, err := svc.Register(context.Background(), domain.RegisterRequest{Name: "other", Email: "other@example.com", Password: "secret1"})
	require.NoError(t, err)
	req := domain.PasswordChangeRequest{Password: "brand-new"}

	// Sellers may change only their own password.
	require.NoError(t, svc.ChangePassword(sellerCtx(), seededSellerID, req))
	err = svc.ChangePassword(sellerCtx(), other.ID, req)
	assert.True(t, errors.Is(err, access.ErrForbidden))
	err = svc.ChangePassword(sellerCtx(), seededAdminID, req)
	assert.True(t, errors.Is(err, access.ErrForbidden))

	// Admins may reset sellers but not other admins.
	require.NoError(t, svc.ChangePassword(adminCtx(), other.ID, req))
	secondAdmin, err := svc.Register(context.Background(), domain.RegisterRequest{Name: "boss", Email: "boss@example.com", Password: "secret1"})
	require.NoError(t, err)
	role := domain.RoleAdmin
	_, err = svc.UpdateUser(adminCtx(), secondAdmin.ID, domain.UserUpdateRequest{Role: &role})
	require.NoError(t, err)
	err = svc.ChangePassword(adminCtx(), secondAdmin.ID, req)
	assert.True(t, errors.Is(err, access.ErrForbidden))

	stored, err := svc.repo.GetUser(context.Background(), other.ID)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("brand-new")))

	err = svc.ChangePassword(context.Background(), other.ID, req)
	assert.True(t, errors.Is(err, access.ErrForbidden))
}

func TestChangePasswordDoesNotRevealOtherAccounts(t *testing.T) {
	svc := newTestService(t)
	req := domain.PasswordChangeRequest{Password: "brandnew1"}

	existing := svc.ChangePassword(sellerCtx(), seededAdminID, req)
	missing := svc.ChangePassword(sellerCtx(), 9999, req)
	assert.True(t, errors.Is(existing, access.ErrForbidden), "existing: %v", existing)
	assert.True(t, errors.Is(missing, access.ErrForbidden), "missing: %v", missing)
	assert.Equal(t, existing.Error(), missing.Error())

	// Admins still get a precise answer.
	err := svc.ChangePassword(adminCtx(), 9999, req)
	assert.True(t, errors.Is(err, store.ErrNotFound), "admin: %v", err)
}
