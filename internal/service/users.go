package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"puntoventa/backend/internal/access"
	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
)

// Register creates a seller account. Admins are seeded or promoted by an
// existing admin, never self-registered.
func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) (domain.User, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validateRequest(req); err != nil {
		return domain.User{}, err
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return domain.User{}, err
	}
	created, err := s.repo.CreateUser(ctx, domain.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         domain.RoleSeller,
	})
	if err != nil {
		return domain.User{}, err
	}

	s.logAudit(ctx, "user_register", "user", created.ID, logrus.Fields{"email": created.Email})
	return *created, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	if _, err := s.authorize(ctx, access.UserManage); err != nil {
		return nil, err
	}
	return s.repo.ListUsers(ctx)
}

func (s *Service) GetUser(ctx context.Context, id int64) (domain.User, error) {
	if _, err := s.authorize(ctx, access.UserManage); err != nil {
		return domain.User{}, err
	}
	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	return *user, nil
}

func (s *Service) UpdateUser(ctx context.Context, id int64, req domain.UserUpdateRequest) (domain.User, error) {
	if _, err := s.authorize(ctx, access.UserManage); err != nil {
		return domain.User{}, err
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		req.Name = &name
	}
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		req.Email = &email
	}
	if err := validateRequest(req); err != nil {
		return domain.User{}, err
	}

	user, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if req.Name != nil {
		user.Name = *req.Name
	}
	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.Role != nil {
		user.Role = *req.Role
	}
	updated, err := s.repo.UpdateUser(ctx, *user)
	if err != nil {
		return domain.User{}, err
	}

	s.logAudit(ctx, "user_update", "user", id, logrus.Fields{"role": updated.Role})
	return *updated, nil
}

func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	actor, err := s.authorize(ctx, access.UserManage)
	if err != nil {
		return err
	}
	if actor.UserID == id {
		return fmt.Errorf("%w: users cannot delete their own account", store.ErrConflict)
	}
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "user_delete", "user", id, nil)
	return nil
}

// ChangePassword lets admins reset their own or a seller's password and
// sellers only their own.
func (s *Service) ChangePassword(ctx context.Context, targetID int64, req domain.PasswordChangeRequest) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return fmt.Errorf("%w: no authenticated user", access.ErrForbidden)
	}
	if err := validateRequest(req); err != nil {
		return err
	}

	// Roles that may only touch their own account learn nothing about others.
	if targetID != actor.UserID &&
		!access.Allowed(access.PasswordChange, actor.Role, access.OtherSeller) &&
		!access.Allowed(access.PasswordChange, actor.Role, access.OtherAdmin) {
		return fmt.Errorf("%w: role %q may only change its own password", access.ErrForbidden, actor.Role)
	}

	target, err := s.repo.GetUser(ctx, targetID)
	if err != nil {
		return err
	}
	if err := access.Check(access.PasswordChange, actor.Role, access.RelationTo(actor, *target)); err != nil {
		return err
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateUserPassword(ctx, targetID, hash); err != nil {
		return err
	}
	s.logAudit(ctx, "user_password_change", "user", targetID, nil)
	return nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(bytes), nil
}
