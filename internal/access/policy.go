package access

import (
	"errors"
	"fmt"

	"puntoventa/backend/internal/domain"
)

var ErrForbidden = errors.New("forbidden")

type Action string

const (
	CatalogRead    Action = "catalog.read"
	CatalogWrite   Action = "catalog.write"
	SaleCreate     Action = "sale.create"
	SaleRead       Action = "sale.read"
	ReportRead     Action = "report.read"
	UserManage     Action = "user.manage"
	PasswordChange Action = "user.password"
)

// Relation describes who the target of an action is, seen from the requester.
type Relation string

const (
	AnyTarget   Relation = "any"
	Self        Relation = "self"
	OtherSeller Relation = "other_seller"
	OtherAdmin  Relation = "other_admin"
)

type rule struct {
	action Action
	role   string
	target Relation
}

// policy lists every allowed combination. Anything absent is denied,
// including unknown roles.
var policy = map[rule]bool{
	{CatalogRead, domain.RoleAdmin, AnyTarget}:  true,
	{CatalogRead, domain.RoleSeller, AnyTarget}: true,
	{CatalogWrite, domain.RoleAdmin, AnyTarget}: true,

	{SaleCreate, domain.RoleAdmin, AnyTarget}:  true,
	{SaleCreate, domain.RoleSeller, AnyTarget}: true,
	{SaleRead, domain.RoleAdmin, AnyTarget}:    true,
	{SaleRead, domain.RoleSeller, AnyTarget}:   true,

	{ReportRead, domain.RoleAdmin, AnyTarget}:  true,
	{ReportRead, domain.RoleSeller, AnyTarget}: true,

	{UserManage, domain.RoleAdmin, AnyTarget}: true,

	{PasswordChange, domain.RoleAdmin, Self}:        true,
	{PasswordChange, domain.RoleAdmin, OtherSeller}: true,
	{PasswordChange, domain.RoleSeller, Self}:       true,
}

func Allowed(action Action, role string, target Relation) bool {
	return policy[rule{action: action, role: role, target: target}]
}

// Check is Allowed returning an error wrapping ErrForbidden.
func Check(action Action, role string, target Relation) error {
	if Allowed(action, role, target) {
		return nil
	}
	if target == AnyTarget {
		return fmt.Errorf("%w: role %q may not perform %s", ErrForbidden, role, action)
	}
	return fmt.Errorf("%w: role %q may not perform %s on %s", ErrForbidden, role, action, target)
}

// RelationTo classifies target relative to the requesting actor.
func RelationTo(actor domain.Actor, target domain.User) Relation {
	switch {
	case actor.UserID == target.ID:
		return Self
	case target.Role == domain.RoleAdmin:
		return OtherAdmin
	case target.Role == domain.RoleSeller:
		return OtherSeller
	default:
		return AnyTarget
	}
}
