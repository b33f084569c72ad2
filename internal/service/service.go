package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"puntoventa/backend/internal/access"
	"puntoventa/backend/internal/cache"
	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo     store.Repository
	products cache.ProductCache
	cacheTTL time.Duration
}

func New(repo store.Repository, products cache.ProductCache, cacheTTL time.Duration) *Service {
	if products == nil {
		products = cache.NoopProductCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}

	return &Service{
		repo:     repo,
		products: products,
		cacheTTL: cacheTTL,
	}
}

// authorize checks the context actor against the policy table for an action
// that has no specific target.
func (s *Service) authorize(ctx context.Context, action access.Action) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: no authenticated user", access.ErrForbidden)
	}
	if err := access.Check(action, actor.Role, access.AnyTarget); err != nil {
		return domain.Actor{}, err
	}
	return actor, nil
}

func (s *Service) logAudit(ctx context.Context, action string, entity string, entityID int64, detail logrus.Fields) {
	entry := logrus.WithFields(logrus.Fields{
		"component": "audit",
		"action":    action,
		"entity":    entity,
		"entity_id": entityID,
	})
	if actor, ok := ActorFromContext(ctx); ok {
		entry = entry.WithFields(logrus.Fields{
			"actor_id":   actor.UserID,
			"actor_role": actor.Role,
		})
	}
	entry.WithFields(detail).Info(action)
}

// invalidate drops cached product details. Failures only cost staleness up to
// the cache TTL, so they are logged and swallowed.
func (s *Service) invalidate(ctx context.Context, ids ...int64) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return
	}
	if err := s.products.Invalidate(ctx, ids...); err != nil {
		logrus.WithError(err).WithField("product_ids", ids).Warn("[service] product cache invalidation failed")
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// validateRequest runs struct tag validation and folds the failures into one
// ErrValidation message.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return fmt.Errorf("%w: %s", store.ErrValidation, strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Namespace()
	if idx := strings.Index(field, "."); idx >= 0 {
		field = field[idx+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email"
	case "gt":
		return field + " must be greater than " + fe.Param()
	case "gte":
		return field + " must be at least " + fe.Param()
	case "min":
		return field + " must have at least " + fe.Param() + " element(s) or characters"
	case "max":
		return field + " must be at most " + fe.Param() + " characters"
	case "oneof":
		return field + " must be one of: " + fe.Param()
	default:
		return field + " is invalid"
	}
}

func uniqueIDs(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
