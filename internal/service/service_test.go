package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"puntoventa/backend/internal/cache"
	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store/memory"
)

// Seeded accounts get ids in creation order: admin first, then seller.
const (
	seededAdminID  int64 = 1
	seededSellerID int64 = 2
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return New(memory.NewSeeded(), cache.NewLocalProductCache(), time.Minute)
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{UserID: seededAdminID, Name: "admin", Role: domain.RoleAdmin})
}

func sellerCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{UserID: seededSellerID, Name: "seller", Role: domain.RoleSeller})
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func intPtr(n int) *int {
	return &n
}

func mustCreateProduct(t *testing.T, svc *Service, req domain.ProductCreateRequest) domain.Product {
	t.Helper()
	detail, err := svc.CreateProduct(adminCtx(), req)
	require.NoError(t, err)
	return detail.Product
}

// stockOf reads straight from the repository so cache state cannot mask a
// missed write.
func stockOf(t *testing.T, svc *Service, id int64) int {
	t.Helper()
	product, err := svc.repo.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return product.Stock
}

func sell(svc *Service, lines ...domain.SaleLine) (domain.Sale, error) {
	return svc.CreateSale(sellerCtx(), seededSellerID, domain.SaleCreateRequest{Items: lines})
}
