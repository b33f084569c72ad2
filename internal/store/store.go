package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"puntoventa/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
	ErrPersistence       = errors.New("persistence failure")

	// ErrDuplicate marks a unique-key collision (barcode, email, user name).
	ErrDuplicate = fmt.Errorf("%w: duplicate value", ErrConflict)
)

// Repository is the storage boundary. Reads run outside any transaction;
// every mutation of products, compositions or sales goes through WithinTx.
type Repository interface {
	ListProducts(ctx context.Context, search string) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	ListComponents(ctx context.Context, parentID int64) ([]domain.Component, error)

	ListSales(ctx context.Context, limit int) ([]domain.Sale, error)
	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	ListSaleItems(ctx context.Context, saleID int64) ([]domain.SaleItem, error)

	SalesReport(ctx context.Context, bucket domain.ReportRange) ([]domain.SalesReportRow, error)
	ProfitReport(ctx context.Context, bucket domain.ReportRange) ([]domain.ProfitReportRow, error)
	TopProducts(ctx context.Context, limit int) ([]domain.TopProduct, error)

	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	UpdateUser(ctx context.Context, user domain.User) (*domain.User, error)
	UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error
	DeleteUser(ctx context.Context, id int64) error

	// WithinTx runs fn as one atomic unit. When fn returns an error nothing it
	// wrote is kept. Implementations may call fn more than once when the
	// transaction loses a race with a concurrent writer, so fn must not keep
	// state across calls.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of writes allowed inside WithinTx. ProductForUpdate locks the
// row until the transaction ends; later reads of the same row inside the
// transaction see the transaction's own writes.
type Tx interface {
	ProductForUpdate(ctx context.Context, id int64) (*domain.Product, error)
	Components(ctx context.Context, parentID int64) ([]domain.CompositionEdge, error)
	ParentsOf(ctx context.Context, childID int64) ([]int64, error)
	ProductHasSales(ctx context.Context, id int64) (bool, error)

	InsertProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	ReplaceComponents(ctx context.Context, parentID int64, edges []domain.CompositionEdge) error
	SetStock(ctx context.Context, id int64, stock int) error

	InsertSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	InsertSaleItems(ctx context.Context, items []domain.SaleItem) error
	SetSaleTotal(ctx context.Context, saleID int64, total decimal.Decimal) error
}

// Persistence wraps a driver error so callers can match ErrPersistence while
// the original error stays reachable through errors.As.
func Persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
