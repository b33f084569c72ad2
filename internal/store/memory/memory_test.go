package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
)

func newProduct(t *testing.T, s *Store, name string, stock int, barcode string) domain.Product {
	t.Helper()
	var created *domain.Product
	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		var err error
		created, err = tx.InsertProduct(context.Background(), domain.Product{
			Name:    name,
			Price:   decimal.NewFromInt(1),
			Stock:   stock,
			Barcode: barcode,
		})
		return err
	})
	require.NoError(t, err)
	return *created
}

func TestSeededCatalogHasComposite(t *testing.T) {
	s := NewSeeded()

	products, err := s.ListProducts(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, products, 5)

	combo := products[4]
	assert.True(t, combo.IsComposite)
	children, err := s.ListComponents(context.Background(), combo.ID)
	require.NoError(t, err)
	assert.Len(t, children, 2)

	admin, err := s.GetUserByEmail(context.Background(), "ADMIN@puntoventa.local")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, admin.Role)
}

func TestWithinTxDiscardsWritesOnError(t *testing.T) {
	s := New()
	p := newProduct(t, s, "Tape", 5, "")
	boom := errors.New("boom")

	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		if err := tx.SetStock(context.Background(), p.ID, 1); err != nil {
			return err
		}
		if _, err := tx.InsertProduct(context.Background(), domain.Product{Name: "Ghost"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock)
	all, err := s.ListProducts(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestWithinTxSeesOwnWrites(t *testing.T) {
	s := New()
	p := newProduct(t, s, "Glue", 5, "")

	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		require.NoError(t, tx.SetStock(context.Background(), p.ID, 2))
		again, err := tx.ProductForUpdate(context.Background(), p.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, again.Stock)
		return nil
	})
	require.NoError(t, err)
}

func TestWithinTxReplaysAfterConcurrentCommit(t *testing.T) {
	s := New()
	p := newProduct(t, s, "Ruler", 10, "")

	attempts := 0
	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		attempts++
		current, err := tx.ProductForUpdate(context.Background(), p.ID)
		if err != nil {
			return err
		}
		if attempts == 1 {
			// A competing sale lands between our read and our commit.
			require.NoError(t, s.WithinTx(context.Background(), func(other store.Tx) error {
				return other.SetStock(context.Background(), p.ID, 7)
			}))
		}
		return tx.SetStock(context.Background(), p.ID, current.Stock-1)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	got, err := s.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, got.Stock)
}

func TestWithinTxGivesUpAfterMaxAttempts(t *testing.T) {
	s := New()
	s.SetMaxAttempts(1)
	p := newProduct(t, s, "Eraser", 10, "")

	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		if _, err := tx.ProductForUpdate(context.Background(), p.ID); err != nil {
			return err
		}
		require.NoError(t, s.WithinTx(context.Background(), func(other store.Tx) error {
			return other.SetStock(context.Background(), p.ID, 9)
		}))
		return tx.SetStock(context.Background(), p.ID, 0)
	})
	require.ErrorIs(t, err, store.ErrConflict)

	got, err := s.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, got.Stock)
}

func TestNegativeStockIsRejected(t *testing.T) {
	s := New()
	p := newProduct(t, s, "Clip", 1, "")

	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		return tx.SetStock(context.Background(), p.ID, -1)
	})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)
}

func TestBarcodeUniquenessCheckedAtCommit(t *testing.T) {
	s := New()
	newProduct(t, s, "One", 0, "123")

	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		_, err := tx.InsertProduct(context.Background(), domain.Product{Name: "Two", Barcode: "123"})
		return err
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestSaleCommitRequiresKnownUser(t *testing.T) {
	s := New()

	err := s.WithinTx(context.Background(), func(tx store.Tx) error {
		_, err := tx.InsertSale(context.Background(), domain.Sale{UserID: 42, PaymentMethod: domain.PaymentCash})
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	sales, err := s.ListSales(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestUserUniqueness(t *testing.T) {
	s := New()
	_, err := s.CreateUser(context.Background(), domain.User{Name: "a", Email: "a@x.io", PasswordHash: "$2a$x"})
	require.NoError(t, err)

	_, err = s.CreateUser(context.Background(), domain.User{Name: "b", Email: "A@X.io", PasswordHash: "$2a$x"})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	_, err = s.CreateUser(context.Background(), domain.User{Name: "a", Email: "c@x.io", PasswordHash: "$2a$x"})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}
