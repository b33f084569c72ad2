package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
)

var (
	_ store.Repository = (*Store)(nil)
	_ store.Tx         = (*pgTx)(nil)
)

// WithinTx runs fn in a READ COMMITTED transaction. Product rows are locked
// one by one with SELECT ... FOR UPDATE as fn loads them, so carts that share
// no product never wait on each other. Deadlocks and serialization failures
// replay fn from scratch.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"attempt": attempt,
			"code":    pgCode(err),
		}).Warn("[postgres-store] transaction conflict, retrying")
	}
	return fmt.Errorf("%w: products changed concurrently, retry the request: %w", store.ErrConflict, err)
}

func (s *Store) runTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return store.Persistence("begin", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return store.Persistence("commit", err)
	}
	return nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) ProductForUpdate(ctx context.Context, id int64) (*domain.Product, error) {
	product, err := scanProduct(t.tx.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %d", store.ErrNotFound, id)
		}
		return nil, store.Persistence("lock product", err)
	}
	return product, nil
}

// Components share-locks the parent row so a concurrent composition edit of
// the same parent waits for this transaction.
func (t *pgTx) Components(ctx context.Context, parentID int64) ([]domain.CompositionEdge, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `SELECT true FROM products WHERE id = $1 FOR SHARE`, parentID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %d", store.ErrNotFound, parentID)
		}
		return nil, store.Persistence("lock composite", err)
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT parent_product_id, child_product_id, quantity
		FROM product_compositions
		WHERE parent_product_id = $1
		ORDER BY child_product_id ASC
	`, parentID)
	if err != nil {
		return nil, store.Persistence("load composition", err)
	}
	defer rows.Close()

	edges := make([]domain.CompositionEdge, 0, 8)
	for rows.Next() {
		var edge domain.CompositionEdge
		if err := rows.Scan(&edge.ParentID, &edge.ChildID, &edge.Quantity); err != nil {
			return nil, store.Persistence("scan composition", err)
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Persistence("load composition", err)
	}
	return edges, nil
}

func (t *pgTx) ParentsOf(ctx context.Context, childID int64) ([]int64, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT parent_product_id FROM product_compositions
		WHERE child_product_id = $1
		ORDER BY parent_product_id ASC
	`, childID)
	if err != nil {
		return nil, store.Persistence("load parents", err)
	}
	defer rows.Close()

	parents := make([]int64, 0, 4)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, store.Persistence("scan parent", err)
		}
		parents = append(parents, id)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Persistence("load parents", err)
	}
	return parents, nil
}

func (t *pgTx) ProductHasSales(ctx context.Context, id int64) (bool, error) {
	var exists bool
	if err := t.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM sale_items WHERE product_id = $1)`, id).Scan(&exists); err != nil {
		return false, store.Persistence("check sale history", err)
	}
	return exists, nil
}

func (t *pgTx) InsertProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO products (name, description, cost, price, stock, barcode, is_composite, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING id, created_at, updated_at
	`, product.Name, nullString(product.Description), product.Cost, product.Price, product.Stock,
		nullIfEmpty(product.Barcode), product.IsComposite).Scan(&product.ID, &product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: barcode %q", store.ErrDuplicate, product.Barcode)
		}
		return nil, store.Persistence("insert product", err)
	}
	return &product, nil
}

func (t *pgTx) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	err := t.tx.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, description = $3, cost = $4, price = $5, stock = $6, barcode = $7,
			is_composite = $8, updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at
	`, product.ID, product.Name, nullString(product.Description), product.Cost, product.Price, product.Stock,
		nullIfEmpty(product.Barcode), product.IsComposite).Scan(&product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %d", store.ErrNotFound, product.ID)
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: barcode %q", store.ErrDuplicate, product.Barcode)
		}
		return nil, store.Persistence("update product", err)
	}
	return &product, nil
}

func (t *pgTx) DeleteProduct(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: product %d is still referenced", store.ErrConflict, id)
		}
		return store.Persistence("delete product", err)
	}
	return expectOneRow(res, fmt.Sprintf("product %d", id))
}

func (t *pgTx) ReplaceComponents(ctx context.Context, parentID int64, edges []domain.CompositionEdge) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM product_compositions WHERE parent_product_id = $1`, parentID); err != nil {
		return store.Persistence("clear composition", err)
	}
	for _, edge := range edges {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO product_compositions (parent_product_id, child_product_id, quantity)
			VALUES ($1, $2, $3)
		`, parentID, edge.ChildID, edge.Quantity)
		if err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: product %d", store.ErrNotFound, edge.ChildID)
			}
			return store.Persistence("insert composition", err)
		}
	}
	return nil
}

func (t *pgTx) SetStock(ctx context.Context, id int64, stock int) error {
	if stock < 0 {
		return fmt.Errorf("%w: stock of product %d would become %d", store.ErrInsufficientStock, id, stock)
	}
	res, err := t.tx.ExecContext(ctx, `UPDATE products SET stock = $2, updated_at = now() WHERE id = $1`, id, stock)
	if err != nil {
		return store.Persistence("set stock", err)
	}
	return expectOneRow(res, fmt.Sprintf("product %d", id))
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO sales (user_id, payment_method, total, sale_date)
		VALUES ($1, $2, 0, now())
		RETURNING id, sale_date
	`, sale.UserID, sale.PaymentMethod).Scan(&sale.ID, &sale.SaleDate)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: user %d", store.ErrNotFound, sale.UserID)
		}
		return nil, store.Persistence("insert sale", err)
	}
	sale.Total = decimal.Zero
	return &sale, nil
}

func (t *pgTx) InsertSaleItems(ctx context.Context, items []domain.SaleItem) error {
	for _, item := range items {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, quantity, unit_price, unit_cost)
			VALUES ($1, $2, $3, $4, $5)
		`, item.SaleID, item.ProductID, item.Quantity, item.UnitPrice, item.UnitCost)
		if err != nil {
			return store.Persistence("insert sale item", err)
		}
	}
	return nil
}

func (t *pgTx) SetSaleTotal(ctx context.Context, saleID int64, total decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE sales SET total = $2 WHERE id = $1`, saleID, total)
	if err != nil {
		return store.Persistence("set sale total", err)
	}
	return expectOneRow(res, fmt.Sprintf("sale %d", saleID))
}
