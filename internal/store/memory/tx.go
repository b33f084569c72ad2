package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
)

var (
	_ store.Repository = (*Store)(nil)
	_ store.Tx         = (*memTx)(nil)
)

type observed struct {
	version uint64
	exists  bool
}

type stagedRow struct {
	row     productRow
	deleted bool
}

type memTx struct {
	s      *Store
	seen   map[int64]observed
	staged map[int64]*stagedRow
	sales  map[int64]domain.Sale
	items  []domain.SaleItem
}

func newTx(s *Store) *memTx {
	return &memTx{
		s:      s,
		seen:   make(map[int64]observed),
		staged: make(map[int64]*stagedRow),
		sales:  make(map[int64]domain.Sale),
	}
}

// load returns the transaction's working copy of a row, pulling it from the
// committed state (and remembering the version seen) on first access.
func (tx *memTx) load(ctx context.Context, id int64) (*stagedRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if st, ok := tx.staged[id]; ok {
		if st.deleted {
			return nil, fmt.Errorf("%w: product %d", store.ErrNotFound, id)
		}
		return st, nil
	}

	tx.s.mu.RLock()
	row, ok := tx.s.products[id]
	tx.s.mu.RUnlock()

	tx.seen[id] = observed{version: row.version, exists: ok}
	if !ok {
		return nil, fmt.Errorf("%w: product %d", store.ErrNotFound, id)
	}
	st := &stagedRow{row: cloneRow(row)}
	tx.staged[id] = st
	return st, nil
}

func (tx *memTx) ProductForUpdate(ctx context.Context, id int64) (*domain.Product, error) {
	st, err := tx.load(ctx, id)
	if err != nil {
		return nil, err
	}
	product := st.row.product
	return &product, nil
}

func (tx *memTx) Components(ctx context.Context, parentID int64) ([]domain.CompositionEdge, error) {
	st, err := tx.load(ctx, parentID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(st.row.edges), nil
}

func (tx *memTx) ParentsOf(_ context.Context, childID int64) ([]int64, error) {
	parents := make([]int64, 0)
	for id, st := range tx.staged {
		if !st.deleted && hasChild(st.row.edges, childID) {
			parents = append(parents, id)
		}
	}

	tx.s.mu.RLock()
	for id, row := range tx.s.products {
		if _, ok := tx.staged[id]; ok {
			continue
		}
		if hasChild(row.edges, childID) {
			parents = append(parents, id)
		}
	}
	tx.s.mu.RUnlock()

	slices.Sort(parents)
	return parents, nil
}

func (tx *memTx) ProductHasSales(_ context.Context, id int64) (bool, error) {
	for _, item := range tx.items {
		if item.ProductID == id {
			return true, nil
		}
	}

	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	for _, items := range tx.s.saleItems {
		for _, item := range items {
			if item.ProductID == id {
				return true, nil
			}
		}
	}
	return false, nil
}

func (tx *memTx) InsertProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	product.ID = tx.s.nextProduct.Add(1)
	product.CreatedAt = now
	product.UpdatedAt = now
	tx.staged[product.ID] = &stagedRow{row: cloneRow(productRow{product: product})}
	created := product
	return &created, nil
}

func (tx *memTx) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	st, err := tx.load(ctx, product.ID)
	if err != nil {
		return nil, err
	}
	product.CreatedAt = st.row.product.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	st.row.product = product
	st.row = cloneRow(st.row)
	updated := product
	return &updated, nil
}

func (tx *memTx) DeleteProduct(ctx context.Context, id int64) error {
	st, err := tx.load(ctx, id)
	if err != nil {
		return err
	}
	st.deleted = true
	return nil
}

func (tx *memTx) ReplaceComponents(ctx context.Context, parentID int64, edges []domain.CompositionEdge) error {
	st, err := tx.load(ctx, parentID)
	if err != nil {
		return err
	}
	replaced := make([]domain.CompositionEdge, 0, len(edges))
	for _, edge := range edges {
		edge.ParentID = parentID
		replaced = append(replaced, edge)
	}
	slices.SortFunc(replaced, func(a, b domain.CompositionEdge) int {
		return cmpInt64(a.ChildID, b.ChildID)
	})
	st.row.edges = replaced
	return nil
}

func (tx *memTx) SetStock(ctx context.Context, id int64, stock int) error {
	if stock < 0 {
		return fmt.Errorf("%w: stock of product %d would become %d", store.ErrInsufficientStock, id, stock)
	}
	st, err := tx.load(ctx, id)
	if err != nil {
		return err
	}
	st.row.product.Stock = stock
	st.row.product.UpdatedAt = time.Now().UTC()
	return nil
}

func (tx *memTx) InsertSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sale.ID = tx.s.nextSale.Add(1)
	if sale.SaleDate.IsZero() {
		sale.SaleDate = time.Now().UTC()
	}
	sale.Total = decimal.Zero
	tx.sales[sale.ID] = sale
	created := sale
	return &created, nil
}

func (tx *memTx) InsertSaleItems(ctx context.Context, items []domain.SaleItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, item := range items {
		if _, ok := tx.sales[item.SaleID]; !ok {
			return fmt.Errorf("%w: sale %d", store.ErrNotFound, item.SaleID)
		}
		item.ID = tx.s.nextItem.Add(1)
		tx.items = append(tx.items, item)
	}
	return nil
}

func (tx *memTx) SetSaleTotal(_ context.Context, saleID int64, total decimal.Decimal) error {
	sale, ok := tx.sales[saleID]
	if !ok {
		return fmt.Errorf("%w: sale %d", store.ErrNotFound, saleID)
	}
	sale.Total = total
	tx.sales[saleID] = sale
	return nil
}

func (tx *memTx) commit() error {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, obs := range tx.seen {
		row, ok := s.products[id]
		if ok != obs.exists || (ok && row.version != obs.version) {
			return errStale
		}
	}
	if err := tx.checkBarcodes(); err != nil {
		return err
	}
	for _, sale := range tx.sales {
		if _, ok := s.users[sale.UserID]; !ok {
			return fmt.Errorf("%w: user %d", store.ErrNotFound, sale.UserID)
		}
	}

	for id, st := range tx.staged {
		if st.deleted {
			delete(s.products, id)
			continue
		}
		st.row.version = s.products[id].version + 1
		s.products[id] = st.row
	}
	for id, sale := range tx.sales {
		s.sales[id] = sale
	}
	for _, item := range tx.items {
		s.saleItems[item.SaleID] = append(s.saleItems[item.SaleID], item)
	}
	return nil
}

// checkBarcodes must run with s.mu held.
func (tx *memTx) checkBarcodes() error {
	owners := make(map[string]int64, len(tx.s.products))
	for id, row := range tx.s.products {
		if _, ok := tx.staged[id]; ok || row.product.Barcode == "" {
			continue
		}
		owners[row.product.Barcode] = id
	}
	for id, st := range tx.staged {
		code := st.row.product.Barcode
		if st.deleted || code == "" {
			continue
		}
		if owner, taken := owners[code]; taken && owner != id {
			return fmt.Errorf("%w: barcode %q", store.ErrDuplicate, code)
		}
		owners[code] = id
	}
	return nil
}

func hasChild(edges []domain.CompositionEdge, childID int64) bool {
	for _, edge := range edges {
		if edge.ChildID == childID {
			return true
		}
	}
	return false
}
