package memory

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
)

const defaultMaxAttempts = 8

// productRow is the unit of versioning: a product together with its outgoing
// composition edges. Every committed transaction that loaded a row bumps its
// version, so two transactions touching the same row cannot both commit.
type productRow struct {
	product domain.Product
	edges   []domain.CompositionEdge
	version uint64
}

type Store struct {
	mu          sync.RWMutex
	products    map[int64]productRow
	sales       map[int64]domain.Sale
	saleItems   map[int64][]domain.SaleItem
	users       map[int64]domain.User
	nextProduct atomic.Int64
	nextSale    atomic.Int64
	nextItem    atomic.Int64
	nextUser    int64
	maxAttempts int
}

func New() *Store {
	return &Store{
		products:    make(map[int64]productRow),
		sales:       make(map[int64]domain.Sale),
		saleItems:   make(map[int64][]domain.SaleItem),
		users:       make(map[int64]domain.User),
		maxAttempts: defaultMaxAttempts,
	}
}

// NewSeeded returns a store with demo users and a small catalog.
func NewSeeded() *Store {
	s := New()
	for _, user := range seedUsers() {
		if _, err := s.CreateUser(context.Background(), user); err != nil {
			logrus.WithError(err).Fatal("[memory-store] failed to seed user")
		}
	}
	s.seedCatalog()
	return s
}

// SetMaxAttempts bounds how often WithinTx reruns a transaction that lost a
// race with a concurrent commit.
func (s *Store) SetMaxAttempts(n int) {
	if n < 1 {
		n = 1
	}
	s.maxAttempts = n
}

// seedUsers builds the initial accounts for dev/demo mode. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD; unset values fall back to dev
// defaults with a warning.
func seedUsers() []domain.User {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	sellerPwd := envOr("SEED_SELLER_PASSWORD", "seller123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_SELLER_PASSWORD") == "" {
		logrus.Warn("[memory-store] using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD to override.")
	}

	users := make([]domain.User, 0, 2)
	for _, u := range []struct {
		name     string
		email    string
		password string
		role     string
	}{
		{"admin", envOr("SEED_ADMIN_EMAIL", "admin@puntoventa.local"), adminPwd, domain.RoleAdmin},
		{"seller", envOr("SEED_SELLER_EMAIL", "seller@puntoventa.local"), sellerPwd, domain.RoleSeller},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logrus.WithError(err).Fatalf("[memory-store] failed to hash seed password for %s", u.name)
		}
		users = append(users, domain.User{
			Name:         u.name,
			Email:        u.email,
			PasswordHash: string(hash),
			Role:         u.role,
		})
	}
	return users
}

func (s *Store) seedCatalog() {
	now := time.Now().UTC()
	plain := []domain.Product{
		{Name: "Cola 350ml", Cost: decimal.RequireFromString("0.80"), Price: decimal.RequireFromString("1.50"), Stock: 120, Barcode: "750100000001"},
		{Name: "Potato Chips 90g", Cost: decimal.RequireFromString("0.95"), Price: decimal.RequireFromString("1.80"), Stock: 80, Barcode: "750100000002"},
		{Name: "Chocolate Bar", Cost: decimal.RequireFromString("0.60"), Price: decimal.RequireFromString("1.20"), Stock: 60, Barcode: "750100000003"},
		{Name: "Mineral Water 600ml", Cost: decimal.RequireFromString("0.35"), Price: decimal.RequireFromString("0.90"), Stock: 200, Barcode: "750100000004"},
	}
	ids := make([]int64, 0, len(plain))
	for _, p := range plain {
		p.ID = s.nextProduct.Add(1)
		p.CreatedAt, p.UpdatedAt = now, now
		s.products[p.ID] = productRow{product: p, version: 1}
		ids = append(ids, p.ID)
	}

	combo := domain.Product{
		ID:          s.nextProduct.Add(1),
		Name:        "Snack Combo",
		Cost:        decimal.RequireFromString("1.75"),
		Price:       decimal.RequireFromString("3.00"),
		Stock:       25,
		Barcode:     "750100000010",
		IsComposite: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.products[combo.ID] = productRow{
		product: combo,
		edges: []domain.CompositionEdge{
			{ParentID: combo.ID, ChildID: ids[0], Quantity: 1},
			{ParentID: combo.ID, ChildID: ids[1], Quantity: 1},
		},
		version: 1,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) ListProducts(_ context.Context, search string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(search))
	products := make([]domain.Product, 0, len(s.products))
	for _, row := range s.products {
		if needle != "" && !strings.Contains(strings.ToLower(row.product.Name), needle) {
			continue
		}
		products = append(products, row.product)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpInt64(a.ID, b.ID)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: product %d", store.ErrNotFound, id)
	}
	product := row.product
	return &product, nil
}

func (s *Store) GetProductByBarcode(_ context.Context, barcode string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	barcode = strings.TrimSpace(barcode)
	if barcode != "" {
		for _, row := range s.products {
			if row.product.Barcode == barcode {
				product := row.product
				return &product, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: barcode %q", store.ErrNotFound, barcode)
}

func (s *Store) ListComponents(_ context.Context, parentID int64) ([]domain.Component, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.products[parentID]
	if !ok {
		return nil, fmt.Errorf("%w: product %d", store.ErrNotFound, parentID)
	}
	components := make([]domain.Component, 0, len(row.edges))
	for _, edge := range row.edges {
		child, ok := s.products[edge.ChildID]
		if !ok {
			continue
		}
		components = append(components, domain.Component{
			ProductID: child.product.ID,
			Name:      child.product.Name,
			Price:     child.product.Price,
			Cost:      child.product.Cost,
			Quantity:  edge.Quantity,
		})
	}
	return components, nil
}

func (s *Store) ListSales(_ context.Context, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		sale.UserName = s.users[sale.UserID].Name
		sales = append(sales, sale)
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		return cmpInt64(b.ID, a.ID)
	})
	if limit > 0 && len(sales) > limit {
		sales = sales[:limit]
	}
	return sales, nil
}

func (s *Store) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, fmt.Errorf("%w: sale %d", store.ErrNotFound, id)
	}
	sale.UserName = s.users[sale.UserID].Name
	return &sale, nil
}

func (s *Store) ListSaleItems(_ context.Context, saleID int64) ([]domain.SaleItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sales[saleID]; !ok {
		return nil, fmt.Errorf("%w: sale %d", store.ErrNotFound, saleID)
	}
	items := make([]domain.SaleItem, 0, len(s.saleItems[saleID]))
	for _, item := range s.saleItems[saleID] {
		item.ProductName = s.products[item.ProductID].product.Name
		items = append(items, item)
	}
	return items, nil
}

func (s *Store) SalesReport(_ context.Context, bucket domain.ReportRange) ([]domain.SalesReportRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[string]decimal.Decimal)
	for _, sale := range s.sales {
		label := bucket.Label(sale.SaleDate)
		totals[label] = totals[label].Add(sale.Total)
	}
	rows := make([]domain.SalesReportRow, 0, len(totals))
	for label, total := range totals {
		rows = append(rows, domain.SalesReportRow{Date: label, TotalSales: total})
	}
	slices.SortFunc(rows, func(a, b domain.SalesReportRow) int {
		return strings.Compare(a.Date, b.Date)
	})
	return rows, nil
}

func (s *Store) ProfitReport(_ context.Context, bucket domain.ReportRange) ([]domain.ProfitReportRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byLabel := make(map[string]*domain.ProfitReportRow)
	for saleID, items := range s.saleItems {
		label := bucket.Label(s.sales[saleID].SaleDate)
		row, ok := byLabel[label]
		if !ok {
			row = &domain.ProfitReportRow{Date: label}
			byLabel[label] = row
		}
		for _, item := range items {
			qty := decimal.NewFromInt(int64(item.Quantity))
			row.Income = row.Income.Add(item.UnitPrice.Mul(qty))
			row.Cost = row.Cost.Add(item.UnitCost.Mul(qty))
		}
	}
	rows := make([]domain.ProfitReportRow, 0, len(byLabel))
	for _, row := range byLabel {
		row.Profit = row.Income.Sub(row.Cost)
		rows = append(rows, *row)
	}
	slices.SortFunc(rows, func(a, b domain.ProfitReportRow) int {
		return strings.Compare(a.Date, b.Date)
	})
	return rows, nil
}

func (s *Store) TopProducts(_ context.Context, limit int) ([]domain.TopProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sold := make(map[int64]int)
	for _, items := range s.saleItems {
		for _, item := range items {
			sold[item.ProductID] += item.Quantity
		}
	}
	top := make([]domain.TopProduct, 0, len(sold))
	for productID, qty := range sold {
		top = append(top, domain.TopProduct{
			ProductID: productID,
			Name:      s.products[productID].product.Name,
			TotalSold: qty,
		})
	}
	slices.SortFunc(top, func(a, b domain.TopProduct) int {
		if a.TotalSold != b.TotalSold {
			return b.TotalSold - a.TotalSold
		}
		return cmpInt64(a.ProductID, b.ProductID)
	})
	if limit > 0 && len(top) > limit {
		top = top[:limit]
	}
	return top, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Name = strings.TrimSpace(user.Name)
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Name == "" || user.Email == "" || user.PasswordHash == "" {
		return nil, fmt.Errorf("%w: name, email and password are required", store.ErrValidation)
	}
	if err := s.checkUserUnique(user); err != nil {
		return nil, err
	}
	if user.Role == "" {
		user.Role = domain.RoleSeller
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.nextUser++
	user.ID = s.nextUser
	s.users[user.ID] = user
	created := user
	return &created, nil
}

func (s *Store) GetUser(_ context.Context, id int64) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %d", store.ErrNotFound, id)
	}
	return &user, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = strings.ToLower(strings.TrimSpace(email))
	for _, user := range s.users {
		if user.Email == email {
			found := user
			return &found, nil
		}
	}
	return nil, fmt.Errorf("%w: user %q", store.ErrNotFound, email)
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.User) int {
		return cmpInt64(a.ID, b.ID)
	})
	return users, nil
}

func (s *Store) UpdateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.ID]
	if !ok {
		return nil, fmt.Errorf("%w: user %d", store.ErrNotFound, user.ID)
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if err := s.checkUserUnique(user); err != nil {
		return nil, err
	}
	existing.Name = user.Name
	existing.Email = user.Email
	existing.Role = user.Role
	s.users[user.ID] = existing
	updated := existing
	return &updated, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, id int64, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(passwordHash) == "" {
		return fmt.Errorf("%w: password hash is empty", store.ErrValidation)
	}
	user, ok := s.users[id]
	if !ok {
		return fmt.Errorf("%w: user %d", store.ErrNotFound, id)
	}
	user.PasswordHash = passwordHash
	s.users[id] = user
	return nil
}

func (s *Store) DeleteUser(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return fmt.Errorf("%w: user %d", store.ErrNotFound, id)
	}
	for _, sale := range s.sales {
		if sale.UserID == id {
			return fmt.Errorf("%w: user %d has recorded sales", store.ErrConflict, id)
		}
	}
	delete(s.users, id)
	return nil
}

// checkUserUnique must run with s.mu held.
func (s *Store) checkUserUnique(user domain.User) error {
	for _, other := range s.users {
		if other.ID == user.ID {
			continue
		}
		if other.Email == user.Email {
			return fmt.Errorf("%w: email %q already registered", store.ErrDuplicate, user.Email)
		}
		if other.Name == user.Name {
			return fmt.Errorf("%w: user name %q already taken", store.ErrDuplicate, user.Name)
		}
	}
	return nil
}

var errStale = errors.New("memory: row version changed since it was read")

// WithinTx runs fn against a private copy of every row it touches and
// publishes the copies only if none of those rows changed in the meantime.
// A lost race reruns fn from scratch.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := newTx(s)
		if err := fn(tx); err != nil {
			return err
		}
		err := tx.commit()
		if err == nil {
			return nil
		}
		if !errors.Is(err, errStale) {
			return err
		}
		if attempt >= s.maxAttempts {
			return fmt.Errorf("%w: products changed concurrently, retry the request", store.ErrConflict)
		}
		time.Sleep(time.Duration(rand.Intn(attempt*200)+1) * time.Microsecond)
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cloneRow(row productRow) productRow {
	row.edges = slices.Clone(row.edges)
	if row.product.Description != nil {
		desc := *row.product.Description
		row.product.Description = &desc
	}
	return row
}
