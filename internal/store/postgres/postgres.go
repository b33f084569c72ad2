package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

const productColumns = `id, name, description, cost, price, stock, COALESCE(barcode, ''), is_composite, created_at, updated_at`

type Store struct {
	db          *sql.DB
	maxAttempts int
}

func New(ctx context.Context, databaseURL string, maxAttempts int) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &Store{db: db, maxAttempts: maxAttempts}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return store.Persistence("migrate", err)
		}
	}
	return nil
}

// SeedAdmin creates the first admin account when the users table is empty.
func (s *Store) SeedAdmin(ctx context.Context, user domain.User) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&count); err != nil {
		return store.Persistence("count users", err)
	}
	if count > 0 {
		return nil
	}
	user.Role = domain.RoleAdmin
	if _, err := s.CreateUser(ctx, user); err != nil {
		return err
	}
	logrus.WithField("email", user.Email).Info("[postgres-store] seeded admin account")
	return nil
}

func (s *Store) ListProducts(ctx context.Context, search string) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	args := []any{}
	if term := strings.TrimSpace(search); term != "" {
		query += ` WHERE name ILIKE $1`
		args = append(args, "%"+escapeLike(term)+"%")
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.Persistence("list products", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, store.Persistence("scan product", err)
		}
		products = append(products, *product)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Persistence("list products", err)
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %d", store.ErrNotFound, id)
		}
		return nil, store.Persistence("get product", err)
	}
	return product, nil
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE barcode = $1`, strings.TrimSpace(barcode)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: barcode %q", store.ErrNotFound, barcode)
		}
		return nil, store.Persistence("get product by barcode", err)
	}
	return product, nil
}

func (s *Store) ListComponents(ctx context.Context, parentID int64) ([]domain.Component, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.price, p.cost, c.quantity
		FROM product_compositions c
		JOIN products p ON p.id = c.child_product_id
		WHERE c.parent_product_id = $1
		ORDER BY p.id ASC
	`, parentID)
	if err != nil {
		return nil, store.Persistence("list components", err)
	}
	defer rows.Close()

	components := make([]domain.Component, 0, 8)
	for rows.Next() {
		var c domain.Component
		if err := rows.Scan(&c.ProductID, &c.Name, &c.Price, &c.Cost, &c.Quantity); err != nil {
			return nil, store.Persistence("scan component", err)
		}
		components = append(components, c)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Persistence("list components", err)
	}
	return components, nil
}

func (s *Store) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.user_id, COALESCE(u.name, ''), s.sale_date, s.payment_method, s.total
		FROM sales s
		LEFT JOIN users u ON u.id = s.user_id
		ORDER BY s.id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, store.Persistence("list sales", err)
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.ID, &sale.UserID, &sale.UserName, &sale.SaleDate, &sale.PaymentMethod, &sale.Total); err != nil {
			return nil, store.Persistence("scan sale", err)
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Persistence("list sales", err)
	}
	return sales, nil
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.user_id, COALESCE(u.name, ''), s.sale_date, s.payment_method, s.total
		FROM sales s
		LEFT JOIN users u ON u.id = s.user_id
		WHERE s.id = $1
	`, id).Scan(&sale.ID, &sale.UserID, &sale.UserName, &sale.SaleDate, &sale.PaymentMethod, &sale.Total)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: sale %d", store.ErrNotFound, id)
		}
		return nil, store.Persistence("get sale", err)
	}
	return &sale, nil
}

func (s *Store) ListSaleItems(ctx context.Context, saleID int64) ([]domain.SaleItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT si.id, si.sale_id, si.product_id, COALESCE(p.name, ''), si.quantity, si.unit_price, si.unit_cost
		FROM sale_items si
		LEFT JOIN products p ON p.id = si.product_id
		WHERE si.sale_id = $1
		ORDER BY si.id ASC
	`, saleID)
	if err != nil {
		return nil, store.Persistence("list sale items", err)
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 8)
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice, &item.UnitCost); err != nil {
			return nil, store.Persistence("scan sale item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Persistence("list sale items", err)
	}
	return items, nil
}

func (s *Store) SalesReport(ctx context.Context, bucket domain.ReportRange) ([]domain.SalesReportRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT TO_CHAR(sale_date AT TIME ZONE 'UTC', $1) AS label, COALESCE(SUM(total), 0)
		FROM sales
		GROUP BY label
		ORDER BY label ASC
	`, bucketFormat(bucket))
	if err != nil {
		return nil, store.Persistence("sales report", err)
	}
	defer rows.Close()

	report := make([]domain.SalesReportRow, 0, 32)
	for rows.Next() {
		var row domain.SalesReportRow
		if err := rows.Scan(&row.Date, &row.TotalSales); err != nil {
			return nil, store.Persistence("scan sales report", err)
		}
		report = append(report, row)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Persistence("sales report", err)
	}
	return report, nil
}

func (s *Store) ProfitReport(ctx context.Context, bucket domain.ReportRange) ([]domain.ProfitReportRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT TO_CHAR(s.sale_date AT TIME ZONE 'UTC', $1) AS label,
			COALESCE(SUM(si.quantity * si.unit_price), 0),
			COALESCE(SUM(si.quantity * si.unit_cost), 0)
		FROM sales s
		JOIN sale_items si ON si.sale_id = s.id
		GROUP BY label
		ORDER BY label ASC
	`, bucketFormat(bucket))
	if err != nil {
		return nil, store.Persistence("profit report", err)
	}
	defer rows.Close()

	report := make([]domain.ProfitReportRow, 0, 32)
	for rows.Next() {
		var row domain.ProfitReportRow
		if err := rows.Scan(&row.Date, &row.Income, &row.Cost); err != nil {
			return nil, store.Persistence("scan profit report", err)
		}
		row.Profit = row.Income.Sub(row.Cost)
		report = append(report, row)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Persistence("profit report", err)
	}
	return report, nil
}

func (s *Store) TopProducts(ctx context.Context, limit int) ([]domain.TopProduct, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, SUM(si.quantity)::int AS total_sold
		FROM sale_items si
		JOIN products p ON p.id = si.product_id
		GROUP BY p.id, p.name
		ORDER BY total_sold DESC, p.id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, store.Persistence("top products", err)
	}
	defer rows.Close()

	top := make([]domain.TopProduct, 0, limit)
	for rows.Next() {
		var row domain.TopProduct
		if err := rows.Scan(&row.ProductID, &row.Name, &row.TotalSold); err != nil {
			return nil, store.Persistence("scan top product", err)
		}
		top = append(top, row)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Persistence("top products", err)
	}
	return top, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	user.Name = strings.TrimSpace(user.Name)
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Name == "" || user.Email == "" || user.PasswordHash == "" {
		return nil, fmt.Errorf("%w: name, email and password are required", store.ErrValidation)
	}
	if user.Role == "" {
		user.Role = domain.RoleSeller
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (name, email, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING id, created_at
	`, user.Name, user.Email, user.PasswordHash, user.Role).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: user name or email already registered", store.ErrDuplicate)
		}
		return nil, store.Persistence("create user", err)
	}
	return &user, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, role, created_at FROM users WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %d", store.ErrNotFound, id)
		}
		return nil, store.Persistence("get user", err)
	}
	return user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, role, created_at FROM users WHERE email = $1
	`, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %q", store.ErrNotFound, email)
		}
		return nil, store.Persistence("get user by email", err)
	}
	return user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, password_hash, role, created_at FROM users ORDER BY id ASC
	`)
	if err != nil {
		return nil, store.Persistence("list users", err)
	}
	defer rows.Close()

	users := make([]domain.User, 0, 16)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, store.Persistence("scan user", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Persistence("list users", err)
	}
	return users, nil
}

func (s *Store) UpdateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	updated, err := scanUser(s.db.QueryRowContext(ctx, `
		UPDATE users SET name = $2, email = $3, role = $4
		WHERE id = $1
		RETURNING id, name, email, password_hash, role, created_at
	`, user.ID, user.Name, user.Email, user.Role))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %d", store.ErrNotFound, user.ID)
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: user name or email already registered", store.ErrDuplicate)
		}
		return nil, store.Persistence("update user", err)
	}
	return updated, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error {
	if strings.TrimSpace(passwordHash) == "" {
		return fmt.Errorf("%w: password hash is empty", store.ErrValidation)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, passwordHash)
	if err != nil {
		return store.Persistence("update user password", err)
	}
	return expectOneRow(res, fmt.Sprintf("user %d", id))
}

func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: user %d has recorded sales", store.ErrConflict, id)
		}
		return store.Persistence("delete user", err)
	}
	return expectOneRow(res, fmt.Sprintf("user %d", id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	var description sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &description, &p.Cost, &p.Price, &p.Stock, &p.Barcode, &p.IsComposite, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if description.Valid {
		desc := description.String
		p.Description = &desc
	}
	return &p, nil
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func bucketFormat(bucket domain.ReportRange) string {
	switch bucket {
	case domain.RangeWeekly:
		return `IYYY-"W"IW`
	case domain.RangeMonthly:
		return "YYYY-MM"
	default:
		return "YYYY-MM-DD"
	}
}

func expectOneRow(res sql.Result, what string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return store.Persistence("rows affected", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, what)
	}
	return nil
}

func escapeLike(term string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}

func isForeignKeyViolation(err error) bool {
	return pgCode(err) == "23503"
}

// isRetryable reports serialization failures and deadlocks, after which the
// whole transaction can be replayed.
func isRetryable(err error) bool {
	code := pgCode(err)
	return code == "40001" || code == "40P01"
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullString(val *string) any {
	if val == nil {
		return nil
	}
	return *val
}
