package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin  = "admin"
	RoleSeller = "seller"
)

const (
	PaymentCash     = "cash"
	PaymentCard     = "card"
	PaymentTransfer = "transfer"
)

// Money goes over the wire as JSON numbers, not quoted strings.
func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description *string         `json:"description"`
	Cost        decimal.Decimal `json:"cost"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	Barcode     string          `json:"barcode"`
	IsComposite bool            `json:"is_composite"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// CompositionEdge says one unit of ParentID consumes Quantity units of ChildID.
type CompositionEdge struct {
	ParentID int64 `json:"parent_product_id"`
	ChildID  int64 `json:"child_product_id"`
	Quantity int   `json:"quantity"`
}

type Component struct {
	ProductID int64           `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Cost      decimal.Decimal `json:"cost"`
	Quantity  int             `json:"quantity"`
}

type ProductDetail struct {
	Product  Product     `json:"product"`
	Children []Component `json:"children"`
}

type ChildSpec struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"gte=0"`
}

type ProductCreateRequest struct {
	Name        string           `json:"name" validate:"required,max=200"`
	Description *string          `json:"description,omitempty"`
	Cost        *decimal.Decimal `json:"cost,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Stock       *int             `json:"stock,omitempty" validate:"omitempty,gte=0"`
	Barcode     string           `json:"barcode,omitempty" validate:"omitempty,max=64"`
	IsComposite bool             `json:"is_composite"`
	Children    []ChildSpec      `json:"children,omitempty" validate:"omitempty,dive"`
}

// ProductUpdateRequest leaves a field untouched when it is nil. A nil Children
// keeps the current composition, a non-nil one replaces it.
type ProductUpdateRequest struct {
	Name        *string          `json:"name,omitempty" validate:"omitempty,max=200"`
	Description *string          `json:"description,omitempty"`
	Cost        *decimal.Decimal `json:"cost,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Stock       *int             `json:"stock,omitempty" validate:"omitempty,gte=0"`
	Barcode     *string          `json:"barcode,omitempty" validate:"omitempty,max=64"`
	IsComposite *bool            `json:"is_composite,omitempty"`
	Children    []ChildSpec      `json:"children,omitempty" validate:"omitempty,dive"`
}

type Sale struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"user_id"`
	UserName      string          `json:"user_name,omitempty"`
	SaleDate      time.Time       `json:"sale_date"`
	PaymentMethod string          `json:"payment_method"`
	Total         decimal.Decimal `json:"total"`
}

type SaleItem struct {
	ID          int64           `json:"id"`
	SaleID      int64           `json:"sale_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

type SaleDetail struct {
	Sale  Sale       `json:"sale"`
	Items []SaleItem `json:"items"`
}

type SaleLine struct {
	ProductID int64            `json:"product_id" validate:"required,gt=0"`
	Quantity  int              `json:"quantity" validate:"required,gt=0"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

type SaleCreateRequest struct {
	PaymentMethod string     `json:"payment_method" validate:"omitempty,oneof=cash card transfer"`
	Items         []SaleLine `json:"items" validate:"required,min=1,dive"`
}

type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type UserUpdateRequest struct {
	Name  *string `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	Email *string `json:"email,omitempty" validate:"omitempty,email"`
	Role  *string `json:"role,omitempty" validate:"omitempty,oneof=admin seller"`
}

type PasswordChangeRequest struct {
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
	User        User   `json:"user"`
}

// Actor is the authenticated principal carried through a request.
type Actor struct {
	UserID int64  `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

type ReportRange string

const (
	RangeDaily   ReportRange = "daily"
	RangeWeekly  ReportRange = "weekly"
	RangeMonthly ReportRange = "monthly"
)

type SalesReportRow struct {
	Date       string          `json:"date"`
	TotalSales decimal.Decimal `json:"total_sales"`
}

type ProfitReportRow struct {
	Date   string          `json:"date"`
	Income decimal.Decimal `json:"income"`
	Cost   decimal.Decimal `json:"cost"`
	Profit decimal.Decimal `json:"profit"`
}

type TopProduct struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	TotalSold int    `json:"total_sold"`
}
