package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
)

const (
	defaultSalesLimit = 100
	maxSalesLimit     = 500
)

// cart is the value threaded through the fold over a sale's lines.
type cart struct {
	saleID  int64
	items   []domain.SaleItem
	total   decimal.Decimal
	touched []int64
}

// CreateSale records a sale atomically: every line's stock is checked and
// decremented (composites also consume their components), line items are
// written with a price snapshot and the header total is set once. Any failure
// leaves stock and sales exactly as they were. The caller is trusted for
// userID; no role check happens here.
func (s *Service) CreateSale(ctx context.Context, userID int64, req domain.SaleCreateRequest) (domain.Sale, error) {
	if userID <= 0 {
		return domain.Sale{}, fmt.Errorf("%w: user id is required", store.ErrValidation)
	}
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentCash
	}
	if len(req.Items) == 0 {
		return domain.Sale{}, fmt.Errorf("%w: sale must contain at least one item", store.ErrValidation)
	}
	if err := validateRequest(req); err != nil {
		return domain.Sale{}, err
	}
	for i, line := range req.Items {
		if line.UnitPrice != nil && line.UnitPrice.IsNegative() {
			return domain.Sale{}, fmt.Errorf("%w: items[%d].unit_price must not be negative", store.ErrValidation, i)
		}
	}

	var sale domain.Sale
	var touched []int64
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		header, err := tx.InsertSale(ctx, domain.Sale{UserID: userID, PaymentMethod: req.PaymentMethod})
		if err != nil {
			return err
		}

		acc := cart{saleID: header.ID, total: decimal.Zero}
		for _, line := range req.Items {
			if acc, err = applyLine(ctx, tx, acc, line); err != nil {
				return err
			}
		}

		if err := tx.InsertSaleItems(ctx, acc.items); err != nil {
			return err
		}
		if err := tx.SetSaleTotal(ctx, header.ID, acc.total); err != nil {
			return err
		}
		header.Total = acc.total
		sale = *header
		touched = acc.touched
		return nil
	})
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"lines":   len(req.Items),
		}).Info("[service] sale rejected")
		return domain.Sale{}, err
	}

	s.invalidate(ctx, touched...)
	s.logAudit(ctx, "sale_create", "sale", sale.ID, logrus.Fields{
		"user_id":        sale.UserID,
		"payment_method": sale.PaymentMethod,
		"total":          sale.Total.String(),
		"lines":          len(req.Items),
	})
	return sale, nil
}

// applyLine locks the line's product, takes its stock (and for a composite
// the stock of each component, scaled by the line quantity) and appends the
// priced line item. Products are re-read through the transaction, so a product
// repeated in the cart sees the earlier lines' decrements.
func applyLine(ctx context.Context, tx store.Tx, acc cart, line domain.SaleLine) (cart, error) {
	product, err := tx.ProductForUpdate(ctx, line.ProductID)
	if err != nil {
		return acc, err
	}
	unitPrice := product.Price
	if line.UnitPrice != nil {
		unitPrice = *line.UnitPrice
	}

	if err := takeStock(ctx, tx, *product, line.Quantity); err != nil {
		return acc, err
	}
	acc.touched = append(acc.touched, product.ID)

	if product.IsComposite {
		edges, err := tx.Components(ctx, product.ID)
		if err != nil {
			return acc, err
		}
		for _, edge := range edges {
			child, err := tx.ProductForUpdate(ctx, edge.ChildID)
			if err != nil {
				return acc, fmt.Errorf("component of %q: %w", product.Name, err)
			}
			if err := takeStock(ctx, tx, *child, edge.Quantity*line.Quantity); err != nil {
				return acc, err
			}
			acc.touched = append(acc.touched, child.ID)
		}
	}

	acc.items = append(acc.items, domain.SaleItem{
		SaleID:    acc.saleID,
		ProductID: product.ID,
		Quantity:  line.Quantity,
		UnitPrice: unitPrice,
		UnitCost:  product.Cost,
	})
	acc.total = acc.total.Add(unitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	return acc, nil
}

func takeStock(ctx context.Context, tx store.Tx, product domain.Product, qty int) error {
	if product.Stock < qty {
		return fmt.Errorf("%w: %q (id %d) has %d in stock, %d requested",
			store.ErrInsufficientStock, product.Name, product.ID, product.Stock, qty)
	}
	return tx.SetStock(ctx, product.ID, product.Stock-qty)
}

func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if limit <= 0 {
		limit = defaultSalesLimit
	}
	if limit > maxSalesLimit {
		limit = maxSalesLimit
	}
	return s.repo.ListSales(ctx, limit)
}

func (s *Service) GetSale(ctx context.Context, id int64) (domain.SaleDetail, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.SaleDetail{}, err
	}
	items, err := s.repo.ListSaleItems(ctx, id)
	if err != nil {
		return domain.SaleDetail{}, err
	}
	return domain.SaleDetail{Sale: *sale, Items: items}, nil
}
