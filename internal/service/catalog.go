package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"puntoventa/backend/internal/access"
	"puntoventa/backend/internal/domain"
	"puntoventa/backend/internal/store"
	"puntoventa/backend/internal/xid"
)

const (
	barcodeLength   = 12
	barcodeAttempts = 5
)

func (s *Service) ListProducts(ctx context.Context, search string) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, search)
}

// GetProduct returns the product with its resolved components, read through
// the product cache.
func (s *Service) GetProduct(ctx context.Context, id int64) (domain.ProductDetail, error) {
	if cached, ok, err := s.products.Get(ctx, id); err != nil {
		logrus.WithError(err).WithField("product_id", id).Warn("[service] product cache read failed")
	} else if ok {
		return *cached, nil
	}
	gen, genErr := s.products.Generation(ctx, id)
	if genErr != nil {
		logrus.WithError(genErr).WithField("product_id", id).Warn("[service] product cache generation read failed")
	}

	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.ProductDetail{}, err
	}
	detail := domain.ProductDetail{Product: *product, Children: []domain.Component{}}
	if product.IsComposite {
		children, err := s.repo.ListComponents(ctx, id)
		if err != nil {
			return domain.ProductDetail{}, err
		}
		detail.Children = children
	}

	if genErr == nil {
		if err := s.products.Set(ctx, &detail, gen, s.cacheTTL); err != nil {
			logrus.WithError(err).WithField("product_id", id).Warn("[service] product cache write failed")
		}
	}
	return detail, nil
}

func (s *Service) GetProductByBarcode(ctx context.Context, barcode string) (domain.Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return domain.Product{}, fmt.Errorf("%w: barcode is required", store.ErrValidation)
	}
	product, err := s.repo.GetProductByBarcode(ctx, barcode)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.ProductDetail, error) {
	if _, err := s.authorize(ctx, access.CatalogWrite); err != nil {
		return domain.ProductDetail{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Barcode = strings.TrimSpace(req.Barcode)
	if err := validateRequest(req); err != nil {
		return domain.ProductDetail{}, err
	}
	cost, err := nonNegative("cost", req.Cost)
	if err != nil {
		return domain.ProductDetail{}, err
	}
	price, err := nonNegative("price", req.Price)
	if err != nil {
		return domain.ProductDetail{}, err
	}
	stock := 0
	if req.Stock != nil {
		stock = *req.Stock
	}
	var edges []domain.CompositionEdge
	if req.IsComposite {
		if edges, err = normalizeChildren(req.Children); err != nil {
			return domain.ProductDetail{}, err
		}
	}

	generated := req.Barcode == ""
	var created *domain.Product
	for attempt := 1; ; attempt++ {
		product := domain.Product{
			Name:        req.Name,
			Description: req.Description,
			Cost:        cost,
			Price:       price,
			Stock:       stock,
			Barcode:     req.Barcode,
			IsComposite: req.IsComposite,
		}
		if generated {
			if product.Barcode, err = xid.Digits(barcodeLength); err != nil {
				return domain.ProductDetail{}, fmt.Errorf("generate barcode: %w", err)
			}
		}

		err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
			inserted, err := tx.InsertProduct(ctx, product)
			if err != nil {
				return err
			}
			if len(edges) > 0 {
				if err := checkComposition(ctx, tx, inserted.ID, edges); err != nil {
					return err
				}
				if err := tx.ReplaceComponents(ctx, inserted.ID, edges); err != nil {
					return err
				}
			}
			created = inserted
			return nil
		})
		if err == nil {
			break
		}
		if generated && errors.Is(err, store.ErrDuplicate) && attempt < barcodeAttempts {
			logrus.WithField("attempt", attempt).Warn("[service] generated barcode collided, retrying")
			continue
		}
		return domain.ProductDetail{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID, logrus.Fields{
		"name":       created.Name,
		"price":      created.Price.String(),
		"stock":      created.Stock,
		"composite":  created.IsComposite,
		"components": len(edges),
	})
	return s.GetProduct(ctx, created.ID)
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (domain.ProductDetail, error) {
	if _, err := s.authorize(ctx, access.CatalogWrite); err != nil {
		return domain.ProductDetail{}, err
	}
	if err := validateRequest(req); err != nil {
		return domain.ProductDetail{}, err
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.ProductDetail{}, fmt.Errorf("%w: name must not be empty", store.ErrValidation)
		}
		req.Name = &name
	}
	if req.Cost != nil && req.Cost.IsNegative() {
		return domain.ProductDetail{}, fmt.Errorf("%w: cost must not be negative", store.ErrValidation)
	}
	if req.Price != nil && req.Price.IsNegative() {
		return domain.ProductDetail{}, fmt.Errorf("%w: price must not be negative", store.ErrValidation)
	}
	var edges []domain.CompositionEdge
	if req.Children != nil {
		var err error
		if edges, err = normalizeChildren(req.Children); err != nil {
			return domain.ProductDetail{}, err
		}
	}

	var invalidated []int64
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		current, err := tx.ProductForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next := applyProductUpdate(*current, req)
		if _, err := tx.UpdateProduct(ctx, next); err != nil {
			return err
		}

		switch {
		case !next.IsComposite:
			if err := tx.ReplaceComponents(ctx, id, nil); err != nil {
				return err
			}
		case req.Children != nil:
			if err := checkComposition(ctx, tx, id, edges); err != nil {
				return err
			}
			if err := tx.ReplaceComponents(ctx, id, edges); err != nil {
				return err
			}
		}

		parents, err := tx.ParentsOf(ctx, id)
		if err != nil {
			return err
		}
		invalidated = append([]int64{id}, parents...)
		return nil
	})
	if err != nil {
		return domain.ProductDetail{}, err
	}

	s.invalidate(ctx, invalidated...)
	s.logAudit(ctx, "product_update", "product", id, logrus.Fields{
		"children_replaced": req.Children != nil,
	})
	return s.GetProduct(ctx, id)
}

// DeleteProduct removes a product and its own composition edges. A product
// still used as a component, or present in sale history, is kept.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if _, err := s.authorize(ctx, access.CatalogWrite); err != nil {
		return err
	}

	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.ProductForUpdate(ctx, id); err != nil {
			return err
		}
		parents, err := tx.ParentsOf(ctx, id)
		if err != nil {
			return err
		}
		if len(parents) > 0 {
			return fmt.Errorf("%w: product %d is a component of %v", store.ErrConflict, id, parents)
		}
		sold, err := tx.ProductHasSales(ctx, id)
		if err != nil {
			return err
		}
		if sold {
			return fmt.Errorf("%w: product %d appears in sale history", store.ErrConflict, id)
		}
		return tx.DeleteProduct(ctx, id)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, id)
	s.logAudit(ctx, "product_delete", "product", id, nil)
	return nil
}

func applyProductUpdate(p domain.Product, req domain.ProductUpdateRequest) domain.Product {
	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Description != nil {
		desc := *req.Description
		p.Description = &desc
	}
	if req.Cost != nil {
		p.Cost = *req.Cost
	}
	if req.Price != nil {
		p.Price = *req.Price
	}
	if req.Stock != nil {
		p.Stock = *req.Stock
	}
	if req.Barcode != nil {
		p.Barcode = strings.TrimSpace(*req.Barcode)
	}
	if req.IsComposite != nil {
		p.IsComposite = *req.IsComposite
	}
	return p
}

// normalizeChildren turns a children list into edges: a missing or zero
// quantity means one unit and repeated children are summed into one edge.
func normalizeChildren(children []domain.ChildSpec) ([]domain.CompositionEdge, error) {
	edges := make([]domain.CompositionEdge, 0, len(children))
	index := make(map[int64]int, len(children))
	for _, child := range children {
		if child.ProductID <= 0 {
			return nil, fmt.Errorf("%w: child product_id is required", store.ErrValidation)
		}
		if child.Quantity < 0 {
			return nil, fmt.Errorf("%w: quantity of child %d must not be negative", store.ErrValidation, child.ProductID)
		}
		qty := child.Quantity
		if qty == 0 {
			qty = 1
		}
		if i, ok := index[child.ProductID]; ok {
			edges[i].Quantity += qty
			continue
		}
		index[child.ProductID] = len(edges)
		edges = append(edges, domain.CompositionEdge{ChildID: child.ProductID, Quantity: qty})
	}
	return edges, nil
}

// checkComposition verifies that every child exists and that no child
// reaches parentID through its own components.
func checkComposition(ctx context.Context, tx store.Tx, parentID int64, edges []domain.CompositionEdge) error {
	stack := make([]int64, 0, len(edges))
	for _, edge := range edges {
		stack = append(stack, edge.ChildID)
	}
	visited := make(map[int64]bool)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == parentID {
			return fmt.Errorf("%w: product %d would contain itself through its components", store.ErrConflict, parentID)
		}
		if visited[id] {
			continue
		}
		visited[id] = true

		sub, err := tx.Components(ctx, id)
		if err != nil {
			return err
		}
		for _, edge := range sub {
			stack = append(stack, edge.ChildID)
		}
	}
	return nil
}

func nonNegative(field string, value *decimal.Decimal) (decimal.Decimal, error) {
	if value == nil {
		return decimal.Zero, nil
	}
	if value.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s must not be negative", store.ErrValidation, field)
	}
	return *value, nil
}
