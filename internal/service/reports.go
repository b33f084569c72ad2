package service

import (
	"context"

	"puntoventa/backend/internal/domain"
)

const (
	defaultTopProducts = 10
	maxTopProducts     = 100
)

func (s *Service) SalesReport(ctx context.Context, rangeRaw string) ([]domain.SalesReportRow, error) {
	return s.repo.SalesReport(ctx, domain.ParseReportRange(rangeRaw))
}

func (s *Service) ProfitReport(ctx context.Context, rangeRaw string) ([]domain.ProfitReportRow, error) {
	return s.repo.ProfitReport(ctx, domain.ParseReportRange(rangeRaw))
}

func (s *Service) TopProducts(ctx context.Context, limit int) ([]domain.TopProduct, error) {
	if limit <= 0 {
		limit = defaultTopProducts
	}
	if limit > maxTopProducts {
		limit = maxTopProducts
	}
	return s.repo.TopProducts(ctx, limit)
}
