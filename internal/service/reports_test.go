package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"puntoventa/backend/internal/domain"
)

func TestSalesAndProfitReports(t *testing.T) {
	svc := newTestService(t)
	a := mustCreateProduct(t, svc, domain.ProductCreateRequest{Name: "Latte", Cost: decPtr("1.20"), Price: decPtr("3.50"), Stock: intPtr(50)})
	b := mustCreateProduct(t, svc, domain.ProductCreateRequest{Name: "Muffin", Cost: decPtr("0.80"), Price: decPtr("2.00"), Stock: intPtr(50)})

	_, err := sell(svc, domain.SaleLine{ProductID: a.ID, Quantity: 2}, domain.SaleLine{ProductID: b.ID, Quantity: 1})
	require.NoError(t, err)
	_, err = sell(svc, domain.SaleLine{ProductID: b.ID, Quantity: 3, UnitPrice: decPtr("1.50")})
	require.NoError(t, err)

	today := domain.RangeDaily.Label(time.Now())

	sales, err := svc.SalesReport(context.Background(), "daily")
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, today, sales[0].Date)
	assert.True(t, dec("13.50").Equal(sales[0].TotalSales), "total = %s", sales[0].TotalSales)

	profit, err := svc.ProfitReport(context.Background(), "bogus")
	require.NoError(t, err)
	require.Len(t, profit, 1)
	assert.Equal(t, today, profit[0].Date)
	assert.True(t, dec("13.50").Equal(profit[0].Income))
	assert.True(t, dec("5.60").Equal(profit[0].Cost), "cost = %s", profit[0].Cost)
	assert.True(t, dec("7.90").Equal(profit[0].Profit))

	monthly, err := svc.SalesReport(context.Background(), "monthly")
	require.NoError(t, err)
	require.Len(t, monthly, 1)
	assert.Equal(t, time.Now().UTC().Format("2006-01"), monthly[0].Date)
}

func TestTopProducts(t *testing.T) {
	svc := newTestService(t)
	a := mustCreateProduct(t, svc, domain.ProductCreateRequest{Name: "Bagel", Stock: intPtr(50)})
	b := mustCreateProduct(t, svc, domain.ProductCreateRequest{Name: "Donut", Stock: intPtr(50)})
	c := mustCreateProduct(t, svc, domain.ProductCreateRequest{Name: "Scone", Stock: intPtr(50)})

	_, err := sell(svc, domain.SaleLine{ProductID: a.ID, Quantity: 2}, domain.SaleLine{ProductID: b.ID, Quantity: 5})
	require.NoError(t, err)
	_, err = sell(svc, domain.SaleLine{ProductID: a.ID, Quantity: 1}, domain.SaleLine{ProductID: c.ID, Quantity: 1})
	require.NoError(t, err)

	top, err := svc.TopProducts(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "Donut", top[0].Name)
	assert.Equal(t, 5, top[0].TotalSold)
	assert.Equal(t, "Bagel", top[1].Name)
	assert.Equal(t, 3, top[1].TotalSold)

	all, err := svc.TopProducts(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestReportsEmptyWithoutSales(t *testing.T) {
	svc := newTestService(t)
	rows, err := svc.SalesReport(context.Background(), "weekly")
	require.NoError(t, err)
	assert.Empty(t, rows)
}
