package grpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dmehra2102/order-inventory-choreography/internal/order/application"
	"github.com/dmehra2102/order-inventory-choreography/internal/order/domain"
	"github.com/dmehra2102/order-inventory-choreography/pkg/catalog"
)

type ProductGetter interface {
	GetProduct(ctx context.Context, id int64) (*catalog.Product, error)
}

// CatalogClient reads unit prices from the inventory service. The snapshot is
// read-only and may be stale by the time stock is reserved.
type CatalogClient struct {
	getter ProductGetter
}

func NewCatalogClient(getter ProductGetter) *CatalogClient {
	return &CatalogClient{getter: getter}
}

var _ application.ProductCatalog = (*CatalogClient)(nil)

func (c *CatalogClient) Lookup(ctx context.Context, productID int64) (application.CatalogProduct, error) {
	p, err := c.getter.GetProduct(ctx, productID)
	if errors.Is(err, catalog.ErrNotFound) {
		return application.CatalogProduct{}, fmt.Errorf("%w: %d", domain.ErrProductNotFound, productID)
	}
	if err != nil {
		return application.CatalogProduct{}, fmt.Errorf("catalog lookup %d: %w", productID, err)
	}
	price, err := decimal.NewFromString(p.Price)
	if err != nil {
		return application.CatalogProduct{}, fmt.Errorf("catalog price for %d: %w", productID, err)
	}
	return application.CatalogProduct{ID: p.ID, Name: p.Name, Price: price}, nil
}
