package grpc

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/order-inventory-choreography/internal/order/domain"
	"github.com/dmehra2102/order-inventory-choreography/pkg/catalog"
)

type getterFunc func(ctx context.Context, id int64) (*catalog.Product, error)

func (f getterFunc) GetProduct(ctx context.Context, id int64) (*catalog.Product, error) {
	return f(ctx, id)
}

func TestLookupParsesPrice(t *testing.T) {
	c := NewCatalogClient(getterFunc(func(_ context.Context, id int64) (*catalog.Product, error) {
		return &catalog.Product{ID: id, Name: "Mouse", Price: "59.90"}, nil
	}))

	p, err := c.Lookup(context.Background(), 4)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("59.9").Equal(p.Price))
}

func TestLookupMapsErrors(t *testing.T) {
	notFound := NewCatalogClient(getterFunc(func(_ context.Context, id int64) (*catalog.Product, error) {
		return nil, fmt.Errorf("%w: %d", catalog.ErrNotFound, id)
	}))
	_, err := notFound.Lookup(context.Background(), 4)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	down := NewCatalogClient(getterFunc(func(context.Context, int64) (*catalog.Product, error) {
		return nil, errors.New("unavailable")
	}))
	_, err = down.Lookup(context.Background(), 4)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrProductNotFound)
}
