package grpc

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dmehra2102/order-inventory-choreography/internal/inventory/domain"
	"github.com/dmehra2102/order-inventory-choreography/pkg/catalog"
)

type fakeProducts map[int64]domain.Product

func (f fakeProducts) GetProduct(_ context.Context, id int64) (domain.Product, error) {
	if id < 0 {
		return domain.Product{}, errors.New("connection reset")
	}
	p, ok := f[id]
	if !ok {
		return domain.Product{}, domain.ErrNotFound
	}
	return p, nil
}

func TestGetProductMapsDomain(t *testing.T) {
	srv := NewServer(zap.NewNop(), fakeProducts{1: {ID: 1, Name: "Mouse", Price: decimal.RequireFromString("59.9"), Stock: 4}})

	p, err := srv.GetProduct(context.Background(), &catalog.GetProductRequest{ProductID: 1})
	require.NoError(t, err)
	assert.Equal(t, &catalog.Product{ID: 1, Name: "Mouse", Price: "59.90", Stock: 4}, p)
}

func TestGetProductPriceParsesBackExactly(t *testing.T) {
	for _, price := range []string{"0", "0.05", "1234.5", "999999999999.99"} {
		want := decimal.RequireFromString(price)
		srv := NewServer(zap.NewNop(), fakeProducts{1: {ID: 1, Name: "Mouse", Price: want}})

		p, err := srv.GetProduct(context.Background(), &catalog.GetProductRequest{ProductID: 1})
		require.NoError(t, err)
		got, err := decimal.NewFromString(p.Price)
		require.NoError(t, err)
		assert.True(t, want.Equal(got), "%s came back as %s", price, p.Price)
	}
}

func TestGetProductStatusCodes(t *testing.T) {
	srv := NewServer(zap.NewNop(), fakeProducts{})

	_, err := srv.GetProduct(context.Background(), &catalog.GetProductRequest{ProductID: 2})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = srv.GetProduct(context.Background(), &catalog.GetProductRequest{ProductID: -1})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
