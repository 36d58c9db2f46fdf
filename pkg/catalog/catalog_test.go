package catalog

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type staticCatalog map[int64]Product

func (s staticCatalog) GetProduct(_ context.Context, req *GetProductRequest) (*Product, error) {
	p, ok := s[req.ProductID]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "product %d not found", req.ProductID)
	}
	return &p, nil
}

func startCatalog(t *testing.T, impl Server) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := NewGRPCServer(impl)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	c, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGetProductOverGRPC(t *testing.T) {
	c := startCatalog(t, staticCatalog{1: {ID: 1, Name: "Teclado", Price: "149.90", Stock: 3}})

	p, err := c.GetProduct(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Teclado", p.Name)
	assert.Equal(t, "149.90", p.Price)
}

func TestGetProductNotFound(t *testing.T) {
	c := startCatalog(t, staticCatalog{})

	_, err := c.GetProduct(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}
