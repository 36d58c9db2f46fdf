package grpc

import (
	"context"
	"errors"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dmehra2102/order-inventory-choreography/internal/inventory/domain"
	"github.com/dmehra2102/order-inventory-choreography/pkg/catalog"
)

type ProductReader interface {
	GetProduct(ctx context.Context, id int64) (domain.Product, error)
}

// Server answers catalog lookups from the product store. It never reserves.
type Server struct {
	log      *zap.Logger
	products ProductReader
}

func NewServer(log *zap.Logger, products ProductReader) *Server {
	return &Server{log: log, products: products}
}

func (s *Server) GetProduct(ctx context.Context, req *catalog.GetProductRequest) (*catalog.Product, error) {
	p, err := s.products.GetProduct(ctx, req.ProductID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, status.Errorf(codes.NotFound, "product %d not found", req.ProductID)
	}
	if err != nil {
		s.log.Error("catalog lookup failed", zap.Int64("product_id", req.ProductID), zap.Error(err))
		return nil, status.Error(codes.Unavailable, "product store unavailable")
	}
	return &catalog.Product{ID: p.ID, Name: p.Name, Price: p.Price.StringFixed(domain.PriceScale), Stock: p.Stock}, nil
}

func Run(addr string, srv *Server) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	gs := catalog.NewGRPCServer(srv)
	go func() {
		if err := gs.Serve(lis); err != nil {
			srv.log.Error("grpc serve stopped", zap.Error(err))
		}
	}()
	return gs, nil
}
