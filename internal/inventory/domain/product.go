package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound   = errors.New("product not found")
	ErrValidation = errors.New("validation failed")
)

// PriceScale and maxPrice mirror the NUMERIC(14, 2) price column so a stored
// price always reads back exactly as it was accepted.
const PriceScale = 2

var maxPrice = decimal.New(1, 12)

type Product struct {
	ID        int64
	Name      string
	Price     decimal.Decimal
	Stock     int32
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewProduct validates the mutable fields shared by create and update.
func NewProduct(name string, price decimal.Decimal, stock int32) (Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Product{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if price.IsNegative() {
		return Product{}, fmt.Errorf("%w: price must not be negative", ErrValidation)
	}
	if !price.Equal(price.Round(PriceScale)) {
		return Product{}, fmt.Errorf("%w: price must have at most %d decimal places", ErrValidation, PriceScale)
	}
	if price.GreaterThanOrEqual(maxPrice) {
		return Product{}, fmt.Errorf("%w: price must be below %s", ErrValidation, maxPrice)
	}
	if stock < 0 {
		return Product{}, fmt.Errorf("%w: stock must not be negative", ErrValidation)
	}
	now := time.Now().UTC()
	return Product{Name: name, Price: price, Stock: stock, CreatedAt: now, UpdatedAt: now}, nil
}
