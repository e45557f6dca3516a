package domain

import (
	"context"
	"errors"
)

type Service interface {
	// EnsureItem registers sku if it is unknown and returns the stored row.
	// Concurrent callers racing on the same SKU all succeed.
	EnsureItem(ctx context.Context, sku string) (*BillingItem, error)
	List(ctx context.Context) ([]BillingItem, error)
}

var (
	ErrInvalidSKU = errors.New("invalid_sku")
)
