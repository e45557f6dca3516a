package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Service interface {
	// ResolvePrice returns the unique price whose validity window contains ts,
	// or ErrNoPrice when the history has a gap or the SKU was never priced.
	ResolvePrice(ctx context.Context, sku string, ts time.Time) (decimal.Decimal, error)
	// Snapshot loads the price history for the given SKUs in one read. An empty
	// skus slice loads the whole table.
	Snapshot(ctx context.Context, skus []string) (History, error)
	List(ctx context.Context, sku string) ([]PriceRecord, error)
}

var (
	ErrNoPrice    = errors.New("no_price_in_effect")
	ErrInvalidSKU = errors.New("invalid_sku")
)
