package service

import (
	"context"

	"github.com/shopspring/decimal"
	aggregatedomain "github.com/usagekit/tally/internal/aggregate/domain"
	eventdomain "github.com/usagekit/tally/internal/event/domain"
	"github.com/usagekit/tally/internal/metrics"
	pricedomain "github.com/usagekit/tally/internal/price/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Log     *zap.Logger
	Events  eventdomain.Store
	Prices  pricedomain.Service
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	events  eventdomain.Store
	prices  pricedomain.Service
	metrics *metrics.Metrics
}

func NewService(p ServiceParam) aggregatedomain.Service {
	return &Service{
		log:     p.Log.Named("aggregate.service"),
		events:  p.Events,
		prices:  p.Prices,
		metrics: p.Metrics,
	}
}

// Aggregate streams matching events once, in timestamp order, and folds each
// into exactly one bucket. Price resolution is per event at the event's own
// timestamp: validity windows need not align with bucket boundaries. Explicit
// and estimated events sum together; the estimator guarantees their intervals
// are disjoint, so this is not double counting.
func (s *Service) Aggregate(ctx context.Context, req aggregatedomain.Request) ([]aggregatedomain.Bucket, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var skus []string
	if req.SKU != "" {
		skus = []string{req.SKU}
	}
	history, err := s.prices.Snapshot(ctx, skus)
	if err != nil {
		return nil, err
	}

	buckets := emptyBuckets(req)
	idx := 0

	filter := eventdomain.Filter{
		Account:      req.Account,
		SKU:          req.SKU,
		From:         req.From,
		To:           req.To,
		ExplicitOnly: req.ExplicitOnly,
	}
	err = s.events.Scan(ctx, filter, func(event eventdomain.BillingEvent) error {
		// Events arrive in timestamp order, so the target bucket only ever
		// moves forward.
		for idx < len(buckets)-1 && !event.Timestamp.Before(buckets[idx+1].BucketStart) {
			idx++
		}
		bucket := &buckets[idx]

		bucket.TotalQuantity = bucket.TotalQuantity.Add(event.Quantity)
		if price, ok := history.Resolve(event.SKU, event.Timestamp); ok {
			bucket.TotalValue = bucket.TotalValue.Add(event.Quantity.Mul(price))
		} else {
			bucket.UnpricedQuantity = bucket.UnpricedQuantity.Add(event.Quantity)
			if s.metrics != nil {
				quantity, _ := event.Quantity.Float64()
				s.metrics.UnpricedQuantity.Add(quantity)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return buckets, nil
}

// emptyBuckets lays out the zeroed bucket sequence covering [From, To). The
// first bucket start is the floor of From, so callers get stable,
// boundary-aligned bucket labels.
func emptyBuckets(req aggregatedomain.Request) []aggregatedomain.Bucket {
	var buckets []aggregatedomain.Bucket
	for start := req.BucketWidth.Floor(req.From); start.Before(req.To); start = req.BucketWidth.Next(start) {
		buckets = append(buckets, aggregatedomain.Bucket{
			BucketStart:      start,
			TotalQuantity:    decimal.Zero,
			TotalValue:       decimal.Zero,
			UnpricedQuantity: decimal.Zero,
		})
	}
	return buckets
}
