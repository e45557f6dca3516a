package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	pricedomain "github.com/usagekit/tally/internal/price/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(p ServiceParam) pricedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("price.service"),
	}
}

// ResolvePrice is a point-in-time snapshot read. Administrative writes land
// concurrently; read-committed isolation is all this needs because windows for
// one SKU never overlap.
func (s *Service) ResolvePrice(ctx context.Context, sku string, ts time.Time) (decimal.Decimal, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return decimal.Decimal{}, pricedomain.ErrInvalidSKU
	}

	var record pricedomain.PriceRecord
	err := s.db.WithContext(ctx).
		Where("sku = ? AND valid_from <= ? AND (valid_until IS NULL OR valid_until > ?)", sku, ts, ts).
		Order("valid_from DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Decimal{}, pricedomain.ErrNoPrice
		}
		return decimal.Decimal{}, err
	}
	return record.Price, nil
}

func (s *Service) Snapshot(ctx context.Context, skus []string) (pricedomain.History, error) {
	query := s.db.WithContext(ctx).Model(&pricedomain.PriceRecord{})
	if len(skus) > 0 {
		query = query.Where("sku IN ?", skus)
	}

	var records []pricedomain.PriceRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return pricedomain.BuildHistory(records), nil
}

func (s *Service) List(ctx context.Context, sku string) ([]pricedomain.PriceRecord, error) {
	query := s.db.WithContext(ctx).Order("sku ASC, valid_from ASC")
	if sku = strings.TrimSpace(sku); sku != "" {
		query = query.Where("sku = ?", sku)
	}

	var records []pricedomain.PriceRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
