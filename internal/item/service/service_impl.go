package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	itemdomain "github.com/usagekit/tally/internal/item/domain"
	"github.com/usagekit/tally/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p ServiceParam) itemdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("item.service"),
		genID: p.GenID,
	}
}

// EnsureItem performs an insert-or-ignore keyed on SKU, then reads the row back.
// The uniqueness constraint closes the race between concurrent first sightings;
// losing that race is success, not failure. Name and unit stay empty until an
// operator fills them in, and this path never touches them again.
func (s *Service) EnsureItem(ctx context.Context, sku string) (*itemdomain.BillingItem, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return nil, itemdomain.ErrInvalidSKU
	}

	row := itemdomain.BillingItem{
		ID:        s.genID.Generate(),
		SKU:       sku,
		CreatedAt: time.Now().UTC(),
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "sku"}},
			DoNothing: true,
		}).
		Create(&row)
	if result.Error != nil && !db.IsDuplicateKeyErr(result.Error) {
		return nil, result.Error
	}
	if result.Error == nil && result.RowsAffected > 0 {
		s.log.Info("registered unknown sku", zap.String("sku", sku))
		return &row, nil
	}

	s.log.Debug("sku already registered", zap.String("sku", sku))

	var existing itemdomain.BillingItem
	if err := s.db.WithContext(ctx).Where("sku = ?", sku).First(&existing).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

func (s *Service) List(ctx context.Context) ([]itemdomain.BillingItem, error) {
	var items []itemdomain.BillingItem
	if err := s.db.WithContext(ctx).Order("sku ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
