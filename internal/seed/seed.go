// Package seed bootstraps demo catalog data for development environments.
package seed

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/usagekit/tally/internal/config"
	itemdomain "github.com/usagekit/tally/internal/item/domain"
	pricedomain "github.com/usagekit/tally/internal/price/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var Module = fx.Module("seed",
	fx.Invoke(EnsureDemoCatalog),
)

type demoItem struct {
	sku   string
	name  string
	unit  string
	price string
}

var demoCatalog = []demoItem{
	{sku: "cpu-seconds", name: "CPU time", unit: "seconds", price: "0.000012"},
	{sku: "storage-gb-hours", name: "Block storage", unit: "GB-hours", price: "0.000140"},
	{sku: "egress-gb", name: "Network egress", unit: "GB", price: "0.090000"},
}

// EnsureDemoCatalog inserts a small item and price catalog outside production.
// Inserts are keyed on the same uniqueness constraints the engine relies on,
// so reruns are no-ops.
func EnsureDemoCatalog(cfg config.Config, db *gorm.DB, log *zap.Logger, genID *snowflake.Node) error {
	if !cfg.IsDevelopment() {
		return nil
	}
	log = log.Named("seed")

	now := time.Now().UTC()
	validFrom := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	for _, demo := range demoCatalog {
		item := itemdomain.BillingItem{
			ID:        genID.Generate(),
			SKU:       demo.sku,
			Name:      demo.name,
			Unit:      demo.unit,
			CreatedAt: now,
		}
		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "sku"}},
			DoNothing: true,
		}).Create(&item).Error
		if err != nil {
			return err
		}

		price, err := decimal.NewFromString(demo.price)
		if err != nil {
			return err
		}
		record := pricedomain.PriceRecord{
			ID:        genID.Generate(),
			SKU:       demo.sku,
			Price:     price,
			ValidFrom: validFrom,
			CreatedAt: now,
		}
		err = db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "sku"}, {Name: "valid_from"}},
			DoNothing: true,
		}).Create(&record).Error
		if err != nil {
			return err
		}
	}

	log.Info("ensured demo catalog", zap.Int("items", len(demoCatalog)))
	return nil
}
