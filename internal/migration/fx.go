package migration

import (
	estimatordomain "github.com/usagekit/tally/internal/estimator/domain"
	eventdomain "github.com/usagekit/tally/internal/event/domain"
	itemdomain "github.com/usagekit/tally/internal/item/domain"
	pricedomain "github.com/usagekit/tally/internal/price/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Module creates the schema on startup.
var Module = fx.Module("migration",
	fx.Invoke(AutoMigrate),
)

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&itemdomain.BillingItem{},
		&pricedomain.PriceRecord{},
		&eventdomain.BillingEvent{},
		&estimatordomain.RateSample{},
	)
}
