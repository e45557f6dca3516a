package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	aggregatedomain "github.com/usagekit/tally/internal/aggregate/domain"
	eventdomain "github.com/usagekit/tally/internal/event/domain"
	eventrepo "github.com/usagekit/tally/internal/event/repository"
	pricedomain "github.com/usagekit/tally/internal/price/domain"
	priceservice "github.com/usagekit/tally/internal/price/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	jan = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	feb = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	mar = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	svc    aggregatedomain.Service
	events eventdomain.Store
	db     *gorm.DB
	node   *snowflake.Node
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&pricedomain.PriceRecord{}, &eventdomain.BillingEvent{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()

	events := eventrepo.NewStore(eventrepo.StoreParam{DB: db, Log: log})
	prices := priceservice.NewService(priceservice.ServiceParam{DB: db, Log: log})
	svc := NewService(ServiceParam{Log: log, Events: events, Prices: prices})

	return fixture{svc: svc, events: events, db: db, node: node}
}

func (f fixture) price(t *testing.T, sku string, price int64, from time.Time, until *time.Time) {
	t.Helper()
	record := pricedomain.PriceRecord{
		ID:         f.node.Generate(),
		SKU:        sku,
		Price:      decimal.NewFromInt(price),
		ValidFrom:  from,
		ValidUntil: until,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, f.db.Create(&record).Error)
}

func (f fixture) event(t *testing.T, sku string, quantity int64, ts time.Time, provenance eventdomain.Provenance) {
	t.Helper()
	_, err := f.events.Record(context.Background(), &eventdomain.BillingEvent{
		UUID:       uuid.New(),
		SKU:        sku,
		Account:    "acct1",
		Quantity:   decimal.NewFromInt(quantity),
		Timestamp:  ts,
		Provenance: provenance,
	})
	require.NoError(t, err)
}

func TestAggregate_PriceChangesAcrossBuckets(t *testing.T) {
	f := newFixture(t)

	// sku-a costs 100 through January and 120 from February on.
	f.price(t, "sku-a", 100, jan, &feb)
	f.price(t, "sku-a", 120, feb, nil)
	f.event(t, "sku-a", 2, jan.AddDate(0, 0, 14), eventdomain.ProvenanceExplicit)
	f.event(t, "sku-a", 3, feb.AddDate(0, 0, 9), eventdomain.ProvenanceExplicit)

	buckets, err := f.svc.Aggregate(context.Background(), aggregatedomain.Request{
		Account:     "acct1",
		From:        jan,
		To:          mar,
		BucketWidth: aggregatedomain.Width{Calendar: aggregatedomain.CalendarMonth},
	})
	require.NoError(t, err)
	require.Len(t, buckets, 2)

	assert.True(t, buckets[0].BucketStart.Equal(jan))
	assert.True(t, buckets[0].TotalQuantity.Equal(decimal.NewFromInt(2)))
	assert.True(t, buckets[0].TotalValue.Equal(decimal.NewFromInt(200)), "got %s", buckets[0].TotalValue)

	assert.True(t, buckets[1].BucketStart.Equal(feb))
	assert.True(t, buckets[1].TotalQuantity.Equal(decimal.NewFromInt(3)))
	assert.True(t, buckets[1].TotalValue.Equal(decimal.NewFromInt(360)), "got %s", buckets[1].TotalValue)
}

func TestAggregate_PriceChangeInsideBucket(t *testing.T) {
	f := newFixture(t)

	// The price flips mid-January. Each event is valued at the price in effect
	// at its own timestamp even though both land in the same bucket.
	mid := jan.AddDate(0, 0, 15)
	f.price(t, "sku-a", 100, jan, &mid)
	f.price(t, "sku-a", 120, mid, nil)
	f.event(t, "sku-a", 1, jan.AddDate(0, 0, 5), eventdomain.ProvenanceExplicit)
	f.event(t, "sku-a", 1, jan.AddDate(0, 0, 20), eventdomain.ProvenanceExplicit)

	buckets, err := f.svc.Aggregate(context.Background(), aggregatedomain.Request{
		From:        jan,
		To:          feb,
		BucketWidth: aggregatedomain.Width{Calendar: aggregatedomain.CalendarMonth},
	})
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.True(t, buckets[0].TotalValue.Equal(decimal.NewFromInt(220)), "got %s", buckets[0].TotalValue)
}

func TestAggregate_EmptyBucketsCoverRange(t *testing.T) {
	f := newFixture(t)

	f.price(t, "sku-a", 10, jan, nil)
	f.event(t, "sku-a", 4, jan.Add(30*time.Minute), eventdomain.ProvenanceExplicit)

	buckets, err := f.svc.Aggregate(context.Background(), aggregatedomain.Request{
		From:        jan,
		To:          jan.Add(3 * time.Hour),
		BucketWidth: aggregatedomain.Width{Duration: time.Hour},
	})
	require.NoError(t, err)
	require.Len(t, buckets, 3)

	assert.True(t, buckets[0].TotalQuantity.Equal(decimal.NewFromInt(4)))
	for _, bucket := range buckets[1:] {
		assert.True(t, bucket.TotalQuantity.IsZero())
		assert.True(t, bucket.TotalValue.IsZero())
	}

	// Bucket starts tile the range without gaps.
	for i, bucket := range buckets {
		assert.True(t, bucket.BucketStart.Equal(jan.Add(time.Duration(i)*time.Hour)))
	}
}

func TestAggregate_FirstBucketFloorsFrom(t *testing.T) {
	f := newFixture(t)

	from := jan.Add(25 * time.Minute)
	buckets, err := f.svc.Aggregate(context.Background(), aggregatedomain.Request{
		From:        from,
		To:          jan.Add(2 * time.Hour),
		BucketWidth: aggregatedomain.Width{Duration: time.Hour},
	})
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.True(t, buckets[0].BucketStart.Equal(jan), "first bucket aligns to the width boundary")
}

func TestAggregate_UnpricedQuantitySurfacedSeparately(t *testing.T) {
	f := newFixture(t)

	// sku-a is priced only from February. January usage has no price in
	// effect and must not be silently valued at zero.
	f.price(t, "sku-a", 100, feb, nil)
	f.event(t, "sku-a", 5, jan.AddDate(0, 0, 10), eventdomain.ProvenanceExplicit)
	f.event(t, "sku-a", 2, feb.AddDate(0, 0, 10), eventdomain.ProvenanceExplicit)

	buckets, err := f.svc.Aggregate(context.Background(), aggregatedomain.Request{
		From:        jan,
		To:          mar,
		BucketWidth: aggregatedomain.Width{Calendar: aggregatedomain.CalendarMonth},
	})
	require.NoError(t, err)
	require.Len(t, buckets, 2)

	assert.True(t, buckets[0].TotalQuantity.Equal(decimal.NewFromInt(5)))
	assert.True(t, buckets[0].TotalValue.IsZero())
	assert.True(t, buckets[0].UnpricedQuantity.Equal(decimal.NewFromInt(5)))

	assert.True(t, buckets[1].TotalValue.Equal(decimal.NewFromInt(200)))
	assert.True(t, buckets[1].UnpricedQuantity.IsZero())
}

func TestAggregate_ExplicitOnlyExcludesEstimates(t *testing.T) {
	f := newFixture(t)

	f.price(t, "sku-a", 10, jan, nil)
	f.event(t, "sku-a", 2, jan.Add(time.Hour), eventdomain.ProvenanceExplicit)
	f.event(t, "sku-a", 7, jan.Add(2*time.Hour), eventdomain.ProvenanceEstimated)

	req := aggregatedomain.Request{
		From:        jan,
		To:          jan.AddDate(0, 0, 1),
		BucketWidth: aggregatedomain.Width{Calendar: aggregatedomain.CalendarDay},
	}

	buckets, err := f.svc.Aggregate(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.True(t, buckets[0].TotalQuantity.Equal(decimal.NewFromInt(9)))

	req.ExplicitOnly = true
	buckets, err = f.svc.Aggregate(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.True(t, buckets[0].TotalQuantity.Equal(decimal.NewFromInt(2)))
	assert.True(t, buckets[0].TotalValue.Equal(decimal.NewFromInt(20)))
}

func TestAggregate_FiltersByAccountAndSKU(t *testing.T) {
	f := newFixture(t)

	f.price(t, "sku-a", 10, jan, nil)
	f.price(t, "sku-b", 50, jan, nil)
	f.event(t, "sku-a", 1, jan.Add(time.Hour), eventdomain.ProvenanceExplicit)
	f.event(t, "sku-b", 1, jan.Add(time.Hour), eventdomain.ProvenanceExplicit)

	buckets, err := f.svc.Aggregate(context.Background(), aggregatedomain.Request{
		Account:     "acct1",
		SKU:         "sku-b",
		From:        jan,
		To:          jan.AddDate(0, 0, 1),
		BucketWidth: aggregatedomain.Width{Calendar: aggregatedomain.CalendarDay},
	})
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.True(t, buckets[0].TotalQuantity.Equal(decimal.NewFromInt(1)))
	assert.True(t, buckets[0].TotalValue.Equal(decimal.NewFromInt(50)))
}

func TestAggregate_RejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Aggregate(ctx, aggregatedomain.Request{
		From:        feb,
		To:          jan,
		BucketWidth: aggregatedomain.Width{Duration: time.Hour},
	})
	assert.ErrorIs(t, err, aggregatedomain.ErrInvalidTimeRange)

	_, err = f.svc.Aggregate(ctx, aggregatedomain.Request{From: jan, To: feb})
	assert.ErrorIs(t, err, aggregatedomain.ErrInvalidBucketWidth)
}
