package service

import (
	"context"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	itemdomain "github.com/usagekit/tally/internal/item/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (itemdomain.Service, *gorm.DB) {
	t.Helper()

	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&itemdomain.BillingItem{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
	})
	return svc, db
}

func TestEnsureItem_CreatesUnknownSKU(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	item, err := svc.EnsureItem(ctx, "cpu-seconds")
	require.NoError(t, err)
	assert.Equal(t, "cpu-seconds", item.SKU)
	assert.Empty(t, item.Name)
	assert.Empty(t, item.Unit)
	assert.NotZero(t, item.ID)
}

func TestEnsureItem_Idempotent(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	first, err := svc.EnsureItem(ctx, "cpu-seconds")
	require.NoError(t, err)

	second, err := svc.EnsureItem(ctx, "cpu-seconds")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&itemdomain.BillingItem{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestEnsureItem_NeverTouchesOperatorMetadata(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	item, err := svc.EnsureItem(ctx, "storage-gb-hours")
	require.NoError(t, err)

	// Operator names the item out of band.
	require.NoError(t, db.Model(&itemdomain.BillingItem{}).
		Where("sku = ?", item.SKU).
		Updates(map[string]any{"name": "Block storage", "unit": "GB-hours"}).Error)

	again, err := svc.EnsureItem(ctx, "storage-gb-hours")
	require.NoError(t, err)
	assert.Equal(t, "Block storage", again.Name)
	assert.Equal(t, "GB-hours", again.Unit)
}

func TestEnsureItem_RejectsEmptySKU(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.EnsureItem(context.Background(), "   ")
	assert.ErrorIs(t, err, itemdomain.ErrInvalidSKU)
}

func TestList_OrderedBySKU(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, sku := range []string{"egress-gb", "cpu-seconds", "storage-gb-hours"} {
		_, err := svc.EnsureItem(ctx, sku)
		require.NoError(t, err)
	}

	items, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "cpu-seconds", items[0].SKU)
	assert.Equal(t, "egress-gb", items[1].SKU)
	assert.Equal(t, "storage-gb-hours", items[2].SKU)
}
