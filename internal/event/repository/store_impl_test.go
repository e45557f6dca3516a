package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	eventdomain "github.com/usagekit/tally/internal/event/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) eventdomain.Store {
	t.Helper()

	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&eventdomain.BillingEvent{}))

	return NewStore(StoreParam{
		DB:  db,
		Log: zap.NewNop(),
	})
}

func explicitEvent(id uuid.UUID, account, sku string, quantity int64, ts time.Time) *eventdomain.BillingEvent {
	return &eventdomain.BillingEvent{
		UUID:       id,
		SKU:        sku,
		Account:    account,
		Quantity:   decimal.NewFromInt(quantity),
		Timestamp:  ts,
		Provenance: eventdomain.ProvenanceExplicit,
	}
}

func TestRecord_FirstWriterWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id := uuid.New()
	ts := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	outcome, err := store.Record(ctx, explicitEvent(id, "acct1", "sku-a", 2, ts))
	require.NoError(t, err)
	assert.Equal(t, eventdomain.Inserted, outcome)

	// Redelivery with a different quantity must be ignored, not applied.
	outcome, err = store.Record(ctx, explicitEvent(id, "acct1", "sku-a", 99, ts))
	require.NoError(t, err)
	assert.Equal(t, eventdomain.DuplicateIgnored, outcome)

	events, err := store.Query(ctx, eventdomain.Filter{Account: "acct1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Quantity.Equal(decimal.NewFromInt(2)), "got %s", events[0].Quantity)
}

func TestRecord_RejectsInvalidEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ts := time.Now().UTC()

	cases := []*eventdomain.BillingEvent{
		nil,
		explicitEvent(uuid.Nil, "acct1", "sku-a", 1, ts),
		explicitEvent(uuid.New(), "", "sku-a", 1, ts),
		explicitEvent(uuid.New(), "acct1", "", 1, ts),
		explicitEvent(uuid.New(), "acct1", "sku-a", -1, ts),
		{UUID: uuid.New(), SKU: "sku-a", Account: "acct1", Quantity: decimal.NewFromInt(1), Timestamp: ts, Provenance: "guessed"},
	}
	for _, event := range cases {
		_, err := store.Record(ctx, event)
		assert.ErrorIs(t, err, eventdomain.ErrInvalidEvent)
	}
}

func TestQuery_FiltersAndOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, key := range []struct {
		account string
		sku     string
	}{
		{"acct1", "sku-a"},
		{"acct1", "sku-b"},
		{"acct2", "sku-a"},
	} {
		_, err := store.Record(ctx, explicitEvent(uuid.New(), key.account, key.sku, 1, base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}

	events, err := store.Query(ctx, eventdomain.Filter{Account: "acct1"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[0].Timestamp.Before(events[1].Timestamp))

	events, err = store.Query(ctx, eventdomain.Filter{Account: "acct1", SKU: "sku-b"})
	require.NoError(t, err)
	require.Len(t, events, 1)

	// From inclusive, To exclusive.
	events, err = store.Query(ctx, eventdomain.Filter{From: base, To: base.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "sku-a", events[0].SKU)
}

func TestQuery_InvalidRange(t *testing.T) {
	store := newTestStore(t)

	from := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	_, err := store.Query(context.Background(), eventdomain.Filter{From: from, To: from.Add(-time.Hour)})
	assert.ErrorIs(t, err, eventdomain.ErrInvalidTimeRange)
}

func TestQuery_AfterCursorPaging(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := store.Record(ctx, explicitEvent(uuid.New(), "acct1", "sku-a", int64(i), base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	var seen []uuid.UUID
	var after *uuid.UUID
	for {
		page, err := store.Query(ctx, eventdomain.Filter{Account: "acct1", Limit: 2, After: after})
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, event := range page {
			seen = append(seen, event.UUID)
		}
		last := page[len(page)-1].UUID
		after = &last
	}

	require.Len(t, seen, 5)
	unique := make(map[uuid.UUID]struct{}, len(seen))
	for _, id := range seen {
		unique[id] = struct{}{}
	}
	assert.Len(t, unique, 5, "paging must not repeat events")
}

func TestHasExplicitInInterval(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	// Estimated events never suppress estimation.
	_, err := store.Record(ctx, &eventdomain.BillingEvent{
		UUID:       uuid.New(),
		SKU:        "sku-a",
		Account:    "acct1",
		Quantity:   decimal.NewFromInt(1),
		Timestamp:  start.Add(time.Hour),
		Provenance: eventdomain.ProvenanceEstimated,
	})
	require.NoError(t, err)

	found, err := store.HasExplicitInInterval(ctx, "acct1", "sku-a", start, end)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = store.Record(ctx, explicitEvent(uuid.New(), "acct1", "sku-a", 1, start.Add(time.Hour)))
	require.NoError(t, err)

	found, err = store.HasExplicitInInterval(ctx, "acct1", "sku-a", start, end)
	require.NoError(t, err)
	assert.True(t, found)

	// End is exclusive.
	found, err = store.HasExplicitInInterval(ctx, "acct1", "sku-a", start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, found)

	// Other keys do not match.
	found, err = store.HasExplicitInInterval(ctx, "acct2", "sku-a", start, end)
	require.NoError(t, err)
	assert.False(t, found)
}
