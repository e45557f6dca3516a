// Package domain contains the time-partitioned price history per SKU.
package domain

import (
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// PriceRecord is the unit price charged for a SKU during [ValidFrom, ValidUntil).
// ValidUntil is nil for the current price.
//
// Records are created only by administrative action and never updated in place.
// A price change closes the open record's ValidUntil and inserts a new record
// whose ValidFrom matches. The engine only reads this table.
type PriceRecord struct {
	ID         snowflake.ID    `gorm:"primaryKey" json:"id"`
	SKU        string          `gorm:"not null;uniqueIndex:uidx_price_records_sku_valid_from,priority:1" json:"sku"`
	Price      decimal.Decimal `gorm:"type:decimal(18,6);not null" json:"price"`
	ValidFrom  time.Time       `gorm:"not null;uniqueIndex:uidx_price_records_sku_valid_from,priority:2" json:"valid_from"`
	ValidUntil *time.Time      `json:"valid_until"`
	CreatedAt  time.Time       `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (PriceRecord) TableName() string { return "price_records" }

// Covers reports whether ts falls inside the record's validity window.
func (p PriceRecord) Covers(ts time.Time) bool {
	if ts.Before(p.ValidFrom) {
		return false
	}
	return p.ValidUntil == nil || ts.Before(*p.ValidUntil)
}

// History is an in-memory snapshot of price records grouped by SKU. The
// aggregation engine loads one History per query so that per-event resolution
// never goes back to the store.
type History map[string][]PriceRecord

// BuildHistory groups records by SKU and orders each group by ValidFrom.
func BuildHistory(records []PriceRecord) History {
	h := make(History)
	for _, record := range records {
		h[record.SKU] = append(h[record.SKU], record)
	}
	for sku := range h {
		group := h[sku]
		sort.Slice(group, func(i, j int) bool {
			return group[i].ValidFrom.Before(group[j].ValidFrom)
		})
	}
	return h
}

// Resolve returns the price in effect for sku at ts. Gaps in the history and
// never-priced SKUs yield ok=false; the caller must surface that usage as
// unpriced rather than zero-valuing it.
func (h History) Resolve(sku string, ts time.Time) (decimal.Decimal, bool) {
	for _, record := range h[sku] {
		if record.Covers(ts) {
			return record.Price, true
		}
	}
	return decimal.Decimal{}, false
}
