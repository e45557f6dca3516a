// Package domain contains the append-only billing event ledger.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Provenance tags how an event entered the ledger.
type Provenance string

const (
	// ProvenanceExplicit marks usage reported directly by a producer.
	ProvenanceExplicit Provenance = "explicit"
	// ProvenanceEstimated marks usage synthesized from consumption-rate samples.
	ProvenanceEstimated Provenance = "estimated"
)

// BillingEvent records one account's consumption of one SKU at one instant.
// The UUID is caller-supplied and globally unique; a second event with the same
// UUID is ignored and the original retained unchanged. Rows are immutable and
// never deleted by the engine.
//
// The (account, sku, timestamp) index backs both the estimator's overlap probe
// and the aggregation engine's range scans. It is load-bearing, not optional.
type BillingEvent struct {
	UUID       uuid.UUID       `gorm:"type:uuid;primaryKey" json:"uuid"`
	SKU        string          `gorm:"not null;index:idx_billing_events_account_sku_ts,priority:2" json:"sku"`
	Account    string          `gorm:"not null;index:idx_billing_events_account_sku_ts,priority:1" json:"account"`
	Quantity   decimal.Decimal `gorm:"type:decimal(18,6);not null" json:"quantity"`
	Timestamp  time.Time       `gorm:"not null;index;index:idx_billing_events_account_sku_ts,priority:3" json:"timestamp"`
	Provenance Provenance      `gorm:"type:text;not null" json:"provenance"`
	CreatedAt  time.Time       `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (BillingEvent) TableName() string { return "billing_events" }
