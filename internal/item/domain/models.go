// Package domain contains the catalog of chargeable item types.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// BillingItem is a thing we sell: a unit of CPU time, a unit of storage, etc.
//
// Items are normally pre-created by an operator, but an event referencing an
// unknown SKU auto-creates one with empty name and unit so no usage is lost.
type BillingItem struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	SKU       string       `gorm:"uniqueIndex;not null" json:"sku"`
	Name      string       `gorm:"type:text" json:"name"`
	Unit      string       `gorm:"type:text" json:"unit"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (BillingItem) TableName() string { return "billing_items" }
