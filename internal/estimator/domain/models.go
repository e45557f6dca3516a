// Package domain contains estimator state for consumption-rate samples.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// RateSample is the last observed consumption rate per (account, SKU). One row
// per key; advancing the state machine overwrites it. Rate is in units per hour.
type RateSample struct {
	Account    string          `gorm:"primaryKey" json:"account"`
	SKU        string          `gorm:"primaryKey" json:"sku"`
	Rate       decimal.Decimal `gorm:"type:decimal(18,6);not null" json:"rate"`
	SampleTime time.Time       `gorm:"not null" json:"sample_time"`
	UpdatedAt  time.Time       `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (RateSample) TableName() string { return "rate_samples" }

// ObservedSample is one inbound consumption-rate observation.
type ObservedSample struct {
	Account   string
	SKU       string
	Rate      decimal.Decimal
	Timestamp time.Time
}

type Service interface {
	// Observe feeds one sample into the per-key state machine. A first sample
	// only seeds state; a later sample closes the interval since the previous
	// one and may emit a synthetic billing event for it. Rejected samples are
	// absorbed here (logged), never surfaced as errors.
	Observe(ctx context.Context, sample ObservedSample) error
}

var (
	ErrInvalidSample = errors.New("invalid_sample")
)
