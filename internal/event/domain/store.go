package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// RecordOutcome reports what an idempotent append did.
type RecordOutcome int

const (
	Inserted RecordOutcome = iota
	DuplicateIgnored
)

// Filter narrows event scans. Zero fields are ignored. From is inclusive, To
// exclusive. After is a paging cursor: the UUID of the last event on the
// previous page, ordered by (timestamp, uuid).
type Filter struct {
	Account      string
	SKU          string
	From         time.Time
	To           time.Time
	ExplicitOnly bool
	Limit        int
	After        *uuid.UUID
}

type Store interface {
	// Record appends event if its UUID is unseen. Uniqueness is enforced by the
	// storage constraint, not a pre-check, so concurrent duplicate deliveries
	// cannot both insert.
	Record(ctx context.Context, event *BillingEvent) (RecordOutcome, error)
	// Query returns matching events ordered by (timestamp, uuid).
	Query(ctx context.Context, filter Filter) ([]BillingEvent, error)
	// Scan streams matching events in (timestamp, uuid) order through fn in a
	// single pass. fn returning an error aborts the scan.
	Scan(ctx context.Context, filter Filter, fn func(BillingEvent) error) error
	// HasExplicitInInterval reports whether any explicit event for the key has
	// a timestamp in [start, end).
	HasExplicitInInterval(ctx context.Context, account, sku string, start, end time.Time) (bool, error)
}

var (
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
)
