// Package domain contains the time-bucketed aggregation query surface.
package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Width is a bucket width: either a fixed duration or a calendar unit.
// Calendar units exist because months are not fixed durations.
type Width struct {
	Duration time.Duration
	Calendar CalendarUnit
}

type CalendarUnit string

const (
	CalendarNone  CalendarUnit = ""
	CalendarDay   CalendarUnit = "day"
	CalendarWeek  CalendarUnit = "week"
	CalendarMonth CalendarUnit = "month"
)

// ParseWidth accepts a Go duration string ("1h", "15m") or one of the calendar
// units "day", "week", "month".
func ParseWidth(raw string) (Width, error) {
	switch CalendarUnit(strings.ToLower(strings.TrimSpace(raw))) {
	case CalendarDay:
		return Width{Calendar: CalendarDay}, nil
	case CalendarWeek:
		return Width{Calendar: CalendarWeek}, nil
	case CalendarMonth:
		return Width{Calendar: CalendarMonth}, nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return Width{}, ErrInvalidBucketWidth
	}
	return Width{Duration: d}, nil
}

// Floor returns the start of the bucket containing ts. Duration widths floor
// against the Unix epoch; calendar widths floor against UTC calendar
// boundaries (weeks start Monday).
func (w Width) Floor(ts time.Time) time.Time {
	ts = ts.UTC()
	switch w.Calendar {
	case CalendarDay:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	case CalendarWeek:
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case CalendarMonth:
		return time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return ts.Truncate(w.Duration)
	}
}

// Next returns the start of the bucket after bucketStart.
func (w Width) Next(bucketStart time.Time) time.Time {
	switch w.Calendar {
	case CalendarDay:
		return bucketStart.AddDate(0, 0, 1)
	case CalendarWeek:
		return bucketStart.AddDate(0, 0, 7)
	case CalendarMonth:
		return bucketStart.AddDate(0, 1, 0)
	default:
		return bucketStart.Add(w.Duration)
	}
}

func (w Width) valid() bool {
	return w.Calendar != CalendarNone || w.Duration > 0
}

// Request describes one aggregation query. Account and SKU filters are
// optional; From is inclusive, To exclusive.
type Request struct {
	Account      string
	SKU          string
	From         time.Time
	To           time.Time
	BucketWidth  Width
	ExplicitOnly bool
}

func (r Request) Validate() error {
	if r.From.IsZero() || r.To.IsZero() || r.To.Before(r.From) {
		return ErrInvalidTimeRange
	}
	if !r.BucketWidth.valid() {
		return ErrInvalidBucketWidth
	}
	return nil
}

// Bucket is one aggregated time slice. UnpricedQuantity carries usage with no
// price in effect at the event timestamp; it is reported rather than folded
// into TotalValue as zero.
type Bucket struct {
	BucketStart      time.Time       `json:"bucket_start"`
	TotalQuantity    decimal.Decimal `json:"total_quantity"`
	TotalValue       decimal.Decimal `json:"total_value"`
	UnpricedQuantity decimal.Decimal `json:"unpriced_quantity"`
}

type Service interface {
	// Aggregate sums priced usage per bucket over [From, To). The returned
	// buckets cover the range in order, empty buckets included.
	Aggregate(ctx context.Context, req Request) ([]Bucket, error)
}

var (
	ErrInvalidTimeRange   = errors.New("invalid_time_range")
	ErrInvalidBucketWidth = errors.New("invalid_bucket_width")
)
