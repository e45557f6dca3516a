package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	eventdomain "github.com/usagekit/tally/internal/event/domain"
	"github.com/usagekit/tally/internal/metrics"
	"github.com/usagekit/tally/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultQueryLimit = 5000

type StoreParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

type Store struct {
	db      *gorm.DB
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewStore(p StoreParam) eventdomain.Store {
	return &Store{
		db:      p.DB,
		log:     p.Log.Named("event.store"),
		metrics: p.Metrics,
	}
}

func (s *Store) Record(ctx context.Context, event *eventdomain.BillingEvent) (eventdomain.RecordOutcome, error) {
	if err := validate(event); err != nil {
		return 0, err
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "uuid"}},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		if db.IsDuplicateKeyErr(result.Error) {
			return s.duplicate(event), nil
		}
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return s.duplicate(event), nil
	}

	if s.metrics != nil {
		s.metrics.EventsRecorded.WithLabelValues(string(event.Provenance)).Inc()
	}
	return eventdomain.Inserted, nil
}

func (s *Store) duplicate(event *eventdomain.BillingEvent) eventdomain.RecordOutcome {
	s.log.Debug("ignoring duplicate billing event", zap.String("uuid", event.UUID.String()))
	if s.metrics != nil {
		s.metrics.DuplicateEvents.Inc()
	}
	return eventdomain.DuplicateIgnored
}

func (s *Store) Query(ctx context.Context, filter eventdomain.Filter) ([]eventdomain.BillingEvent, error) {
	query, err := s.buildQuery(ctx, filter)
	if err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	var events []eventdomain.BillingEvent
	if err := query.Limit(limit).Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) Scan(ctx context.Context, filter eventdomain.Filter, fn func(eventdomain.BillingEvent) error) error {
	query, err := s.buildQuery(ctx, filter)
	if err != nil {
		return err
	}

	rows, err := query.Rows()
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var event eventdomain.BillingEvent
		if err := s.db.ScanRows(rows, &event); err != nil {
			return err
		}
		if err := fn(event); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) HasExplicitInInterval(ctx context.Context, account, sku string, start, end time.Time) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&eventdomain.BillingEvent{}).
		Where("account = ? AND sku = ? AND provenance = ? AND timestamp >= ? AND timestamp < ?",
			account, sku, eventdomain.ProvenanceExplicit, start, end).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// buildQuery assembles a scan ordered by (timestamp, uuid). The order is total,
// which makes the After cursor deterministic across pages.
func (s *Store) buildQuery(ctx context.Context, filter eventdomain.Filter) (*gorm.DB, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, eventdomain.ErrInvalidTimeRange
	}

	query := s.db.WithContext(ctx).
		Model(&eventdomain.BillingEvent{}).
		Order("timestamp ASC, uuid ASC")

	if filter.Account != "" {
		query = query.Where("account = ?", filter.Account)
	}
	if filter.SKU != "" {
		query = query.Where("sku = ?", filter.SKU)
	}
	if !filter.From.IsZero() {
		query = query.Where("timestamp >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("timestamp < ?", filter.To)
	}
	if filter.ExplicitOnly {
		query = query.Where("provenance = ?", eventdomain.ProvenanceExplicit)
	}
	if filter.After != nil {
		anchor, err := s.loadAnchor(ctx, *filter.After)
		if err != nil {
			return nil, err
		}
		if anchor != nil {
			query = query.Where(
				"(timestamp > ?) OR (timestamp = ? AND uuid > ?)",
				anchor.Timestamp, anchor.Timestamp, anchor.UUID,
			)
		}
	}
	return query, nil
}

func (s *Store) loadAnchor(ctx context.Context, id uuid.UUID) (*eventdomain.BillingEvent, error) {
	var anchor eventdomain.BillingEvent
	err := s.db.WithContext(ctx).Where("uuid = ?", id).First(&anchor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &anchor, nil
}

func validate(event *eventdomain.BillingEvent) error {
	if event == nil || event.UUID == uuid.Nil {
		return eventdomain.ErrInvalidEvent
	}
	if event.SKU == "" || event.Account == "" {
		return eventdomain.ErrInvalidEvent
	}
	if event.Quantity.IsNegative() {
		return eventdomain.ErrInvalidEvent
	}
	if event.Timestamp.IsZero() {
		return eventdomain.ErrInvalidEvent
	}
	switch event.Provenance {
	case eventdomain.ProvenanceExplicit, eventdomain.ProvenanceEstimated:
	default:
		return eventdomain.ErrInvalidEvent
	}
	return nil
}
