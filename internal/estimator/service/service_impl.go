package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/usagekit/tally/internal/clock"
	estimatordomain "github.com/usagekit/tally/internal/estimator/domain"
	eventdomain "github.com/usagekit/tally/internal/event/domain"
	"github.com/usagekit/tally/internal/metrics"
	"github.com/usagekit/tally/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// estimateNamespace seeds the deterministic UUIDs of synthetic events. It must
// never change: reprocessing the same two samples has to reproduce the same
// UUID so the event store dedups the redelivery.
var estimateNamespace = uuid.MustParse("9f2c1b54-7a43-4c8e-9d16-3f8a20c4e7b1")

// maxFutureSkew bounds how far ahead of the wall clock a sample may claim to be.
const maxFutureSkew = 24 * time.Hour

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Events  eventdomain.Store
	Clock   clock.Clock
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	events  eventdomain.Store
	clock   clock.Clock
	metrics *metrics.Metrics
}

func NewService(p ServiceParam) estimatordomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("estimator.service"),
		events:  p.Events,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

func (s *Service) Observe(ctx context.Context, sample estimatordomain.ObservedSample) error {
	if err := s.check(sample); err != nil {
		return err
	}

	prev, err := s.loadState(ctx, sample.Account, sample.SKU)
	if err != nil {
		return err
	}
	if prev == nil {
		return s.seed(ctx, sample)
	}

	if !sample.Timestamp.After(prev.SampleTime) {
		s.log.Warn("rejecting non-monotonic rate sample",
			zap.String("account", sample.Account),
			zap.String("sku", sample.SKU),
			zap.Time("sample_time", sample.Timestamp),
			zap.Time("last_sample_time", prev.SampleTime),
		)
		if s.metrics != nil {
			s.metrics.RejectedSamples.Inc()
		}
		return nil
	}

	if err := s.closeInterval(ctx, prev, sample); err != nil {
		return err
	}
	return s.advance(ctx, prev, sample)
}

func (s *Service) check(sample estimatordomain.ObservedSample) error {
	if strings.TrimSpace(sample.Account) == "" || strings.TrimSpace(sample.SKU) == "" {
		return estimatordomain.ErrInvalidSample
	}
	if sample.Rate.IsNegative() {
		return estimatordomain.ErrInvalidSample
	}
	if sample.Timestamp.IsZero() {
		return estimatordomain.ErrInvalidSample
	}
	if sample.Timestamp.After(s.clock.Now().Add(maxFutureSkew)) {
		return estimatordomain.ErrInvalidSample
	}
	return nil
}

func (s *Service) loadState(ctx context.Context, account, sku string) (*estimatordomain.RateSample, error) {
	var state estimatordomain.RateSample
	err := s.db.WithContext(ctx).
		Where("account = ? AND sku = ?", account, sku).
		First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &state, nil
}

// seed stores the first sample for a key. It produces no event; the first
// interval opens here and closes with the next sample.
func (s *Service) seed(ctx context.Context, sample estimatordomain.ObservedSample) error {
	state := estimatordomain.RateSample{
		Account:    sample.Account,
		SKU:        sample.SKU,
		Rate:       sample.Rate,
		SampleTime: sample.Timestamp.UTC(),
		UpdatedAt:  s.clock.Now(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account"}, {Name: "sku"}},
			DoNothing: true,
		}).
		Create(&state).Error
	if err != nil && !db.IsDuplicateKeyErr(err) {
		return err
	}
	return nil
}

// closeInterval evaluates [prev.SampleTime, sample.Timestamp). The rate that
// held during the interval is the earlier sample's. If any explicit event for
// the key falls inside the interval, the synthetic event is suppressed
// entirely: explicit reporting takes precedence for any interval it covers.
func (s *Service) closeInterval(ctx context.Context, prev *estimatordomain.RateSample, sample estimatordomain.ObservedSample) error {
	start := prev.SampleTime.UTC()
	end := sample.Timestamp.UTC()

	covered, err := s.events.HasExplicitInInterval(ctx, sample.Account, sample.SKU, start, end)
	if err != nil {
		return err
	}
	if covered {
		s.log.Debug("suppressing estimate, interval covered by explicit event",
			zap.String("account", sample.Account),
			zap.String("sku", sample.SKU),
			zap.Time("interval_start", start),
			zap.Time("interval_end", end),
		)
		if s.metrics != nil {
			s.metrics.SuppressedIntervals.Inc()
		}
		return nil
	}

	elapsedHours := decimal.NewFromFloat(end.Sub(start).Hours())
	synthetic := eventdomain.BillingEvent{
		UUID:       SyntheticEventID(sample.Account, sample.SKU, start, end),
		SKU:        sample.SKU,
		Account:    sample.Account,
		Quantity:   prev.Rate.Mul(elapsedHours),
		Timestamp:  start,
		Provenance: eventdomain.ProvenanceEstimated,
	}

	outcome, err := s.events.Record(ctx, &synthetic)
	if err != nil {
		return err
	}
	if outcome == eventdomain.Inserted && s.metrics != nil {
		s.metrics.EstimatedEvents.Inc()
	}
	return nil
}

// advance moves the state machine to the new sample. The guard on sample_time
// tolerates a concurrent writer that advanced past us: the later state wins.
func (s *Service) advance(ctx context.Context, prev *estimatordomain.RateSample, sample estimatordomain.ObservedSample) error {
	return s.db.WithContext(ctx).
		Model(&estimatordomain.RateSample{}).
		Where("account = ? AND sku = ? AND sample_time < ?", sample.Account, sample.SKU, sample.Timestamp.UTC()).
		Updates(map[string]any{
			"rate":        sample.Rate,
			"sample_time": sample.Timestamp.UTC(),
			"updated_at":  s.clock.Now(),
		}).Error
}

// SyntheticEventID derives the stable UUID of the estimated event for one key
// and interval. It is a pure function of its inputs.
func SyntheticEventID(account, sku string, start, end time.Time) uuid.UUID {
	name := account + "\x00" + sku + "\x00" +
		start.UTC().Format(time.RFC3339Nano) + "\x00" +
		end.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(estimateNamespace, []byte(name))
}
