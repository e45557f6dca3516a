package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/usagekit/tally/internal/config"
	"github.com/usagekit/tally/internal/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// PayloadField is the stream entry field carrying the JSON envelope.
const PayloadField = "payload"

type ConsumerParam struct {
	fx.In

	Config   config.Config
	Log      *zap.Logger
	Redis    *redis.Client
	Pipeline *Pipeline
	Metrics  *metrics.Metrics `optional:"true"`
}

// Consumer reads the billing stream through a consumer group. One consumer per
// partition processes entries sequentially, which preserves delivery order per
// key; scaling out means more groups members on more partitions, never shared
// mutable state beyond the backing store.
type Consumer struct {
	cfg      config.IngestConfig
	log      *zap.Logger
	rdb      *redis.Client
	pipeline *Pipeline
	metrics  *metrics.Metrics
}

func NewConsumer(p ConsumerParam) *Consumer {
	return &Consumer{
		cfg:      p.Config.Ingest,
		log:      p.Log.Named("ingest.consumer"),
		rdb:      p.Redis,
		pipeline: p.Pipeline,
		metrics:  p.Metrics,
	}
}

// Run consumes until ctx is canceled or the stream contract breaks.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if _, err := c.poll(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			if errors.Is(err, ErrSchemaMismatch) {
				c.log.Error("billing stream contract break, halting consumer", zap.Error(err))
				return err
			}
			c.log.Warn("stream read failed, backing off", zap.Error(err))
			if !sleepCtx(ctx, c.cfg.Backoff) {
				return nil
			}
		}
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// poll reads and applies one batch. It returns the number of entries handled.
func (c *Consumer) poll(ctx context.Context) (int, error) {
	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    int64(c.cfg.BatchSize),
		Block:    c.cfg.BlockFor,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}

	handled := 0
	for _, stream := range streams {
		for _, entry := range stream.Messages {
			if err := c.handle(ctx, entry); err != nil {
				return handled, err
			}
			handled++
		}
	}
	return handled, nil
}

// handle applies one entry with bounded retry, then acks. A message that still
// fails after the retry budget is poison: logged, counted and skipped so one
// bad entry cannot stall the whole partition.
func (c *Consumer) handle(ctx context.Context, entry redis.XMessage) error {
	raw, ok := entry.Values[PayloadField].(string)
	if !ok {
		c.log.Warn("dropping stream entry without payload", zap.String("entry_id", entry.ID))
		if c.metrics != nil {
			c.metrics.MalformedMessages.Inc()
		}
		return c.ack(ctx, entry.ID)
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if !sleepCtx(ctx, backoffDelay(c.cfg.Backoff, attempt)) {
				return ctx.Err()
			}
		}

		lastErr = c.pipeline.Process(ctx, []byte(raw))
		if lastErr == nil {
			return c.ack(ctx, entry.ID)
		}
		if errors.Is(lastErr, ErrSchemaMismatch) {
			// Do not ack: the message must survive for schema reconciliation.
			return lastErr
		}
		c.log.Warn("retrying message",
			zap.String("entry_id", entry.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}

	c.log.Error("poison message, skipping after retries",
		zap.String("entry_id", entry.ID),
		zap.Error(lastErr),
	)
	if c.metrics != nil {
		c.metrics.PoisonMessages.Inc()
	}
	return c.ack(ctx, entry.ID)
}

func (c *Consumer) ack(ctx context.Context, entryID string) error {
	return c.rdb.XAck(ctx, c.cfg.Stream, c.cfg.Group, entryID).Err()
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
