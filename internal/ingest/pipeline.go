package ingest

import (
	"context"
	"errors"

	estimatordomain "github.com/usagekit/tally/internal/estimator/domain"
	eventdomain "github.com/usagekit/tally/internal/event/domain"
	itemdomain "github.com/usagekit/tally/internal/item/domain"
	"github.com/usagekit/tally/internal/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type PipelineParam struct {
	fx.In

	Log       *zap.Logger
	Items     itemdomain.Service
	Events    eventdomain.Store
	Estimator estimatordomain.Service
	Metrics   *metrics.Metrics `optional:"true"`
}

// Pipeline applies one inbound message to the stores. Every step is
// idempotent, so a message that fails partway is safe to replay: item
// registration is insert-or-ignore and event recording dedups on UUID. There
// is no cross-message transaction.
type Pipeline struct {
	log       *zap.Logger
	items     itemdomain.Service
	events    eventdomain.Store
	estimator estimatordomain.Service
	metrics   *metrics.Metrics
}

func NewPipeline(p PipelineParam) *Pipeline {
	return &Pipeline{
		log:       p.Log.Named("ingest.pipeline"),
		items:     p.Items,
		events:    p.Events,
		estimator: p.Estimator,
		metrics:   p.Metrics,
	}
}

// Process handles one raw message. A nil return means the message is done
// (applied or dropped) and must be acked. ErrSchemaMismatch propagates so the
// consumer halts. Any other error is transient and the caller retries.
func (p *Pipeline) Process(ctx context.Context, raw []byte) error {
	msg, err := Decode(raw)
	if err != nil {
		if errors.Is(err, ErrSchemaMismatch) {
			return err
		}
		p.log.Warn("dropping malformed message", zap.Error(err))
		if p.metrics != nil {
			p.metrics.MalformedMessages.Inc()
		}
		return nil
	}

	switch msg.Kind {
	case KindBillingEvent:
		return p.applyEvent(ctx, msg.Event)
	case KindRateSample:
		return p.applySample(ctx, msg.Sample)
	default:
		return nil
	}
}

func (p *Pipeline) applyEvent(ctx context.Context, event *ExplicitEvent) error {
	if _, err := p.items.EnsureItem(ctx, event.SKU); err != nil {
		return err
	}

	outcome, err := p.events.Record(ctx, &eventdomain.BillingEvent{
		UUID:       event.EventID,
		SKU:        event.SKU,
		Account:    event.Account,
		Quantity:   event.Quantity,
		Timestamp:  event.Timestamp,
		Provenance: eventdomain.ProvenanceExplicit,
	})
	if err != nil {
		return err
	}

	if outcome == eventdomain.DuplicateIgnored {
		p.log.Info("received duplicate billing event", zap.String("uuid", event.EventID.String()))
	} else {
		p.log.Debug("recorded billing event", zap.String("uuid", event.EventID.String()))
	}
	return nil
}

func (p *Pipeline) applySample(ctx context.Context, sample *RateSample) error {
	if _, err := p.items.EnsureItem(ctx, sample.SKU); err != nil {
		return err
	}

	err := p.estimator.Observe(ctx, estimatordomain.ObservedSample{
		Account:   sample.Account,
		SKU:       sample.SKU,
		Rate:      sample.Rate,
		Timestamp: sample.Timestamp,
	})
	if errors.Is(err, estimatordomain.ErrInvalidSample) {
		p.log.Warn("dropping invalid rate sample",
			zap.String("account", sample.Account),
			zap.String("sku", sample.SKU),
		)
		if p.metrics != nil {
			p.metrics.MalformedMessages.Inc()
		}
		return nil
	}
	return err
}
