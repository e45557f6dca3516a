package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SchemaVersion is the envelope contract this consumer understands. A message
// carrying a different version is a producer/consumer contract break and halts
// ingestion rather than being silently dropped.
const SchemaVersion = 1

// Kind is the closed set of message kinds on the billing stream.
type Kind string

const (
	KindBillingEvent Kind = "billing.event"
	KindRateSample   Kind = "rate.sample"
	KindUnknown      Kind = ""
)

var (
	// ErrMalformed marks a message that fails to parse against a compatible
	// schema. Retrying cannot change the outcome; the message is dropped.
	ErrMalformed = errors.New("malformed_message")
	// ErrSchemaMismatch marks an envelope whose schema version this consumer
	// does not speak. Fatal: requires operator intervention.
	ErrSchemaMismatch = errors.New("schema_version_mismatch")
)

type envelope struct {
	Kind   Kind            `json:"kind"`
	Schema int             `json:"schema"`
	Event  *eventPayload   `json:"event,omitempty"`
	Sample *samplePayload  `json:"sample,omitempty"`
	Extra  json.RawMessage `json:"-"`
}

type eventPayload struct {
	EventID   string          `json:"event_id"`
	SKU       string          `json:"sku"`
	Account   string          `json:"account"`
	Quantity  decimal.Decimal `json:"quantity"`
	Timestamp time.Time       `json:"timestamp"`
}

type samplePayload struct {
	SKU       string          `json:"sku"`
	Account   string          `json:"account"`
	Rate      decimal.Decimal `json:"rate"`
	Timestamp time.Time       `json:"timestamp"`
}

// ExplicitEvent is a decoded billing-event message.
type ExplicitEvent struct {
	EventID   uuid.UUID
	SKU       string
	Account   string
	Quantity  decimal.Decimal
	Timestamp time.Time
}

// RateSample is a decoded consumption-rate sample message.
type RateSample struct {
	SKU       string
	Account   string
	Rate      decimal.Decimal
	Timestamp time.Time
}

// Message is the tagged variant the dispatcher switches on. Exactly one of
// Event and Sample is set for a known Kind.
type Message struct {
	Kind   Kind
	Event  *ExplicitEvent
	Sample *RateSample
}

// Decode parses one raw stream payload into a Message. It distinguishes the
// two failure modes the error design cares about: ErrSchemaMismatch for a
// contract break, ErrMalformed for anything retry cannot fix.
func Decode(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Schema != SchemaVersion {
		return Message{}, fmt.Errorf("%w: got schema %d, want %d", ErrSchemaMismatch, env.Schema, SchemaVersion)
	}

	switch env.Kind {
	case KindBillingEvent:
		return decodeEvent(env.Event)
	case KindRateSample:
		return decodeSample(env.Sample)
	default:
		return Message{Kind: KindUnknown}, fmt.Errorf("%w: unknown kind %q", ErrMalformed, env.Kind)
	}
}

func decodeEvent(payload *eventPayload) (Message, error) {
	if payload == nil {
		return Message{}, fmt.Errorf("%w: missing event payload", ErrMalformed)
	}
	id, err := uuid.Parse(strings.TrimSpace(payload.EventID))
	if err != nil {
		return Message{}, fmt.Errorf("%w: bad event_id: %v", ErrMalformed, err)
	}
	sku := strings.TrimSpace(payload.SKU)
	account := strings.TrimSpace(payload.Account)
	if sku == "" || account == "" {
		return Message{}, fmt.Errorf("%w: missing sku or account", ErrMalformed)
	}
	if payload.Quantity.IsNegative() {
		return Message{}, fmt.Errorf("%w: negative quantity", ErrMalformed)
	}
	if payload.Timestamp.IsZero() {
		return Message{}, fmt.Errorf("%w: missing timestamp", ErrMalformed)
	}
	return Message{
		Kind: KindBillingEvent,
		Event: &ExplicitEvent{
			EventID:   id,
			SKU:       sku,
			Account:   account,
			Quantity:  payload.Quantity,
			Timestamp: payload.Timestamp.UTC(),
		},
	}, nil
}

func decodeSample(payload *samplePayload) (Message, error) {
	if payload == nil {
		return Message{}, fmt.Errorf("%w: missing sample payload", ErrMalformed)
	}
	sku := strings.TrimSpace(payload.SKU)
	account := strings.TrimSpace(payload.Account)
	if sku == "" || account == "" {
		return Message{}, fmt.Errorf("%w: missing sku or account", ErrMalformed)
	}
	if payload.Rate.IsNegative() {
		return Message{}, fmt.Errorf("%w: negative rate", ErrMalformed)
	}
	if payload.Timestamp.IsZero() {
		return Message{}, fmt.Errorf("%w: missing timestamp", ErrMalformed)
	}
	return Message{
		Kind: KindRateSample,
		Sample: &RateSample{
			SKU:       sku,
			Account:   account,
			Rate:      payload.Rate,
			Timestamp: payload.Timestamp.UTC(),
		},
	}, nil
}
