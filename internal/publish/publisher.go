// Package publish sends committed ledger events to NATS JetStream for
// downstream consumers.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"DiceLedger/internal/ledger"
	"DiceLedger/internal/observability"
)

// Subjects follow the pattern dice.ledger.events.{event_type}.
const subjectPrefix = "dice.ledger.events"

// OutboundMessage is the wire shape of one published event.
type OutboundMessage struct {
	Sequence       int64       `json:"sequence"`
	EventType      string      `json:"event_type"`
	IdempotencyKey string      `json:"idempotency_key"`
	Payload        interface{} `json:"payload"`
	StateHash      []byte      `json:"state_hash,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

// OutboundPublisher drains the publish channel and sends each event to
// JetStream. Publishing is best-effort: the ledger drops on a full channel
// and a failed publish is logged, not retried — consumers needing the
// complete record read the game log.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan ledger.Output
	metrics   *observability.Metrics
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan ledger.Output, metrics *observability.Metrics) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
	}
}

// Run starts the publisher loop. Blocks until ctx is cancelled or the
// channel closes.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, out); err != nil {
				log.Printf("WARN: outbound publish failed seq=%d: %v", out.Envelope.Sequence, err)
				if op.metrics != nil {
					op.metrics.PublishErrors.Inc()
				}
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out ledger.Output) error {
	env := out.Envelope
	msg := OutboundMessage{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Payload:        out.Payload,
		Timestamp:      env.Timestamp,
	}
	if env.StateHash != [32]byte{} {
		h := env.StateHash
		msg.StateHash = h[:]
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", subjectPrefix, msg.EventType)
	if _, err := op.js.Publish(ctx, subject, data); err != nil {
		return err
	}

	if op.metrics != nil {
		op.metrics.EventsPublished.WithLabelValues(msg.EventType).Inc()
	}
	return nil
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "DICE_LEDGER_EVENTS",
		Subjects:  []string{subjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Println("INFO: ensured outbound stream DICE_LEDGER_EVENTS")
	return nil
}
