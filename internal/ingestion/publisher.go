package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// OutboundPublisher publishes realized results to NATS for downstream
// consumers. Results are published after persistence is confirmed, as
// typed result payloads rather than scraped log lines.
// Subjects follow the pattern: results.{op}
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
}

// PublishableEvent is a processed operation ready for outbound publishing.
type PublishableEvent struct {
	Sequence       int64       `json:"sequence"`
	EventType      string      `json:"event_type"`
	IdempotencyKey string      `json:"idempotency_key"`
	PositionID     *string     `json:"position_id,omitempty"`
	Result         interface{} `json:"result"`
	StateHash      []byte      `json:"state_hash"`
	Timestamp      time.Time   `json:"timestamp"`
}

// resultSubjectToken maps event type names to results.* subject tokens.
var resultSubjectToken = map[string]string{
	"PositionCreated":       "position_created",
	"LiquidityDeposited":    "deposited",
	"LiquidityBorrowed":     "borrowed",
	"LoanRepaid":            "repaid",
	"YieldClaimed":          "yield_claimed",
	"YieldClaimedAndRepaid": "yield_claimed_and_repaid",
	"DepositWithdrawn":      "withdrawn",
	"DebtIndexUpdated":      "debt_index_updated",
	"PositionDeactivated":   "position_deactivated",
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				log.Printf("WARN: outbound publish failed seq=%d: %v", evt.Sequence, err)
				// Non-fatal: downstream consumers can query the event log directly
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	token, ok := resultSubjectToken[evt.EventType]
	if !ok {
		return fmt.Errorf("no result subject for event type %s", evt.EventType)
	}

	subject := fmt.Sprintf("results.%s", token)
	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the realized-results stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "LEND_RESULTS",
		Subjects:  []string{"results.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create results stream: %w", err)
	}
	log.Println("INFO: ensured results stream LEND_RESULTS")
	return nil
}
