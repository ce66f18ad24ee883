package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/firyx-protocol/lendcore/internal/event"
)

// GRPCIngestService provides admin/manual operation injection. This is
// for admin operations and low-volume direct submission, not for
// high-throughput ingestion (use NATS for that).
type GRPCIngestService struct {
	eventChan chan<- event.Event
}

func NewGRPCIngestService(eventChan chan<- event.Event) *GRPCIngestService {
	return &GRPCIngestService{eventChan: eventChan}
}

// SubmitOperation parses an operation payload for the given type and
// queues it for the core. The payload format matches the NATS wire
// format exactly.
func (s *GRPCIngestService) SubmitOperation(ctx context.Context, opType string, payload []byte) error {
	evt, err := ParseRawEvent(RawEvent{Data: payload}, opType)
	if err != nil {
		return err
	}
	return s.enqueue(ctx, evt)
}

// SubmitDescriptor parses a generic {function, arguments} descriptor and
// queues the resolved operation.
func (s *GRPCIngestService) SubmitDescriptor(ctx context.Context, raw []byte) error {
	var desc OpDescriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return fmt.Errorf("parse descriptor: %w", err)
	}
	evt, err := ParseDescriptor(desc)
	if err != nil {
		return err
	}
	return s.enqueue(ctx, evt)
}

// InjectDeactivatePosition queues the admin wind-down operation for a
// position. The sequence must continue the position's ops partition.
func (s *GRPCIngestService) InjectDeactivatePosition(ctx context.Context, positionID uuid.UUID, seq int64) error {
	evt := &event.DeactivatePosition{
		OpID:     uuid.New(),
		Position: positionID,
		Ts:       time.Now().Unix(),
		Seq:      seq,
	}
	return s.enqueue(ctx, evt)
}

func (s *GRPCIngestService) enqueue(ctx context.Context, evt event.Event) error {
	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
