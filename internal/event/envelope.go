package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePositionCreated
	EventTypeLiquidityDeposited
	EventTypeLiquidityBorrowed
	EventTypeLoanRepaid
	EventTypeYieldClaimed
	EventTypeYieldClaimedAndRepaid
	EventTypeDepositWithdrawn
	EventTypeDebtIndexUpdated
	EventTypePositionDeactivated
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Position context (nullable for global events)
	PositionID *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded realized result (what projections fold)
	Payload []byte

	// JSON-encoded originating operation, retained so the core can
	// re-process the log on restart. Empty for derived entries.
	OpPayload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all operation events must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// PositionID returns the position context (nil for global events)
	PositionID() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// Timestamp returns the versioned input time in unix seconds.
	// The core never reads a wall clock.
	Timestamp() int64
}

// DecodeOp unmarshals a stored operation payload back into the typed
// event that produced the given event type. Derived types (the accrual
// entry) have no originating operation.
func DecodeOp(t EventType, data []byte) (Event, error) {
	var evt Event
	switch t {
	case EventTypePositionCreated:
		evt = &CreatePosition{}
	case EventTypeLiquidityDeposited:
		evt = &DepositLiquidity{}
	case EventTypeLiquidityBorrowed:
		evt = &BorrowLiquidity{}
	case EventTypeLoanRepaid:
		evt = &RepayLoan{}
	case EventTypeYieldClaimed:
		evt = &ClaimDepositYield{}
	case EventTypeYieldClaimedAndRepaid:
		evt = &ClaimYieldAndRepay{}
	case EventTypeDepositWithdrawn:
		evt = &WithdrawDeposit{}
	case EventTypePositionDeactivated:
		evt = &DeactivatePosition{}
	default:
		return nil, fmt.Errorf("no operation for event type %s", t)
	}
	if err := json.Unmarshal(data, evt); err != nil {
		return nil, fmt.Errorf("decode %s op: %w", t, err)
	}
	return evt, nil
}

// EventTypeFromString reverses String for log replay.
func EventTypeFromString(s string) EventType {
	switch s {
	case "PositionCreated":
		return EventTypePositionCreated
	case "LiquidityDeposited":
		return EventTypeLiquidityDeposited
	case "LiquidityBorrowed":
		return EventTypeLiquidityBorrowed
	case "LoanRepaid":
		return EventTypeLoanRepaid
	case "YieldClaimed":
		return EventTypeYieldClaimed
	case "YieldClaimedAndRepaid":
		return EventTypeYieldClaimedAndRepaid
	case "DepositWithdrawn":
		return EventTypeDepositWithdrawn
	case "DebtIndexUpdated":
		return EventTypeDebtIndexUpdated
	case "PositionDeactivated":
		return EventTypePositionDeactivated
	default:
		return EventTypeUnknown
	}
}

func (et EventType) String() string {
	switch et {
	case EventTypePositionCreated:
		return "PositionCreated"
	case EventTypeLiquidityDeposited:
		return "LiquidityDeposited"
	case EventTypeLiquidityBorrowed:
		return "LiquidityBorrowed"
	case EventTypeLoanRepaid:
		return "LoanRepaid"
	case EventTypeYieldClaimed:
		return "YieldClaimed"
	case EventTypeYieldClaimedAndRepaid:
		return "YieldClaimedAndRepaid"
	case EventTypeDepositWithdrawn:
		return "DepositWithdrawn"
	case EventTypeDebtIndexUpdated:
		return "DebtIndexUpdated"
	case EventTypePositionDeactivated:
		return "PositionDeactivated"
	default:
		return "Unknown"
	}
}
