package event

import "github.com/google/uuid"

// DepositLiquidity adds liquidity to a position for a lender. The
// single-sided variant carries the oracle's paired-amount estimate;
// the share math is identical either way.
type DepositLiquidity struct {
	OpID     uuid.UUID
	Position uuid.UUID
	Lender   uuid.UUID
	Amount   int64

	// SingleSided deposits supply one token; PairedEstimate is the
	// advisory counterpart amount quoted by the pool oracle.
	SingleSided    bool
	PairedEstimate int64

	Ts  int64
	Seq int64
}

func (e *DepositLiquidity) IdempotencyKey() string {
	return e.OpID.String()
}

func (e *DepositLiquidity) EventType() EventType {
	return EventTypeLiquidityDeposited
}

func (e *DepositLiquidity) PositionID() *string {
	s := e.Position.String()
	return &s
}

func (e *DepositLiquidity) SourceSequence() int64 {
	return e.Seq
}

func (e *DepositLiquidity) Timestamp() int64 {
	return e.Ts
}

// WithdrawDeposit removes liquidity from a lender's slot.
type WithdrawDeposit struct {
	OpID     uuid.UUID
	Position uuid.UUID
	Lender   uuid.UUID
	Amount   int64
	Ts       int64
	Seq      int64
}

func (e *WithdrawDeposit) IdempotencyKey() string {
	return e.OpID.String()
}

func (e *WithdrawDeposit) EventType() EventType {
	return EventTypeDepositWithdrawn
}

func (e *WithdrawDeposit) PositionID() *string {
	s := e.Position.String()
	return &s
}

func (e *WithdrawDeposit) SourceSequence() int64 {
	return e.Seq
}

func (e *WithdrawDeposit) Timestamp() int64 {
	return e.Ts
}
