package event

import "github.com/google/uuid"

// BorrowLiquidity draws a percentage of a position's liquidity for a
// fixed duration.
type BorrowLiquidity struct {
	OpID     uuid.UUID
	Position uuid.UUID
	Borrower uuid.UUID
	LoanSlot uuid.UUID

	// SharePctBps is the fraction of current liquidity to draw.
	SharePctBps int64

	// DurationIdx: 0=0.25y 1=0.5y 2=1y 3=2y.
	DurationIdx uint8

	Ts  int64
	Seq int64
}

func (e *BorrowLiquidity) IdempotencyKey() string {
	return e.OpID.String()
}

func (e *BorrowLiquidity) EventType() EventType {
	return EventTypeLiquidityBorrowed
}

func (e *BorrowLiquidity) PositionID() *string {
	s := e.Position.String()
	return &s
}

func (e *BorrowLiquidity) SourceSequence() int64 {
	return e.Seq
}

func (e *BorrowLiquidity) Timestamp() int64 {
	return e.Ts
}
