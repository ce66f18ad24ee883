package event

import "github.com/google/uuid"

// ClaimDepositYield pays out a lender slot's accumulated fee share.
type ClaimDepositYield struct {
	OpID     uuid.UUID
	Position uuid.UUID
	Lender   uuid.UUID
	Ts       int64
	Seq      int64
}

func (e *ClaimDepositYield) IdempotencyKey() string {
	return e.OpID.String()
}

func (e *ClaimDepositYield) EventType() EventType {
	return EventTypeYieldClaimed
}

func (e *ClaimDepositYield) PositionID() *string {
	s := e.Position.String()
	return &s
}

func (e *ClaimDepositYield) SourceSequence() int64 {
	return e.Seq
}

func (e *ClaimDepositYield) Timestamp() int64 {
	return e.Ts
}

// ClaimYieldAndRepay is the combined borrower operation: claim the loan
// slot's pool-fee yield, then apply a repayment in the same atomic unit
// of work.
type ClaimYieldAndRepay struct {
	OpID           uuid.UUID
	Position       uuid.UUID
	Borrower       uuid.UUID
	LoanSlot       uuid.UUID
	RepayAmount    int64
	RepayRemaining bool
	Ts             int64
	Seq            int64
}

func (e *ClaimYieldAndRepay) IdempotencyKey() string {
	return e.OpID.String()
}

func (e *ClaimYieldAndRepay) EventType() EventType {
	return EventTypeYieldClaimedAndRepaid
}

func (e *ClaimYieldAndRepay) PositionID() *string {
	s := e.Position.String()
	return &s
}

func (e *ClaimYieldAndRepay) SourceSequence() int64 {
	return e.Seq
}

func (e *ClaimYieldAndRepay) Timestamp() int64 {
	return e.Ts
}
