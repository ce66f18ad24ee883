package event

import "github.com/google/uuid"

// RepayLoan pays down a loan slot. RepayRemaining clamps the amount to
// the current debt; without it an overpayment is rejected.
type RepayLoan struct {
	OpID           uuid.UUID
	Position       uuid.UUID
	Borrower       uuid.UUID
	LoanSlot       uuid.UUID
	Amount         int64
	RepayRemaining bool
	Ts             int64
	Seq            int64
}

func (e *RepayLoan) IdempotencyKey() string {
	return e.OpID.String()
}

func (e *RepayLoan) EventType() EventType {
	return EventTypeLoanRepaid
}

func (e *RepayLoan) PositionID() *string {
	s := e.Position.String()
	return &s
}

func (e *RepayLoan) SourceSequence() int64 {
	return e.Seq
}

func (e *RepayLoan) Timestamp() int64 {
	return e.Ts
}
